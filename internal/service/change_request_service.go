package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/repair-service/internal/domain"
	"github.com/spec-kit/repair-service/internal/events"
	"github.com/spec-kit/repair-service/internal/repository"
	apperrors "github.com/spec-kit/repair-service/pkg/util"
)

// ChangeRequestService runs the two-outcome approval workflow for warranty
// replacements, credit notes and typology corrections.
type ChangeRequestService struct {
	requests   repository.ChangeRequestRepository
	incidents  repository.IncidentRepository
	history    repository.IncidentHistoryRepository
	tx         repository.TxManager
	dispatcher events.Dispatcher
}

// ChangeRequestDependencies bundles repositories.
type ChangeRequestDependencies struct {
	RequestRepo  repository.ChangeRequestRepository
	IncidentRepo repository.IncidentRepository
	HistoryRepo  repository.IncidentHistoryRepository
	Tx           repository.TxManager
	Dispatcher   events.Dispatcher
}

// ChangeRequestInput describes a submission.
type ChangeRequestInput struct {
	IncidentID    string
	Type          domain.ChangeRequestType
	Justification string
	EvidenceKeys  []string
}

// NewChangeRequestService constructs the service.
func NewChangeRequestService(deps ChangeRequestDependencies) *ChangeRequestService {
	return &ChangeRequestService{
		requests:   deps.RequestRepo,
		incidents:  deps.IncidentRepo,
		history:    deps.HistoryRepo,
		tx:         deps.Tx,
		dispatcher: deps.Dispatcher,
	}
}

// Submit creates a pending change request and moves the incident to
// PENDING_APPROVAL. Only the technician holding the incident may submit.
func (s *ChangeRequestService) Submit(ctx context.Context, technician *domain.Staff, input ChangeRequestInput) (*domain.ChangeRequest, error) {
	if technician == nil {
		return nil, apperrors.NewUnauthorized("technician required")
	}
	if strings.TrimSpace(input.Justification) == "" {
		return nil, apperrors.NewValidationError("justification required", nil)
	}
	switch input.Type {
	case domain.ChangeTypeWarrantyReplacement, domain.ChangeTypeCreditNote, domain.ChangeTypeTypology:
	default:
		return nil, apperrors.NewValidationError("unknown change request type", map[string]any{"type": input.Type})
	}

	incident, err := s.incidents.GetByID(ctx, input.IncidentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("incident", map[string]any{"incident_id": input.IncidentID})
		}
		return nil, apperrors.MapError(err)
	}
	if !incident.Assigned() || *incident.TechnicianID != technician.ID {
		return nil, apperrors.NewNotAssigned(input.IncidentID)
	}
	if !domain.CanApply(incident.State, domain.EventRequestApproval) {
		return nil, apperrors.NewIllegalTransition(string(incident.State), string(domain.EventRequestApproval))
	}

	if pending, err := s.requests.GetPendingByIncident(ctx, input.IncidentID); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.MapError(err)
	} else if pending != nil {
		return nil, apperrors.NewConflict("change request already pending", map[string]any{
			"incident_id":       input.IncidentID,
			"change_request_id": pending.ID,
		})
	}

	request := &domain.ChangeRequest{
		IncidentID:    input.IncidentID,
		Type:          input.Type,
		Justification: strings.TrimSpace(input.Justification),
		EvidenceKeys:  input.EvidenceKeys,
		RequestedByID: technician.ID,
		State:         domain.ChangeRequestPending,
	}

	// The request insert and the parent transition commit together: a lost
	// race on either statement rolls both back, so no pending request can
	// exist without the incident sitting in PENDING_APPROVAL.
	next, _ := domain.NextState(incident.State, domain.EventRequestApproval)
	err = s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		if err := s.requests.WithTx(tx).Create(ctx, request); err != nil {
			if errors.Is(err, repository.ErrPendingRequestExists) {
				return apperrors.NewConflict("change request already pending", map[string]any{"incident_id": input.IncidentID})
			}
			return err
		}
		if err := s.incidents.WithTx(tx).UpdateState(ctx, incident.ID, incident.State, next); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NewConflict("incident changed concurrently", map[string]any{"incident_id": incident.ID})
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	s.recordStatus(ctx, &technician.ID, incident.ID, incident.State, next, string(domain.EventRequestApproval))
	s.publish(ctx, events.Event{
		Type:       events.EventChangeRequestCreated,
		IncidentID: incident.ID,
		ActorID:    &technician.ID,
		Payload: events.ChangeRequestCreatedPayload{
			ChangeRequestID: request.ID,
			Type:            request.Type,
		},
	})
	return request, nil
}

// Resolve records the single outcome of a pending request and drives the
// parent incident's transition deterministically from the request type.
func (s *ChangeRequestService) Resolve(ctx context.Context, approver *domain.Staff, requestID string, approve bool, comments string) (*domain.ChangeRequest, error) {
	if approver == nil {
		return nil, apperrors.NewUnauthorized("approver required")
	}
	comments = strings.TrimSpace(comments)
	if !approve && comments == "" {
		return nil, apperrors.NewCommentsRequired()
	}

	outcome := domain.ChangeRequestApproved
	if !approve {
		outcome = domain.ChangeRequestRejected
	}

	// Outcome write, parent transition and warranty flag commit together; a
	// failed transition rolls the request back to pending.
	var (
		request  *domain.ChangeRequest
		incident *domain.Incident
		next     domain.IncidentState
		event    domain.IncidentEvent
	)
	err := s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		var err error
		request, err = s.requests.WithTx(tx).Resolve(ctx, requestID, outcome, approver.ID, comments)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				existing, getErr := s.requests.WithTx(tx).GetByID(ctx, requestID)
				if getErr != nil {
					if errors.Is(getErr, pgx.ErrNoRows) {
						return apperrors.NewNotFound("change request", map[string]any{"change_request_id": requestID})
					}
					return getErr
				}
				return apperrors.NewConflict("change request already resolved", map[string]any{
					"change_request_id": requestID,
					"state":             existing.State,
				})
			}
			return err
		}

		incident, err = s.incidents.WithTx(tx).GetByID(ctx, request.IncidentID)
		if err != nil {
			return err
		}

		event = request.OutcomeEvent(approve)
		var ok bool
		next, ok = domain.NextState(incident.State, event)
		if !ok {
			return apperrors.NewIllegalTransition(string(incident.State), string(event))
		}
		if err := s.incidents.WithTx(tx).UpdateState(ctx, incident.ID, incident.State, next); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NewConflict("incident changed concurrently", map[string]any{"incident_id": incident.ID})
			}
			return err
		}

		if request.Type == domain.ChangeTypeWarrantyReplacement {
			if err := s.incidents.WithTx(tx).SetWarrantyApplies(ctx, incident.ID, approve); err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	if request.Type == domain.ChangeTypeWarrantyReplacement {
		s.recordWarrantyFlag(ctx, &approver.ID, incident.ID, approve)
	}
	s.recordStatus(ctx, &approver.ID, incident.ID, incident.State, next, string(event))
	s.publish(ctx, events.Event{
		Type:       events.EventChangeRequestResolved,
		IncidentID: incident.ID,
		ActorID:    &approver.ID,
		Payload: events.ChangeRequestResolvedPayload{
			ChangeRequestID: request.ID,
			Type:            request.Type,
			Outcome:         outcome,
			Comments:        comments,
		},
	})
	return request, nil
}

// ListByIncident returns all requests for an incident, oldest first.
func (s *ChangeRequestService) ListByIncident(ctx context.Context, incidentID string) ([]domain.ChangeRequest, error) {
	return s.requests.ListByIncident(ctx, incidentID)
}

func (s *ChangeRequestService) recordStatus(ctx context.Context, actorID *string, incidentID string, oldState, newState domain.IncidentState, comment string) {
	if s.history == nil {
		return
	}
	_ = s.history.Create(ctx, &domain.IncidentHistory{
		IncidentID:  incidentID,
		ChangedByID: actorID,
		ChangeType:  domain.ChangeTypeStatus,
		OldValue: map[string]any{
			"state": oldState,
		},
		NewValue: map[string]any{
			"state":   newState,
			"comment": comment,
		},
	})
}

func (s *ChangeRequestService) recordWarrantyFlag(ctx context.Context, actorID *string, incidentID string, value bool) {
	if s.history == nil {
		return
	}
	_ = s.history.Create(ctx, &domain.IncidentHistory{
		IncidentID:  incidentID,
		ChangedByID: actorID,
		ChangeType:  domain.ChangeTypeWarrantyFlag,
		OldValue:    map[string]any{},
		NewValue:    map[string]any{"warranty_applies": value},
	})
}

func (s *ChangeRequestService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = s.dispatcher.Publish(ctx, event)
}
