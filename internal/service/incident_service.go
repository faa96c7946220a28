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

// IncidentService coordinates intake and lifecycle transitions.
type IncidentService struct {
	incidents      repository.IncidentRepository
	changeRequests repository.ChangeRequestRepository
	recurrences    repository.RecurrenceRepository
	history        repository.IncidentHistoryRepository
	resolver       *FamilyResolver
	dispatcher     events.Dispatcher
}

// IncidentDependencies bundles repositories for the incident service.
type IncidentDependencies struct {
	IncidentRepo      repository.IncidentRepository
	ChangeRequestRepo repository.ChangeRequestRepository
	RecurrenceRepo    repository.RecurrenceRepository
	HistoryRepo       repository.IncidentHistoryRepository
	Resolver          *FamilyResolver
	Dispatcher        events.Dispatcher
}

// IncidentCreateInput describes intake payload.
type IncidentCreateInput struct {
	ProductID          string
	CustomerID         string
	ServiceCenterID    string
	IsRecurrence       bool
	ProblemDescription string
}

// NewIncidentService constructs the service.
func NewIncidentService(deps IncidentDependencies) *IncidentService {
	return &IncidentService{
		incidents:      deps.IncidentRepo,
		changeRequests: deps.ChangeRequestRepo,
		recurrences:    deps.RecurrenceRepo,
		history:        deps.HistoryRepo,
		resolver:       deps.Resolver,
		dispatcher:     deps.Dispatcher,
	}
}

// CreateIncident registers a new incident. The product's grandparent family
// is resolved once at intake and stored on the row so queue eligibility is a
// plain column match afterwards.
func (s *IncidentService) CreateIncident(ctx context.Context, actor *domain.Staff, input IncidentCreateInput) (*domain.Incident, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("staff required")
	}
	if strings.TrimSpace(input.ProductID) == "" || strings.TrimSpace(input.CustomerID) == "" {
		return nil, apperrors.NewValidationError("product_id and customer_id required", nil)
	}
	centerID := input.ServiceCenterID
	if centerID == "" {
		centerID = actor.ServiceCenterID
	}

	grandparentID, err := s.resolver.GrandparentFamilyID(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}

	incident := &domain.Incident{
		Code:                generateIncidentCode(),
		State:               domain.StateRegistered,
		ProductID:           input.ProductID,
		CustomerID:          input.CustomerID,
		ServiceCenterID:     centerID,
		GrandparentFamilyID: grandparentID,
		IsRecurrence:        input.IsRecurrence,
		ProblemDescription:  strings.TrimSpace(input.ProblemDescription),
	}
	if err := s.incidents.Create(ctx, incident); err != nil {
		return nil, apperrors.MapError(err)
	}

	s.publish(ctx, events.Event{
		Type:       events.EventIncidentCreated,
		IncidentID: incident.ID,
		ActorID:    &actor.ID,
		Payload: events.IncidentCreatedPayload{
			Code:                incident.Code,
			ServiceCenterID:     incident.ServiceCenterID,
			ProductID:           incident.ProductID,
			GrandparentFamilyID: incident.GrandparentFamilyID,
			IsRecurrence:        incident.IsRecurrence,
		},
	})
	return incident, nil
}

// GetIncident fetches an incident by ID.
func (s *IncidentService) GetIncident(ctx context.Context, id string) (*domain.Incident, error) {
	incident, err := s.incidents.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("incident", map[string]any{"incident_id": id})
		}
		return nil, apperrors.MapError(err)
	}
	return incident, nil
}

// History lists audit entries for an incident.
func (s *IncidentService) History(ctx context.Context, incidentID string, limit, offset int) ([]domain.IncidentHistory, error) {
	if _, err := s.GetIncident(ctx, incidentID); err != nil {
		return nil, err
	}
	return s.history.ListByIncident(ctx, incidentID, limit, offset)
}

// ApplyTransition applies a lifecycle event to an incident. Legality comes
// from the transition table; the store-level conditional update guarantees
// the incident is unchanged when the caller lost a race or the transition is
// rejected.
func (s *IncidentService) ApplyTransition(ctx context.Context, actor *domain.Staff, incidentID string, event domain.IncidentEvent, comment string) (*domain.Incident, error) {
	if actor == nil {
		return nil, apperrors.NewUnauthorized("staff required")
	}
	if domain.IsWorkflowEvent(event) {
		return nil, apperrors.NewValidationError("event is applied by its owning workflow", map[string]any{"event": event})
	}

	incident, err := s.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	next, ok := domain.NextState(incident.State, event)
	if !ok {
		return nil, apperrors.NewIllegalTransition(string(incident.State), string(event))
	}

	if err := s.checkAdjudicationGuards(ctx, incident, next); err != nil {
		return nil, err
	}

	if err := s.incidents.UpdateState(ctx, incidentID, incident.State, next); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewConflict("incident changed concurrently", map[string]any{"incident_id": incidentID})
		}
		return nil, apperrors.MapError(err)
	}

	s.recordStatus(ctx, &actor.ID, incidentID, incident.State, next, comment)
	s.publish(ctx, events.Event{
		Type:       events.EventIncidentStateChanged,
		IncidentID: incidentID,
		ActorID:    &actor.ID,
		Payload: events.IncidentStateChangedPayload{
			OldState: incident.State,
			NewState: next,
			Event:    event,
			Comment:  comment,
		},
	})

	return s.GetIncident(ctx, incidentID)
}

// AppendObservation adds a line to the append-only observations log.
func (s *IncidentService) AppendObservation(ctx context.Context, actor *domain.Staff, incidentID, note string) error {
	if actor == nil {
		return apperrors.NewUnauthorized("staff required")
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return apperrors.NewValidationError("observation required", nil)
	}
	if err := s.incidents.AppendObservation(ctx, incidentID, note); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("incident", map[string]any{"incident_id": incidentID})
		}
		return apperrors.MapError(err)
	}
	if s.history != nil {
		_ = s.history.Create(ctx, &domain.IncidentHistory{
			IncidentID:  incidentID,
			ChangedByID: &actor.ID,
			ChangeType:  domain.ChangeTypeObservation,
			OldValue:    map[string]any{},
			NewValue:    map[string]any{"observation": note},
		})
	}
	return nil
}

// checkAdjudicationGuards rejects transitions that contradict an open
// adjudication: nothing moves while a change request is pending, and a
// flagged incident cannot close before its recurrence is verified.
func (s *IncidentService) checkAdjudicationGuards(ctx context.Context, incident *domain.Incident, next domain.IncidentState) error {
	pending, err := s.changeRequests.GetPendingByIncident(ctx, incident.ID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return apperrors.MapError(err)
	}
	if pending != nil {
		return apperrors.NewConflict("change request pending for incident", map[string]any{
			"incident_id":       incident.ID,
			"change_request_id": pending.ID,
		})
	}

	if incident.IsRecurrence && next.IsTerminal() {
		_, err := s.recurrences.GetByIncident(ctx, incident.ID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NewConflict("recurrence verification pending for incident", map[string]any{
					"incident_id": incident.ID,
				})
			}
			return apperrors.MapError(err)
		}
	}
	return nil
}

func (s *IncidentService) recordStatus(ctx context.Context, actorID *string, incidentID string, oldState, newState domain.IncidentState, comment string) {
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

func (s *IncidentService) publish(ctx context.Context, event events.Event) {
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

func generateIncidentCode() string {
	return "INC-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
