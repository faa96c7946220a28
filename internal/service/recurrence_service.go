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

// candidateLimit bounds the prior-incident lookup for a flagged unit.
const candidateLimit = 10

// candidateStates are the prior outcomes that qualify as a completed repair.
var candidateStates = []domain.IncidentState{
	domain.StateRepaired,
	domain.StateWarrantyReplacement,
	domain.StateDelivered,
}

// RecurrenceService handles the single-shot human adjudication of flagged
// repeat repairs.
type RecurrenceService struct {
	incidents     repository.IncidentRepository
	verifications repository.RecurrenceRepository
	history       repository.IncidentHistoryRepository
	tx            repository.TxManager
	dispatcher    events.Dispatcher
}

// RecurrenceDependencies bundles repositories.
type RecurrenceDependencies struct {
	IncidentRepo   repository.IncidentRepository
	RecurrenceRepo repository.RecurrenceRepository
	HistoryRepo    repository.IncidentHistoryRepository
	Tx             repository.TxManager
	Dispatcher     events.Dispatcher
}

// VerificationInput describes the adjudication payload.
type VerificationInput struct {
	IncidentID        string
	PriorIncidentID   *string
	IsValidRecurrence bool
	AppliesReentry    *bool
	Justification     string
}

// NewRecurrenceService constructs the service.
func NewRecurrenceService(deps RecurrenceDependencies) *RecurrenceService {
	return &RecurrenceService{
		incidents:     deps.IncidentRepo,
		verifications: deps.RecurrenceRepo,
		history:       deps.HistoryRepo,
		tx:            deps.Tx,
		dispatcher:    deps.Dispatcher,
	}
}

// Candidates returns prior incidents for the same customer and product that
// could be the original repair, most recent first.
func (s *RecurrenceService) Candidates(ctx context.Context, incidentID string) ([]domain.Incident, error) {
	incident, err := s.incidents.GetByID(ctx, incidentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("incident", map[string]any{"incident_id": incidentID})
		}
		return nil, apperrors.MapError(err)
	}
	if !incident.IsRecurrence {
		return nil, apperrors.NewValidationError("incident is not flagged as recurrence", map[string]any{
			"incident_id": incidentID,
		})
	}

	priors, err := s.incidents.ListPriorForUnit(ctx, incident.CustomerID, incident.ProductID, candidateStates, candidateLimit)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	// The flagged incident itself never qualifies as its own prior.
	result := make([]domain.Incident, 0, len(priors))
	for _, prior := range priors {
		if prior.ID == incidentID {
			continue
		}
		result = append(result, prior)
	}
	return result, nil
}

// PendingVerifications lists flagged, unadjudicated incidents for a center.
func (s *RecurrenceService) PendingVerifications(ctx context.Context, serviceCenterID string, limit int) ([]domain.Incident, error) {
	return s.verifications.ListPendingIncidents(ctx, serviceCenterID, limit)
}

// RecordVerification persists the one-and-only adjudication for a flagged
// incident. A second call returns ALREADY_VERIFIED and leaves the first
// record untouched. When the decision denies the recurrence (or denies free
// re-entry), the incident's flag is cleared.
func (s *RecurrenceService) RecordVerification(ctx context.Context, verifier *domain.Staff, input VerificationInput) (*domain.RecurrenceVerification, error) {
	if verifier == nil {
		return nil, apperrors.NewUnauthorized("verifier required")
	}
	if len(strings.TrimSpace(input.Justification)) < domain.RecurrenceJustificationMinLen {
		return nil, apperrors.NewValidationError("justification too short", map[string]any{
			"min_length": domain.RecurrenceJustificationMinLen,
		})
	}
	if input.IsValidRecurrence && input.AppliesReentry == nil {
		return nil, apperrors.NewValidationError("applies_reentry must be decided for a valid recurrence", nil)
	}

	incident, err := s.incidents.GetByID(ctx, input.IncidentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("incident", map[string]any{"incident_id": input.IncidentID})
		}
		return nil, apperrors.MapError(err)
	}
	if !incident.IsRecurrence {
		return nil, apperrors.NewValidationError("incident is not flagged as recurrence", map[string]any{
			"incident_id": input.IncidentID,
		})
	}
	if input.PriorIncidentID != nil {
		if _, err := s.incidents.GetByID(ctx, *input.PriorIncidentID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, apperrors.NewNotFound("prior incident", map[string]any{"incident_id": *input.PriorIncidentID})
			}
			return nil, apperrors.MapError(err)
		}
	}

	verification := &domain.RecurrenceVerification{
		IncidentID:        input.IncidentID,
		PriorIncidentID:   input.PriorIncidentID,
		VerifiedByID:      verifier.ID,
		IsValidRecurrence: input.IsValidRecurrence,
		AppliesReentry:    input.AppliesReentry,
		Justification:     strings.TrimSpace(input.Justification),
	}
	// The verification insert and the flag clear commit together, so a
	// denied adjudication can never persist while the incident stays flagged.
	denied := !input.IsValidRecurrence ||
		(input.AppliesReentry != nil && !*input.AppliesReentry)
	err = s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		if err := s.verifications.WithTx(tx).Create(ctx, verification); err != nil {
			if errors.Is(err, repository.ErrVerificationExists) {
				return apperrors.NewAlreadyVerified(input.IncidentID)
			}
			return err
		}
		if denied {
			if err := s.incidents.WithTx(tx).SetRecurrenceFlag(ctx, input.IncidentID, false); err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}

	if denied {
		if s.history != nil {
			_ = s.history.Create(ctx, &domain.IncidentHistory{
				IncidentID:  input.IncidentID,
				ChangedByID: &verifier.ID,
				ChangeType:  domain.ChangeTypeRecurrenceCleared,
				OldValue:    map[string]any{"is_recurrence": true},
				NewValue:    map[string]any{"is_recurrence": false},
			})
		}
	}

	s.publish(ctx, events.Event{
		Type:       events.EventRecurrenceVerified,
		IncidentID: input.IncidentID,
		ActorID:    &verifier.ID,
		Payload: events.RecurrenceVerifiedPayload{
			VerificationID:    verification.ID,
			IsValidRecurrence: verification.IsValidRecurrence,
			AppliesReentry:    verification.AppliesReentry,
			PriorIncidentID:   verification.PriorIncidentID,
		},
	})
	return verification, nil
}

func (s *RecurrenceService) publish(ctx context.Context, event events.Event) {
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
