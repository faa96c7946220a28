package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/repair-service/internal/domain"
	"github.com/spec-kit/repair-service/internal/events"
	"github.com/spec-kit/repair-service/internal/observability"
	"github.com/spec-kit/repair-service/internal/repository"
	apperrors "github.com/spec-kit/repair-service/pkg/util"
)

// SchedulerService owns queue materialization and technician assignment.
type SchedulerService struct {
	incidents      repository.IncidentRepository
	groups         repository.QueueGroupRepository
	staff          repository.StaffRepository
	history        repository.IncidentHistoryRepository
	dispatcher     events.Dispatcher
	metrics        *observability.Metrics
	maxAssignments int
}

// SchedulerDependencies bundles repositories.
type SchedulerDependencies struct {
	IncidentRepo   repository.IncidentRepository
	GroupRepo      repository.QueueGroupRepository
	StaffRepo      repository.StaffRepository
	HistoryRepo    repository.IncidentHistoryRepository
	Dispatcher     events.Dispatcher
	Metrics        *observability.Metrics
	MaxAssignments int
}

// QueueDepth pairs a group with its current eligible-incident count.
type QueueDepth struct {
	Group domain.QueueGroup
	Depth int
}

// NewSchedulerService creates the service.
func NewSchedulerService(deps SchedulerDependencies) *SchedulerService {
	max := deps.MaxAssignments
	if max <= 0 {
		max = 3
	}
	return &SchedulerService{
		incidents:      deps.IncidentRepo,
		groups:         deps.GroupRepo,
		staff:          deps.StaffRepo,
		history:        deps.HistoryRepo,
		dispatcher:     deps.Dispatcher,
		metrics:        deps.Metrics,
		maxAssignments: max,
	}
}

// MaxAssignments returns the configured per-technician cap.
func (s *SchedulerService) MaxAssignments() int {
	return s.maxAssignments
}

// Queue returns the FIFO-ordered eligible incidents for a group.
func (s *SchedulerService) Queue(ctx context.Context, groupID string, limit int) ([]domain.Incident, error) {
	group, err := s.activeGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return s.incidents.ListEligibleForQueue(ctx, repository.EligibleFilter{
		ServiceCenterID: group.ServiceCenterID,
		FamilyIDs:       group.MemberFamilyIDs,
		Limit:           limit,
	})
}

// QueueDepths returns per-group eligible counts for a center's dashboard.
func (s *SchedulerService) QueueDepths(ctx context.Context, serviceCenterID string) ([]QueueDepth, error) {
	groups, err := s.groups.ListByCenter(ctx, serviceCenterID, true)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	depths := make([]QueueDepth, 0, len(groups))
	for _, group := range groups {
		depth, err := s.incidents.CountEligibleForQueue(ctx, repository.EligibleFilter{
			ServiceCenterID: group.ServiceCenterID,
			FamilyIDs:       group.MemberFamilyIDs,
		})
		if err != nil {
			return nil, apperrors.MapError(err)
		}
		depths = append(depths, QueueDepth{Group: group, Depth: depth})
	}
	return depths, nil
}

// AssignHead claims the FIFO head of a queue group for the technician. The
// claim runs as one short store transaction that serializes per technician
// and re-checks the cap; losing the race to another caller simply means the
// next head is claimed on retry, so a CONFLICT never surfaces from here.
func (s *SchedulerService) AssignHead(ctx context.Context, technician *domain.Staff, groupID string) (*domain.Incident, error) {
	if technician == nil {
		return nil, apperrors.NewUnauthorized("technician required")
	}
	if !technician.Active {
		return nil, apperrors.NewForbidden("technician deactivated")
	}

	group, err := s.activeGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	// Fast precondition check; the claim statement re-checks atomically.
	open, err := s.incidents.CountOpenForTechnician(ctx, technician.ID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if open >= s.maxAssignments {
		s.metrics.RecordClaim(groupID, "limit_reached")
		return nil, apperrors.NewAssignmentLimitReached(technician.ID, s.maxAssignments)
	}

	incident, err := s.incidents.ClaimHead(ctx, repository.ClaimParams{
		ServiceCenterID: group.ServiceCenterID,
		FamilyIDs:       group.MemberFamilyIDs,
		TechnicianID:    technician.ID,
		MaxAssignments:  s.maxAssignments,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Nothing claimed: either the queue drained or a concurrent claim
			// pushed the technician to the cap.
			open, countErr := s.incidents.CountOpenForTechnician(ctx, technician.ID)
			if countErr == nil && open >= s.maxAssignments {
				s.metrics.RecordClaim(groupID, "limit_reached")
				return nil, apperrors.NewAssignmentLimitReached(technician.ID, s.maxAssignments)
			}
			s.metrics.RecordClaim(groupID, "queue_empty")
			return nil, apperrors.NewQueueEmpty(groupID)
		}
		return nil, apperrors.MapError(err)
	}

	s.metrics.RecordClaim(groupID, "assigned")
	s.recordAssignment(ctx, technician.ID, incident, nil, &technician.ID)
	s.recordStatus(ctx, &technician.ID, incident.ID, domain.StateRegistered, domain.StateInDiagnosis, string(domain.EventStartDiagnosis))
	s.publish(ctx, events.Event{
		Type:       events.EventIncidentAssigned,
		IncidentID: incident.ID,
		ActorID:    &technician.ID,
		Payload: events.IncidentAssignedPayload{
			TechnicianID: technician.ID,
			QueueGroupID: groupID,
		},
	})
	return incident, nil
}

// Reassign moves a held, non-terminal incident from one technician to
// another. State is untouched; only the assignee changes.
func (s *SchedulerService) Reassign(ctx context.Context, actor *domain.Staff, incidentID, fromTechnicianID, toTechnicianID, reason string) error {
	if actor == nil {
		return apperrors.NewUnauthorized("staff required")
	}

	target, err := s.staff.GetByID(ctx, toTechnicianID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("technician", map[string]any{"technician_id": toTechnicianID})
		}
		return apperrors.MapError(err)
	}
	if !target.Active {
		return apperrors.NewConflict("target technician inactive", map[string]any{"technician_id": toTechnicianID})
	}

	open, err := s.incidents.CountOpenForTechnician(ctx, toTechnicianID)
	if err != nil {
		return apperrors.MapError(err)
	}
	if open >= s.maxAssignments {
		return apperrors.NewAssignmentLimitReached(toTechnicianID, s.maxAssignments)
	}

	incident, err := s.incidents.GetByID(ctx, incidentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("incident", map[string]any{"incident_id": incidentID})
		}
		return apperrors.MapError(err)
	}
	if incident.State.IsTerminal() {
		return apperrors.NewIncidentTerminal(incident.ID, string(incident.State))
	}
	if !incident.Assigned() || *incident.TechnicianID != fromTechnicianID {
		return apperrors.NewNotAssigned(incidentID)
	}

	if err := s.incidents.ReassignTechnician(ctx, incidentID, fromTechnicianID, toTechnicianID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewConflict("incident changed concurrently", map[string]any{"incident_id": incidentID})
		}
		return apperrors.MapError(err)
	}

	note := fmt.Sprintf("reassigned from %s to %s: %s", fromTechnicianID, toTechnicianID, reason)
	if err := s.incidents.AppendObservation(ctx, incidentID, note); err != nil {
		return apperrors.MapError(err)
	}
	s.recordAssignment(ctx, actor.ID, incident, &fromTechnicianID, &toTechnicianID)
	s.publish(ctx, events.Event{
		Type:       events.EventIncidentReassigned,
		IncidentID: incidentID,
		ActorID:    &actor.ID,
		Payload: events.IncidentReassignedPayload{
			FromTechnicianID: fromTechnicianID,
			ToTechnicianID:   toTechnicianID,
			Reason:           reason,
		},
	})
	return nil
}

// Unassign returns a held incident to its queue. FIFO position is derived
// from (created_at, id), so the incident resumes its original slot.
func (s *SchedulerService) Unassign(ctx context.Context, actor *domain.Staff, incidentID, reason string) error {
	if actor == nil {
		return apperrors.NewUnauthorized("staff required")
	}

	incident, err := s.incidents.GetByID(ctx, incidentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("incident", map[string]any{"incident_id": incidentID})
		}
		return apperrors.MapError(err)
	}
	if incident.State.IsTerminal() {
		return apperrors.NewIncidentTerminal(incident.ID, string(incident.State))
	}
	if !incident.Assigned() {
		return apperrors.NewNotAssigned(incidentID)
	}
	if !domain.CanApply(incident.State, domain.EventReturnToQueue) {
		return apperrors.NewIllegalTransition(string(incident.State), string(domain.EventReturnToQueue))
	}

	technicianID := *incident.TechnicianID
	if err := s.incidents.ReturnToQueue(ctx, incidentID, technicianID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewConflict("incident changed concurrently", map[string]any{"incident_id": incidentID})
		}
		return apperrors.MapError(err)
	}

	if reason != "" {
		_ = s.incidents.AppendObservation(ctx, incidentID, "returned to queue: "+reason)
	}
	s.recordAssignment(ctx, actor.ID, incident, &technicianID, nil)
	s.recordStatus(ctx, &actor.ID, incidentID, incident.State, domain.StateRegistered, string(domain.EventReturnToQueue))
	s.publish(ctx, events.Event{
		Type:       events.EventIncidentStateChanged,
		IncidentID: incidentID,
		ActorID:    &actor.ID,
		Payload: events.IncidentStateChangedPayload{
			OldState: incident.State,
			NewState: domain.StateRegistered,
			Event:    domain.EventReturnToQueue,
			Comment:  reason,
		},
	})
	return nil
}

func (s *SchedulerService) activeGroup(ctx context.Context, groupID string) (*domain.QueueGroup, error) {
	group, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("queue group", map[string]any{"group_id": groupID})
		}
		return nil, apperrors.MapError(err)
	}
	if !group.Active {
		return nil, apperrors.NewConflict("queue group inactive", map[string]any{"group_id": groupID})
	}
	return group, nil
}

func (s *SchedulerService) recordAssignment(ctx context.Context, actorID string, incident *domain.Incident, oldTechnician, newTechnician *string) {
	if s.history == nil {
		return
	}
	_ = s.history.Create(ctx, &domain.IncidentHistory{
		IncidentID:  incident.ID,
		ChangedByID: &actorID,
		ChangeType:  domain.ChangeTypeAssignee,
		OldValue: map[string]any{
			"technician_id": oldTechnician,
		},
		NewValue: map[string]any{
			"technician_id": newTechnician,
		},
	})
}

func (s *SchedulerService) recordStatus(ctx context.Context, actorID *string, incidentID string, oldState, newState domain.IncidentState, comment string) {
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

func (s *SchedulerService) publish(ctx context.Context, event events.Event) {
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
