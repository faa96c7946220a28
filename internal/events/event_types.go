package events

import (
	"time"

	"github.com/spec-kit/repair-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventIncidentCreated       EventType = "incident_created"
	EventIncidentStateChanged  EventType = "incident_state_changed"
	EventIncidentAssigned      EventType = "incident_assigned"
	EventIncidentReassigned    EventType = "incident_reassigned"
	EventChangeRequestCreated  EventType = "change_request_created"
	EventChangeRequestResolved EventType = "change_request_resolved"
	EventRecurrenceVerified    EventType = "recurrence_verified"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID         string      `json:"id"`
	Type       EventType   `json:"type"`
	IncidentID string      `json:"incident_id"`
	ActorID    *string     `json:"actor_id,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
	Payload    interface{} `json:"payload"`
}

// IncidentCreatedPayload payload.
type IncidentCreatedPayload struct {
	Code                string  `json:"code"`
	ServiceCenterID     string  `json:"service_center_id"`
	ProductID           string  `json:"product_id"`
	GrandparentFamilyID *string `json:"grandparent_family_id,omitempty"`
	IsRecurrence        bool    `json:"is_recurrence"`
}

// IncidentStateChangedPayload payload.
type IncidentStateChangedPayload struct {
	OldState domain.IncidentState `json:"old_state"`
	NewState domain.IncidentState `json:"new_state"`
	Event    domain.IncidentEvent `json:"event"`
	Comment  string               `json:"comment,omitempty"`
}

// IncidentAssignedPayload payload.
type IncidentAssignedPayload struct {
	TechnicianID string `json:"technician_id"`
	QueueGroupID string `json:"queue_group_id,omitempty"`
}

// IncidentReassignedPayload payload.
type IncidentReassignedPayload struct {
	FromTechnicianID string `json:"from_technician_id"`
	ToTechnicianID   string `json:"to_technician_id"`
	Reason           string `json:"reason"`
}

// ChangeRequestCreatedPayload payload.
type ChangeRequestCreatedPayload struct {
	ChangeRequestID string                   `json:"change_request_id"`
	Type            domain.ChangeRequestType `json:"type"`
}

// ChangeRequestResolvedPayload payload.
type ChangeRequestResolvedPayload struct {
	ChangeRequestID string                    `json:"change_request_id"`
	Type            domain.ChangeRequestType  `json:"type"`
	Outcome         domain.ChangeRequestState `json:"outcome"`
	Comments        string                    `json:"comments,omitempty"`
}

// RecurrenceVerifiedPayload payload.
type RecurrenceVerifiedPayload struct {
	VerificationID    string  `json:"verification_id"`
	IsValidRecurrence bool    `json:"is_valid_recurrence"`
	AppliesReentry    *bool   `json:"applies_reentry,omitempty"`
	PriorIncidentID   *string `json:"prior_incident_id,omitempty"`
}
