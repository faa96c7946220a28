package domain

import "time"

// IncidentChangeType captures what changed in a history entry.
type IncidentChangeType string

const (
	ChangeTypeStatus            IncidentChangeType = "STATUS_CHANGE"
	ChangeTypeAssignee          IncidentChangeType = "ASSIGNEE_CHANGE"
	ChangeTypeObservation       IncidentChangeType = "OBSERVATION_ADDED"
	ChangeTypeRecurrenceCleared IncidentChangeType = "RECURRENCE_CLEARED"
	ChangeTypeWarrantyFlag      IncidentChangeType = "WARRANTY_FLAG_SET"
)

// IncidentHistory is an immutable audit trail entry.
type IncidentHistory struct {
	ID          string
	IncidentID  string
	ChangedByID *string
	ChangeType  IncidentChangeType
	OldValue    map[string]any
	NewValue    map[string]any
	CreatedAt   time.Time
}
