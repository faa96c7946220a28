package domain

import "time"

// RecurrenceJustificationMinLen is the minimum justification length accepted
// when recording a verification.
const RecurrenceJustificationMinLen = 20

// RecurrenceVerification is a one-time human decision on whether an incident
// is a valid repeat of a prior repair. Exactly one exists per incident and it
// is never updated.
type RecurrenceVerification struct {
	ID                string
	IncidentID        string
	PriorIncidentID   *string
	VerifiedByID      string
	IsValidRecurrence bool
	AppliesReentry    *bool
	Justification     string
	CreatedAt         time.Time
}
