package domain

import "time"

// ChangeRequestType enumerates what a technician may ask a supervisor to
// authorize for an incident.
type ChangeRequestType string

const (
	ChangeTypeWarrantyReplacement ChangeRequestType = "WARRANTY_REPLACEMENT"
	ChangeTypeCreditNote          ChangeRequestType = "CREDIT_NOTE"
	ChangeTypeTypology            ChangeRequestType = "TYPOLOGY"
)

// ChangeRequestState is the two-outcome approval machine.
type ChangeRequestState string

const (
	ChangeRequestPending  ChangeRequestState = "PENDING"
	ChangeRequestApproved ChangeRequestState = "APPROVED"
	ChangeRequestRejected ChangeRequestState = "REJECTED"
)

// ChangeRequest is a technician-submitted adjudication request. Once resolved
// it is immutable.
type ChangeRequest struct {
	ID            string
	IncidentID    string
	Type          ChangeRequestType
	Justification string
	EvidenceKeys  []string
	RequestedByID string
	State         ChangeRequestState
	ResolvedByID  *string
	ResolvedAt    *time.Time
	Comments      string
	CreatedAt     time.Time
}

// OutcomeEvent maps a resolution to the incident event it drives.
func (r *ChangeRequest) OutcomeEvent(approved bool) IncidentEvent {
	if !approved {
		return EventResumeDiagnosis
	}
	switch r.Type {
	case ChangeTypeWarrantyReplacement:
		return EventApproveWarranty
	case ChangeTypeCreditNote:
		return EventAuthorizeCreditNote
	default:
		// Typology corrections send the incident back to diagnosis under the
		// corrected classification.
		return EventResumeDiagnosis
	}
}
