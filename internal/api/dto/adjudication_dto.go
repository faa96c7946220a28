package dto

import (
	"time"

	"github.com/spec-kit/repair-service/internal/domain"
)

// CreateChangeRequestRequest payload.
type CreateChangeRequestRequest struct {
	Type          string   `json:"type" validate:"required"`
	Justification string   `json:"justification" validate:"required"`
	EvidenceKeys  []string `json:"evidence_keys"`
}

// ResolveChangeRequestRequest records the single outcome of a pending request.
type ResolveChangeRequestRequest struct {
	Approve  bool   `json:"approve"`
	Comments string `json:"comments"`
}

// ChangeRequestResponse representation.
type ChangeRequestResponse struct {
	ID            string                    `json:"id"`
	IncidentID    string                    `json:"incident_id"`
	Type          domain.ChangeRequestType  `json:"type"`
	Justification string                    `json:"justification"`
	EvidenceKeys  []string                  `json:"evidence_keys"`
	RequestedByID string                    `json:"requested_by_id"`
	State         domain.ChangeRequestState `json:"state"`
	ResolvedByID  *string                   `json:"resolved_by_id,omitempty"`
	ResolvedAt    *time.Time                `json:"resolved_at,omitempty"`
	Comments      string                    `json:"comments,omitempty"`
	CreatedAt     time.Time                 `json:"created_at"`
}

// RecordVerificationRequest is the one-shot recurrence adjudication payload.
type RecordVerificationRequest struct {
	PriorIncidentID   *string `json:"prior_incident_id"`
	IsValidRecurrence bool    `json:"is_valid_recurrence"`
	AppliesReentry    *bool   `json:"applies_reentry"`
	Justification     string  `json:"justification" validate:"required,min=20"`
}

// VerificationResponse representation.
type VerificationResponse struct {
	ID                string    `json:"id"`
	IncidentID        string    `json:"incident_id"`
	PriorIncidentID   *string   `json:"prior_incident_id,omitempty"`
	VerifiedByID      string    `json:"verified_by_id"`
	IsValidRecurrence bool      `json:"is_valid_recurrence"`
	AppliesReentry    *bool     `json:"applies_reentry,omitempty"`
	Justification     string    `json:"justification"`
	CreatedAt         time.Time `json:"created_at"`
}
