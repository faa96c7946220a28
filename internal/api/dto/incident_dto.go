package dto

import (
	"time"

	"github.com/spec-kit/repair-service/internal/domain"
)

// CreateIncidentRequest payload.
type CreateIncidentRequest struct {
	ProductID          string `json:"product_id" validate:"required"`
	CustomerID         string `json:"customer_id" validate:"required"`
	ServiceCenterID    string `json:"service_center_id"`
	IsRecurrence       bool   `json:"is_recurrence"`
	ProblemDescription string `json:"problem_description" validate:"required"`
}

// TransitionRequest applies a lifecycle event to an incident.
type TransitionRequest struct {
	Event   string `json:"event" validate:"required"`
	Comment string `json:"comment"`
}

// ObservationRequest appends one observation line.
type ObservationRequest struct {
	Note string `json:"note" validate:"required"`
}

// IncidentResponse is the canonical incident representation.
type IncidentResponse struct {
	ID                  string               `json:"id"`
	Code                string               `json:"code"`
	State               domain.IncidentState `json:"state"`
	ProductID           string               `json:"product_id"`
	CustomerID          string               `json:"customer_id"`
	ServiceCenterID     string               `json:"service_center_id"`
	GrandparentFamilyID *string              `json:"grandparent_family_id,omitempty"`
	TechnicianID        *string              `json:"technician_id,omitempty"`
	IsRecurrence        bool                 `json:"is_recurrence"`
	WarrantyApplies     *bool                `json:"warranty_applies,omitempty"`
	ProblemDescription  string               `json:"problem_description"`
	Observations        []string             `json:"observations"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
	DeliveredAt         *time.Time           `json:"delivered_at,omitempty"`
}

// IncidentHistoryResponse is one audit trail entry.
type IncidentHistoryResponse struct {
	ID          string                    `json:"id"`
	ChangeType  domain.IncidentChangeType `json:"change_type"`
	ChangedByID *string                   `json:"changed_by_id,omitempty"`
	OldValue    map[string]any            `json:"old_value"`
	NewValue    map[string]any            `json:"new_value"`
	CreatedAt   time.Time                 `json:"created_at"`
}
