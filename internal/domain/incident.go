package domain

import "time"

// IncidentState enumerates lifecycle states for repair incidents.
type IncidentState string

const (
	StateRegistered          IncidentState = "REGISTERED"
	StateInDiagnosis         IncidentState = "IN_DIAGNOSIS"
	StateAwaitingParts       IncidentState = "AWAITING_PARTS"
	StateBudgeted            IncidentState = "BUDGETED"
	StatePendingApproval     IncidentState = "PENDING_APPROVAL"
	StateRepaired            IncidentState = "REPAIRED"
	StateWarrantyReplacement IncidentState = "WARRANTY_REPLACEMENT"
	StateCreditNote          IncidentState = "CREDIT_NOTE"
	StateRejected            IncidentState = "REJECTED"
	StateInDelivery          IncidentState = "IN_DELIVERY"
	StateDelivered           IncidentState = "DELIVERED"
	StateRejectedClosed      IncidentState = "REJECTED_CLOSED"
)

// IsTerminal reports whether no further transitions are possible.
func (s IncidentState) IsTerminal() bool {
	return s == StateDelivered || s == StateRejectedClosed
}

// OpenStates lists states that count toward a technician's open assignments.
func OpenStates() []IncidentState {
	return []IncidentState{
		StateRegistered,
		StateInDiagnosis,
		StateAwaitingParts,
		StateBudgeted,
		StatePendingApproval,
		StateRepaired,
		StateWarrantyReplacement,
		StateCreditNote,
		StateRejected,
		StateInDelivery,
	}
}

// Incident is the aggregate for one tracked repair case.
type Incident struct {
	ID                  string
	Code                string
	State               IncidentState
	ProductID           string
	CustomerID          string
	ServiceCenterID     string
	GrandparentFamilyID *string
	TechnicianID        *string
	IsRecurrence        bool
	WarrantyApplies     *bool
	ProblemDescription  string
	Observations        []string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	DeliveredAt         *time.Time
}

// Assigned reports whether the incident is currently held by a technician.
func (i *Incident) Assigned() bool {
	return i.TechnicianID != nil && *i.TechnicianID != ""
}
