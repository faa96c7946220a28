package domain

// IncidentEvent names an action that moves an incident between states.
type IncidentEvent string

const (
	EventStartDiagnosis      IncidentEvent = "start_diagnosis"
	EventAwaitParts          IncidentEvent = "await_parts"
	EventSubmitBudget        IncidentEvent = "submit_budget"
	EventRequestApproval     IncidentEvent = "request_approval"
	EventResumeDiagnosis     IncidentEvent = "resume_diagnosis"
	EventCompleteRepair      IncidentEvent = "complete_repair"
	EventApproveWarranty     IncidentEvent = "approve_warranty"
	EventAuthorizeCreditNote IncidentEvent = "authorize_credit_note"
	EventReject              IncidentEvent = "reject"
	EventStartDelivery       IncidentEvent = "start_delivery"
	EventDeliver             IncidentEvent = "deliver"
	EventCloseRejected       IncidentEvent = "close_rejected"
	EventReturnToQueue       IncidentEvent = "return_to_queue"
)

// transitions is the single source of truth for legal state changes.
// Every mutation path consults this table; nothing compares state strings
// ad hoc.
var transitions = map[IncidentState]map[IncidentEvent]IncidentState{
	StateRegistered: {
		EventStartDiagnosis: StateInDiagnosis,
	},
	StateInDiagnosis: {
		EventAwaitParts:      StateAwaitingParts,
		EventSubmitBudget:    StateBudgeted,
		EventRequestApproval: StatePendingApproval,
		EventCompleteRepair:  StateRepaired,
		EventReject:          StateRejected,
		EventReturnToQueue:   StateRegistered,
	},
	StateAwaitingParts: {
		EventResumeDiagnosis: StateInDiagnosis,
		EventCompleteRepair:  StateRepaired,
	},
	StateBudgeted: {
		EventResumeDiagnosis: StateInDiagnosis,
		EventCompleteRepair:  StateRepaired,
	},
	StatePendingApproval: {
		EventApproveWarranty:     StateWarrantyReplacement,
		EventAuthorizeCreditNote: StateCreditNote,
		EventResumeDiagnosis:     StateInDiagnosis,
		EventReject:              StateRejected,
	},
	StateRepaired: {
		EventStartDelivery: StateInDelivery,
	},
	StateWarrantyReplacement: {
		EventStartDelivery: StateInDelivery,
	},
	StateCreditNote: {
		EventStartDelivery: StateInDelivery,
	},
	StateRejected: {
		EventStartDelivery: StateInDelivery,
		EventCloseRejected: StateRejectedClosed,
	},
	StateInDelivery: {
		EventDeliver: StateDelivered,
	},
	StateDelivered:      {},
	StateRejectedClosed: {},
}

// NextState returns the state reached by applying event to current.
// The second return value is false when the transition is illegal.
func NextState(current IncidentState, event IncidentEvent) (IncidentState, bool) {
	next, ok := transitions[current][event]
	return next, ok
}

// CanApply reports whether event is legal from current without applying it.
func CanApply(current IncidentState, event IncidentEvent) bool {
	_, ok := NextState(current, event)
	return ok
}

// workflowEvents are applied only by their owning operation (queue claim,
// unassign, change-request submission/resolution), never through the generic
// transition endpoint.
var workflowEvents = map[IncidentEvent]struct{}{
	EventStartDiagnosis:      {},
	EventReturnToQueue:       {},
	EventRequestApproval:     {},
	EventApproveWarranty:     {},
	EventAuthorizeCreditNote: {},
}

// IsWorkflowEvent reports whether event is reserved for a dedicated workflow.
func IsWorkflowEvent(event IncidentEvent) bool {
	_, ok := workflowEvents[event]
	return ok
}
