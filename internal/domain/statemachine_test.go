package domain

import "testing"

func TestNextState(t *testing.T) {
	testCases := []struct {
		name     string
		current  IncidentState
		event    IncidentEvent
		expected IncidentState
		legal    bool
	}{
		{name: "registered to diagnosis", current: StateRegistered, event: EventStartDiagnosis, expected: StateInDiagnosis, legal: true},
		{name: "diagnosis to awaiting parts", current: StateInDiagnosis, event: EventAwaitParts, expected: StateAwaitingParts, legal: true},
		{name: "diagnosis to budgeted", current: StateInDiagnosis, event: EventSubmitBudget, expected: StateBudgeted, legal: true},
		{name: "diagnosis to pending approval", current: StateInDiagnosis, event: EventRequestApproval, expected: StatePendingApproval, legal: true},
		{name: "diagnosis back to queue", current: StateInDiagnosis, event: EventReturnToQueue, expected: StateRegistered, legal: true},
		{name: "awaiting parts resumes", current: StateAwaitingParts, event: EventResumeDiagnosis, expected: StateInDiagnosis, legal: true},
		{name: "budgeted completes repair", current: StateBudgeted, event: EventCompleteRepair, expected: StateRepaired, legal: true},
		{name: "approval grants warranty", current: StatePendingApproval, event: EventApproveWarranty, expected: StateWarrantyReplacement, legal: true},
		{name: "approval grants credit note", current: StatePendingApproval, event: EventAuthorizeCreditNote, expected: StateCreditNote, legal: true},
		{name: "approval denied resumes diagnosis", current: StatePendingApproval, event: EventResumeDiagnosis, expected: StateInDiagnosis, legal: true},
		{name: "repaired to delivery", current: StateRepaired, event: EventStartDelivery, expected: StateInDelivery, legal: true},
		{name: "warranty replacement to delivery", current: StateWarrantyReplacement, event: EventStartDelivery, expected: StateInDelivery, legal: true},
		{name: "rejected closes", current: StateRejected, event: EventCloseRejected, expected: StateRejectedClosed, legal: true},
		{name: "delivery completes", current: StateInDelivery, event: EventDeliver, expected: StateDelivered, legal: true},
		{name: "registered cannot deliver", current: StateRegistered, event: EventDeliver, legal: false},
		{name: "registered cannot complete repair", current: StateRegistered, event: EventCompleteRepair, legal: false},
		{name: "repaired cannot return to queue", current: StateRepaired, event: EventReturnToQueue, legal: false},
		{name: "delivered is terminal", current: StateDelivered, event: EventStartDelivery, legal: false},
		{name: "rejected closed is terminal", current: StateRejectedClosed, event: EventStartDiagnosis, legal: false},
		{name: "unknown event", current: StateInDiagnosis, event: IncidentEvent("melt"), legal: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			next, ok := NextState(tc.current, tc.event)
			if ok != tc.legal {
				t.Fatalf("NextState(%s, %s) legality = %v, want %v", tc.current, tc.event, ok, tc.legal)
			}
			if tc.legal && next != tc.expected {
				t.Fatalf("NextState(%s, %s) = %s, want %s", tc.current, tc.event, next, tc.expected)
			}
		})
	}
}

func TestTerminalStatesHaveNoTransitions(t *testing.T) {
	for _, state := range []IncidentState{StateDelivered, StateRejectedClosed} {
		if !state.IsTerminal() {
			t.Fatalf("%s should be terminal", state)
		}
		if len(transitions[state]) != 0 {
			t.Fatalf("%s should have no outgoing transitions", state)
		}
	}
	for state, outgoing := range transitions {
		if state.IsTerminal() {
			continue
		}
		if len(outgoing) == 0 {
			t.Fatalf("non-terminal state %s has no outgoing transitions", state)
		}
	}
}

func TestIsWorkflowEvent(t *testing.T) {
	reserved := []IncidentEvent{
		EventStartDiagnosis,
		EventReturnToQueue,
		EventRequestApproval,
		EventApproveWarranty,
		EventAuthorizeCreditNote,
	}
	for _, event := range reserved {
		if !IsWorkflowEvent(event) {
			t.Fatalf("%s should be reserved for its workflow", event)
		}
	}
	open := []IncidentEvent{
		EventAwaitParts,
		EventSubmitBudget,
		EventResumeDiagnosis,
		EventCompleteRepair,
		EventReject,
		EventStartDelivery,
		EventDeliver,
		EventCloseRejected,
	}
	for _, event := range open {
		if IsWorkflowEvent(event) {
			t.Fatalf("%s should be applicable through the transition endpoint", event)
		}
	}
}

func TestOpenStatesExcludeTerminal(t *testing.T) {
	for _, state := range OpenStates() {
		if state.IsTerminal() {
			t.Fatalf("open state list contains terminal state %s", state)
		}
	}
	if len(OpenStates()) != len(transitions)-2 {
		t.Fatalf("open state list out of sync with transition table")
	}
}
