package domain

import "testing"

func TestValidTransition(t *testing.T) {
	cases := []struct {
		from, to RunPhase
		ok       bool
	}{
		{PhasePending, PhasePlanning, true},
		{PhasePlanning, PhaseAwaitingPlanApproval, true},
		{PhaseAwaitingPlanApproval, PhaseExecuting, true},
		{PhaseAwaitingPlanApproval, PhasePlanning, true},
		{PhaseExecuting, PhaseAwaitingReview, true},
		{PhaseAwaitingReview, PhaseCompleted, true},
		{PhaseAwaitingReview, PhaseExecuting, true},
		{PhasePending, PhaseCancelled, true},
		{PhaseExecuting, PhaseBlocked, true},
		{PhaseBlocked, PhaseExecuting, true},
		{PhaseBlocked, PhaseCancelled, true},

		{PhasePending, PhaseExecuting, false},
		{PhasePlanning, PhaseCompleted, false},
		{PhaseExecuting, PhaseExecuting, false},
		{PhaseCompleted, PhasePlanning, false},
		{PhaseCompleted, PhaseBlocked, false},
		{PhaseCancelled, PhaseCancelled, false},
		{PhaseBlocked, PhaseCompleted, false},
		{PhaseAwaitingReview, PhasePlanning, false},
	}

	for _, tc := range cases {
		if got := ValidTransition(tc.from, tc.to); got != tc.ok {
			t.Errorf("ValidTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestNextPhase(t *testing.T) {
	next, ok := NextPhase(PhaseAwaitingReview)
	if !ok || next != PhaseCompleted {
		t.Fatalf("NextPhase(awaiting_review) = %s, %v", next, ok)
	}
	if _, ok := NextPhase(PhaseCompleted); ok {
		t.Fatalf("terminal phases have no successor")
	}
	if _, ok := NextPhase(PhaseBlocked); ok {
		t.Fatalf("blocked has no automatic successor")
	}
}

func TestIsTerminalPhase(t *testing.T) {
	if !IsTerminalPhase(PhaseCompleted) || !IsTerminalPhase(PhaseCancelled) {
		t.Fatalf("completed and cancelled are terminal")
	}
	if IsTerminalPhase(PhaseBlocked) {
		t.Fatalf("blocked is not terminal")
	}
}
