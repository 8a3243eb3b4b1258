package domain

// successors defines the edges of the run lifecycle. A revision cycle walks
// backward: a plan sent back for changes returns to planning, an
// implementation sent back returns to executing. Blocked is handled
// separately: it is reachable from any non-terminal phase and leaves only
// toward the phase recorded in the blocked context, or to cancelled.
var successors = map[RunPhase][]RunPhase{
	PhasePending:              {PhasePlanning, PhaseCancelled},
	PhasePlanning:             {PhaseAwaitingPlanApproval, PhaseCancelled},
	PhaseAwaitingPlanApproval: {PhaseExecuting, PhasePlanning, PhaseCancelled},
	PhaseExecuting:            {PhaseAwaitingReview, PhaseCancelled},
	PhaseAwaitingReview:       {PhaseCompleted, PhaseExecuting, PhaseCancelled},
	PhaseBlocked:              {PhaseCancelled},
}

// IsTerminalPhase reports whether no further mutation of the run is permitted.
func IsTerminalPhase(p RunPhase) bool {
	return p == PhaseCompleted || p == PhaseCancelled
}

// ValidTransition reports whether from -> to is a legal phase edge.
// Any non-terminal phase may enter blocked; leaving blocked is legal toward
// any non-terminal productive phase (the state machine further restricts the
// target to the phase the run was blocked from).
func ValidTransition(from, to RunPhase) bool {
	if from == to {
		return false
	}
	if IsTerminalPhase(from) {
		return false
	}
	if to == PhaseBlocked {
		return true
	}
	if from == PhaseBlocked {
		return to == PhaseCancelled || isProductive(to)
	}
	for _, next := range successors[from] {
		if next == to {
			return true
		}
	}
	return false
}

func isProductive(p RunPhase) bool {
	switch p {
	case PhasePending, PhasePlanning, PhaseAwaitingPlanApproval, PhaseExecuting, PhaseAwaitingReview:
		return true
	}
	return false
}

// NextPhase returns the productive successor a gate pass advances to.
func NextPhase(p RunPhase) (RunPhase, bool) {
	switch p {
	case PhasePending:
		return PhasePlanning, true
	case PhasePlanning:
		return PhaseAwaitingPlanApproval, true
	case PhaseAwaitingPlanApproval:
		return PhaseExecuting, true
	case PhaseExecuting:
		return PhaseAwaitingReview, true
	case PhaseAwaitingReview:
		return PhaseCompleted, true
	}
	return "", false
}
