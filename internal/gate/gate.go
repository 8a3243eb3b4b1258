// Package gate evaluates the checkpoints that hold runs between lifecycle
// phases. Gates are read-only: they inspect artifacts, operator actions, and
// tool invocation results, and report pending, passed, or failed. All writes
// happen in the service layer through the state machine.
package gate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/windrose-labs/conductor/internal/domain"
	"github.com/windrose-labs/conductor/internal/store"
)

// Result is a gate's verdict on a run.
type Result struct {
	Status domain.GateStatus
	Reason string
}

// Gate is a named checkpoint bound to one lifecycle phase.
type Gate interface {
	Name() string
	Evaluate(ctx context.Context, run *domain.Run) (Result, error)
}

// Registry maps each phase to the gates that hold it. Pending and planning
// carry no gates: they advance through collaborator callbacks (queue
// acknowledgement, plan submission), not through checkpoint evaluation.
type Registry map[domain.RunPhase][]Gate

// NewRegistry builds the standard gate set.
func NewRegistry(st store.Store, merges MergeChecker) Registry {
	return Registry{
		domain.PhaseAwaitingPlanApproval: {NewPlanApproval(st)},
		domain.PhaseExecuting:            {NewTestsPass(st)},
		domain.PhaseAwaitingReview:       {NewCodeReview(st), NewMergeWait(merges)},
	}
}

// GatesFor returns the gates bound to a phase, in evaluation order.
func (r Registry) GatesFor(phase domain.RunPhase) []Gate {
	return r[phase]
}

func pending(reason string) Result {
	return Result{Status: domain.GatePending, Reason: reason}
}

func passed() Result {
	return Result{Status: domain.GatePassed}
}

func failed(reason string) Result {
	return Result{Status: domain.GateFailed, Reason: reason}
}

// lastEntered returns the timestamp of the run's most recent transition into
// the given phase, from the event log. Zero time when the run never entered
// it through a recorded transition.
func lastEntered(ctx context.Context, st store.Store, runID string, phase domain.RunPhase) (time.Time, error) {
	events, err := st.ListRunEvents(ctx, runID, 0, 0)
	if err != nil {
		return time.Time{}, err
	}

	var enteredAt time.Time
	for i := range events {
		event := &events[i]
		if event.Kind != domain.EventPhaseTransition {
			continue
		}
		var payload domain.PhaseTransitionPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			continue
		}
		if payload.To != phase {
			continue
		}
		if ts := time.UnixMilli(event.Ts); ts.After(enteredAt) {
			enteredAt = ts
		}
	}
	return enteredAt, nil
}

// latestValid returns the newest artifact of the given type with a valid
// validation status created at or after notBefore, or nil.
func latestValid(artifacts []domain.Artifact, artifactType domain.ArtifactType, notBefore time.Time) *domain.Artifact {
	var latest *domain.Artifact
	for i := range artifacts {
		a := &artifacts[i]
		if a.Type != artifactType || a.ValidationStatus != domain.ValidationValid {
			continue
		}
		if a.CreatedAt.Before(notBefore) {
			continue
		}
		if latest == nil || a.CreatedAt.After(latest.CreatedAt) {
			latest = a
		}
	}
	return latest
}
