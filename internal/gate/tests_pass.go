package gate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/windrose-labs/conductor/internal/domain"
	"github.com/windrose-labs/conductor/internal/store"
)

const testToolName = "run_tests"

// TestsPass holds a run in executing until the latest completed test
// invocation reports a passing verdict. Results from before the run last
// entered executing do not count, so a green result from an earlier stint
// cannot clear the gate after a review sends the run back.
type TestsPass struct {
	store store.Store
}

func NewTestsPass(st store.Store) *TestsPass {
	return &TestsPass{store: st}
}

func (g *TestsPass) Name() string { return "tests_pass" }

func (g *TestsPass) Evaluate(ctx context.Context, run *domain.Run) (Result, error) {
	enteredAt, err := lastEntered(ctx, g.store, run.RunID, domain.PhaseExecuting)
	if err != nil {
		return Result{}, err
	}

	invocations, err := g.store.ListInvocationsByRun(ctx, run.RunID)
	if err != nil {
		return Result{}, err
	}

	var latest *domain.ToolInvocation
	for i := range invocations {
		inv := &invocations[i]
		if inv.Tool != testToolName || inv.Status != domain.InvocationCompleted {
			continue
		}
		if inv.CreatedAt.Before(enteredAt) {
			continue
		}
		if latest == nil || inv.CreatedAt.After(latest.CreatedAt) {
			latest = inv
		}
	}
	if latest == nil {
		return pending("waiting for test results"), nil
	}

	var payload struct {
		Verdict string `json:"verdict"`
		Failed  int    `json:"failed"`
	}
	if err := json.Unmarshal(latest.Result, &payload); err != nil {
		return pending("test results unreadable"), nil
	}
	switch payload.Verdict {
	case "pass":
		return passed(), nil
	case "fail":
		if payload.Failed > 0 {
			return failed(fmt.Sprintf("%d tests failed", payload.Failed)), nil
		}
		return failed("tests failed"), nil
	default:
		return pending("test results unreadable"), nil
	}
}
