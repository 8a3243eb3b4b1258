package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/windrose-labs/conductor/internal/domain"
	"github.com/windrose-labs/conductor/internal/store"
	"github.com/windrose-labs/conductor/tests/helpers"
)

func seedRun(t *testing.T, st *store.SQLiteStore, runID string, phase domain.RunPhase) *domain.Run {
	t.Helper()
	run := &domain.Run{
		RunID:     runID,
		TaskID:    "task_1",
		ProjectID: "proj_1",
		RepoID:    "repo_1",
		Phase:     phase,
		Status:    domain.RunStatusActive,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := st.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	return run
}

func seedArtifact(t *testing.T, st *store.SQLiteStore, runID string, artifactType domain.ArtifactType, status domain.ValidationStatus, content string, createdAt time.Time) *domain.Artifact {
	t.Helper()
	artifact := &domain.Artifact{
		ArtifactID:       fmt.Sprintf("art_%d", createdAt.UnixNano()),
		RunID:            runID,
		Type:             artifactType,
		Content:          content,
		ValidationStatus: status,
		CreatedAt:        createdAt,
	}
	if err := st.CreateArtifact(context.Background(), artifact); err != nil {
		t.Fatalf("CreateArtifact failed: %v", err)
	}
	return artifact
}

func seedAction(t *testing.T, st *store.SQLiteStore, runID string, action domain.ActionType, justification string, createdAt time.Time) {
	t.Helper()
	if err := st.CreateAction(context.Background(), &domain.OperatorAction{
		ActionID:      fmt.Sprintf("act_%d", createdAt.UnixNano()),
		RunID:         runID,
		Action:        action,
		Operator:      "maya",
		Justification: justification,
		CreatedAt:     createdAt,
	}); err != nil {
		t.Fatalf("CreateAction failed: %v", err)
	}
}

func seedTestResult(t *testing.T, st *store.SQLiteStore, runID, invocationID, result string, createdAt time.Time) {
	t.Helper()
	ctx := context.Background()
	if err := st.CreateInvocation(ctx, &domain.ToolInvocation{
		InvocationID:   invocationID,
		RunID:          runID,
		Tool:           "run_tests",
		ArgsHash:       "hash",
		PolicyDecision: domain.DecisionAllow,
		Status:         domain.InvocationPending,
		TimeoutMs:      60000,
		CreatedAt:      createdAt,
	}); err != nil {
		t.Fatalf("CreateInvocation failed: %v", err)
	}
	if _, err := st.UpdateInvocationResult(ctx, invocationID, domain.InvocationCompleted, []byte(result), nil); err != nil {
		t.Fatalf("UpdateInvocationResult failed: %v", err)
	}
}

func evaluate(t *testing.T, g Gate, run *domain.Run) Result {
	t.Helper()
	result, err := g.Evaluate(context.Background(), run)
	if err != nil {
		t.Fatalf("%s.Evaluate failed: %v", g.Name(), err)
	}
	return result
}

func TestPlanApprovalLifecycle(t *testing.T) {
	st := helpers.NewTestSQLiteStore(t)
	run := seedRun(t, st, "run_1", domain.PhaseAwaitingPlanApproval)
	g := NewPlanApproval(st)
	t0 := time.Now()

	if r := evaluate(t, g, run); r.Status != domain.GatePending || r.Reason != "waiting for a valid plan" {
		t.Fatalf("expected pending on empty run, got %+v", r)
	}

	seedArtifact(t, st, "run_1", domain.ArtifactPlan, domain.ValidationInvalid, "## Plan", t0)
	if r := evaluate(t, g, run); r.Reason != "waiting for a valid plan" {
		t.Fatalf("invalid plan must not count, got %+v", r)
	}

	seedArtifact(t, st, "run_1", domain.ArtifactPlan, domain.ValidationValid, "## Plan v1", t0.Add(time.Minute))
	if r := evaluate(t, g, run); r.Reason != "waiting for plan review" {
		t.Fatalf("expected review wait, got %+v", r)
	}

	seedArtifact(t, st, "run_1", domain.ArtifactReview, domain.ValidationValid,
		"CHANGES_REQUESTED\nThe rollout step needs a fallback.", t0.Add(2*time.Minute))
	if r := evaluate(t, g, run); r.Reason != "changes requested" {
		t.Fatalf("expected changes requested, got %+v", r)
	}

	// A revised plan starts a fresh cycle: the old review no longer counts.
	seedArtifact(t, st, "run_1", domain.ArtifactPlan, domain.ValidationValid, "## Plan v2", t0.Add(3*time.Minute))
	if r := evaluate(t, g, run); r.Reason != "waiting for plan review" {
		t.Fatalf("stale review must not count for the new plan, got %+v", r)
	}

	seedArtifact(t, st, "run_1", domain.ArtifactReview, domain.ValidationValid,
		"APPROVED\nFallback looks right.", t0.Add(4*time.Minute))
	if r := evaluate(t, g, run); r.Status != domain.GatePending || r.Reason != "awaiting operator approval" {
		t.Fatalf("expected operator wait, got %+v", r)
	}

	seedAction(t, st, "run_1", domain.ActionApprovePlan, "", t0.Add(5*time.Minute))
	if r := evaluate(t, g, run); r.Status != domain.GatePassed {
		t.Fatalf("expected passed, got %+v", r)
	}
	// Evaluation is read-only, so a second call reports the same thing.
	if r := evaluate(t, g, run); r.Status != domain.GatePassed {
		t.Fatalf("expected passed on re-evaluation, got %+v", r)
	}
}

func TestPlanApprovalReject(t *testing.T) {
	st := helpers.NewTestSQLiteStore(t)
	run := seedRun(t, st, "run_1", domain.PhaseAwaitingPlanApproval)
	g := NewPlanApproval(st)
	t0 := time.Now()

	seedArtifact(t, st, "run_1", domain.ArtifactPlan, domain.ValidationValid, "## Plan", t0)
	seedArtifact(t, st, "run_1", domain.ArtifactReview, domain.ValidationValid, "APPROVED", t0.Add(time.Minute))
	seedAction(t, st, "run_1", domain.ActionRejectRun, "scope too large for one run", t0.Add(2*time.Minute))

	r := evaluate(t, g, run)
	if r.Status != domain.GateFailed {
		t.Fatalf("expected failed, got %+v", r)
	}
	if r.Reason != "scope too large for one run" {
		t.Fatalf("expected operator justification as reason, got %q", r.Reason)
	}
}

func TestPlanApprovalStructuredVerdictWins(t *testing.T) {
	st := helpers.NewTestSQLiteStore(t)
	run := seedRun(t, st, "run_1", domain.PhaseAwaitingPlanApproval)
	g := NewPlanApproval(st)
	t0 := time.Now()

	seedArtifact(t, st, "run_1", domain.ArtifactPlan, domain.ValidationValid, "## Plan", t0)
	seedTestResult(t, st, "run_1", "inv_review", `{"verdict":"changes_requested"}`, t0)

	if err := st.CreateArtifact(context.Background(), &domain.Artifact{
		ArtifactID:         "art_linked",
		RunID:              "run_1",
		Type:               domain.ArtifactReview,
		Content:            "APPROVED\nProse disagrees with the structured verdict.",
		ValidationStatus:   domain.ValidationValid,
		SourceInvocationID: "inv_review",
		CreatedAt:          t0.Add(time.Minute),
	}); err != nil {
		t.Fatalf("CreateArtifact failed: %v", err)
	}

	if r := evaluate(t, g, run); r.Reason != "changes requested" {
		t.Fatalf("structured verdict must override prose, got %+v", r)
	}
}

func TestTestsPassGate(t *testing.T) {
	st := helpers.NewTestSQLiteStore(t)
	run := seedRun(t, st, "run_1", domain.PhaseExecuting)
	g := NewTestsPass(st)
	t0 := time.Now()

	if r := evaluate(t, g, run); r.Status != domain.GatePending || r.Reason != "waiting for test results" {
		t.Fatalf("expected pending without results, got %+v", r)
	}

	seedTestResult(t, st, "run_1", "inv_1", `{"verdict":"fail","failed":3}`, t0)
	if r := evaluate(t, g, run); r.Status != domain.GateFailed || !strings.Contains(r.Reason, "3 tests failed") {
		t.Fatalf("expected failure with count, got %+v", r)
	}

	seedTestResult(t, st, "run_1", "inv_2", `{"verdict":"pass"}`, t0.Add(time.Minute))
	if r := evaluate(t, g, run); r.Status != domain.GatePassed {
		t.Fatalf("latest result must win, got %+v", r)
	}
}

func TestTestsPassUnreadableResult(t *testing.T) {
	st := helpers.NewTestSQLiteStore(t)
	run := seedRun(t, st, "run_1", domain.PhaseExecuting)
	g := NewTestsPass(st)

	seedTestResult(t, st, "run_1", "inv_1", `not json`, time.Now())
	if r := evaluate(t, g, run); r.Status != domain.GatePending || r.Reason != "test results unreadable" {
		t.Fatalf("expected pending on unreadable result, got %+v", r)
	}
}

func TestTestsPassIgnoresResultsFromEarlierStint(t *testing.T) {
	ctx := context.Background()
	st := helpers.NewTestSQLiteStore(t)
	seedRun(t, st, "run_1", domain.PhaseAwaitingReview)
	g := NewTestsPass(st)

	// Green result from the first executing stint, before review sent the
	// run back for changes.
	seedTestResult(t, st, "run_1", "inv_1", `{"verdict":"pass"}`, time.Now().Add(-time.Hour))

	payload, _ := json.Marshal(domain.PhaseTransitionPayload{From: domain.PhaseAwaitingReview, To: domain.PhaseExecuting})
	updated, _, err := st.TransitionPhase(ctx, "run_1", domain.PhaseAwaitingReview, domain.PhaseExecuting, store.PhaseUpdate{
		EventKind: domain.EventPhaseTransition,
		Payload:   payload,
	})
	if err != nil {
		t.Fatalf("TransitionPhase failed: %v", err)
	}

	if r := evaluate(t, g, updated); r.Status != domain.GatePending || r.Reason != "waiting for test results" {
		t.Fatalf("stale green result must not count, got %+v", r)
	}

	seedTestResult(t, st, "run_1", "inv_2", `{"verdict":"pass"}`, time.Now().Add(time.Minute))
	if r := evaluate(t, g, updated); r.Status != domain.GatePassed {
		t.Fatalf("fresh result must count, got %+v", r)
	}
}

func TestCodeReviewIgnoresPlanStageReviews(t *testing.T) {
	ctx := context.Background()
	st := helpers.NewTestSQLiteStore(t)
	seedRun(t, st, "run_1", domain.PhaseExecuting)
	g := NewCodeReview(st)
	t0 := time.Now()

	// Plan-stage review, written long before the run reached review.
	seedArtifact(t, st, "run_1", domain.ArtifactReview, domain.ValidationValid, "APPROVED", t0.Add(-time.Hour))

	payload, _ := json.Marshal(domain.PhaseTransitionPayload{From: domain.PhaseExecuting, To: domain.PhaseAwaitingReview})
	updated, _, err := st.TransitionPhase(ctx, "run_1", domain.PhaseExecuting, domain.PhaseAwaitingReview, store.PhaseUpdate{
		EventKind: domain.EventPhaseTransition,
		Payload:   payload,
	})
	if err != nil {
		t.Fatalf("TransitionPhase failed: %v", err)
	}

	if r := evaluate(t, g, updated); r.Status != domain.GatePending || r.Reason != "waiting for code review" {
		t.Fatalf("plan-stage review must not count, got %+v", r)
	}

	seedArtifact(t, st, "run_1", domain.ArtifactReview, domain.ValidationValid,
		"CHANGES_REQUESTED\nMissing error handling in the retry path.", time.Now().Add(time.Minute))
	if r := evaluate(t, g, updated); r.Reason != "changes requested" {
		t.Fatalf("expected changes requested, got %+v", r)
	}

	seedArtifact(t, st, "run_1", domain.ArtifactReview, domain.ValidationValid,
		"APPROVED\nRetry path covered now.", time.Now().Add(2*time.Minute))
	if r := evaluate(t, g, updated); r.Status != domain.GatePassed {
		t.Fatalf("expected passed, got %+v", r)
	}
}

type errMergeChecker struct{}

func (errMergeChecker) MergeStatus(ctx context.Context, run *domain.Run) (MergeStatus, error) {
	return "", errors.New("scm unreachable")
}

func TestMergeWaitGate(t *testing.T) {
	run := &domain.Run{RunID: "run_1"}

	cases := []struct {
		status MergeStatus
		want   domain.GateStatus
	}{
		{MergeStatusMerged, domain.GatePassed},
		{MergeStatusOpen, domain.GatePending},
		{MergeStatusClosed, domain.GateFailed},
	}
	for _, tc := range cases {
		g := NewMergeWait(StaticMergeChecker{Status: tc.status})
		if r := evaluate(t, g, run); r.Status != tc.want {
			t.Fatalf("status %s: expected %s, got %+v", tc.status, tc.want, r)
		}
	}

	// A nil checker defaults to open, cleared via gate override.
	g := NewMergeWait(nil)
	if r := evaluate(t, g, run); r.Status != domain.GatePending {
		t.Fatalf("nil checker must report pending, got %+v", r)
	}

	if _, err := NewMergeWait(errMergeChecker{}).Evaluate(context.Background(), run); err == nil {
		t.Fatalf("expected checker error to surface")
	}
}

func TestNewRegistryBindings(t *testing.T) {
	st := helpers.NewTestSQLiteStore(t)
	registry := NewRegistry(st, nil)

	names := func(phase domain.RunPhase) []string {
		var out []string
		for _, g := range registry.GatesFor(phase) {
			out = append(out, g.Name())
		}
		return out
	}

	if got := names(domain.PhaseAwaitingPlanApproval); len(got) != 1 || got[0] != "plan_approval" {
		t.Fatalf("unexpected gates for awaiting_plan_approval: %v", got)
	}
	if got := names(domain.PhaseExecuting); len(got) != 1 || got[0] != "tests_pass" {
		t.Fatalf("unexpected gates for executing: %v", got)
	}
	if got := names(domain.PhaseAwaitingReview); len(got) != 2 || got[0] != "code_review" || got[1] != "merge_wait" {
		t.Fatalf("unexpected gates for awaiting_review: %v", got)
	}
	if got := names(domain.PhasePending); got != nil {
		t.Fatalf("pending must carry no gates: %v", got)
	}
	if got := names(domain.PhasePlanning); got != nil {
		t.Fatalf("planning must carry no gates: %v", got)
	}
}
