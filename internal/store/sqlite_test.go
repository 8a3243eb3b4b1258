package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/windrose-labs/conductor/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func seedRun(t *testing.T, store *SQLiteStore, runID, projectID string) *domain.Run {
	t.Helper()
	run := &domain.Run{
		RunID:     runID,
		TaskID:    "task_1",
		ProjectID: projectID,
		RepoID:    "repo_1",
		Phase:     domain.PhasePending,
		Status:    domain.RunStatusActive,
		Branch:    "agent/task-1",
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := store.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	return run
}

func TestSQLiteStoreRuns(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	seedRun(t, store, "run_1", "proj_a")

	got, err := store.GetRun(ctx, "run_1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got == nil || got.Phase != domain.PhasePending || got.LastEventSeq != 0 {
		t.Fatalf("unexpected run: %+v", got)
	}

	missing, err := store.GetRun(ctx, "run_absent")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for missing run, got %+v", missing)
	}

	seedRun(t, store, "run_2", "proj_b")
	runs, err := store.ListRuns(ctx, "proj_a", 10)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != "run_1" {
		t.Fatalf("expected only proj_a runs, got %+v", runs)
	}

	ok, err := store.SetRunStatus(ctx, "run_1", domain.RunStatusPaused)
	if err != nil || !ok {
		t.Fatalf("SetRunStatus failed: ok=%v err=%v", ok, err)
	}
	got, _ = store.GetRun(ctx, "run_1")
	if got.Status != domain.RunStatusPaused {
		t.Fatalf("expected paused status, got %s", got.Status)
	}

	n, err := store.IncrementPlanRevisions(ctx, "run_1")
	if err != nil || n != 1 {
		t.Fatalf("IncrementPlanRevisions = %d, %v", n, err)
	}
	n, err = store.IncrementReviewRounds(ctx, "run_1")
	if err != nil || n != 1 {
		t.Fatalf("IncrementReviewRounds = %d, %v", n, err)
	}
	if _, err := store.IncrementPlanRevisions(ctx, "run_absent"); !errors.Is(err, domain.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestSQLiteStoreTransitionPhase(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	seedRun(t, store, "run_1", "proj_a")

	run, event, err := store.TransitionPhase(ctx, "run_1", domain.PhasePending, domain.PhasePlanning, PhaseUpdate{
		Step:      "planning",
		EventKind: domain.EventPhaseTransition,
		Payload:   json.RawMessage(`{"from":"pending","to":"planning"}`),
	})
	if err != nil {
		t.Fatalf("TransitionPhase failed: %v", err)
	}
	if run.Phase != domain.PhasePlanning || run.LastEventSeq != 1 {
		t.Fatalf("unexpected run after transition: %+v", run)
	}
	if event.ID == 0 || event.RunSeq != 1 || event.ProjectID != "proj_a" {
		t.Fatalf("unexpected event: %+v", event)
	}

	// Losing the race surfaces as a stale transition.
	_, _, err = store.TransitionPhase(ctx, "run_1", domain.PhasePending, domain.PhasePlanning, PhaseUpdate{EventKind: domain.EventPhaseTransition})
	if !errors.Is(err, domain.ErrStaleTransition) {
		t.Fatalf("expected ErrStaleTransition, got %v", err)
	}

	_, _, err = store.TransitionPhase(ctx, "run_absent", domain.PhasePending, domain.PhasePlanning, PhaseUpdate{EventKind: domain.EventPhaseTransition})
	if !errors.Is(err, domain.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}

	// Blocked context round-trips and is cleared on the way out.
	blocked := &domain.BlockedContext{From: domain.PhasePlanning, Gate: "plan_approval", Detail: "revision ceiling"}
	run, _, err = store.TransitionPhase(ctx, "run_1", domain.PhasePlanning, domain.PhaseBlocked, PhaseUpdate{
		BlockedReason: domain.BlockedRetryLimitExceeded,
		BlockedCtx:    blocked,
		EventKind:     domain.EventRunBlocked,
	})
	if err != nil {
		t.Fatalf("TransitionPhase to blocked failed: %v", err)
	}
	if run.BlockedReason != domain.BlockedRetryLimitExceeded || run.BlockedCtx == nil || run.BlockedCtx.Gate != "plan_approval" {
		t.Fatalf("blocked context not persisted: %+v", run)
	}

	run, _, err = store.TransitionPhase(ctx, "run_1", domain.PhaseBlocked, domain.PhasePlanning, PhaseUpdate{
		Step:      "planning",
		EventKind: domain.EventRunResumed,
	})
	if err != nil {
		t.Fatalf("TransitionPhase out of blocked failed: %v", err)
	}
	if run.BlockedReason != "" || run.BlockedCtx != nil {
		t.Fatalf("blocked fields not cleared: %+v", run)
	}
	if run.LastEventSeq != 3 {
		t.Fatalf("expected event seq 3, got %d", run.LastEventSeq)
	}
}

func TestSQLiteStoreEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	seedRun(t, store, "run_1", "proj_a")
	seedRun(t, store, "run_2", "proj_b")

	for i := 0; i < 3; i++ {
		if _, err := store.AppendRunEvent(ctx, "run_1", domain.EventOperatorAction, nil); err != nil {
			t.Fatalf("AppendRunEvent failed: %v", err)
		}
	}
	if _, err := store.AppendRunEvent(ctx, "run_2", domain.EventOperatorAction, nil); err != nil {
		t.Fatalf("AppendRunEvent failed: %v", err)
	}
	if _, err := store.AppendRunEvent(ctx, "run_absent", domain.EventOperatorAction, nil); !errors.Is(err, domain.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}

	all, err := store.ListEventsAfter(ctx, 0, nil, 0)
	if err != nil {
		t.Fatalf("ListEventsAfter failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 events, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].ID <= all[i-1].ID {
			t.Fatalf("events not ascending: %d then %d", all[i-1].ID, all[i].ID)
		}
	}

	scoped, err := store.ListEventsAfter(ctx, 0, []string{"proj_b"}, 0)
	if err != nil {
		t.Fatalf("ListEventsAfter failed: %v", err)
	}
	if len(scoped) != 1 || scoped[0].RunID != "run_2" {
		t.Fatalf("unexpected scoped events: %+v", scoped)
	}

	after, err := store.ListEventsAfter(ctx, all[1].ID, nil, 0)
	if err != nil {
		t.Fatalf("ListEventsAfter failed: %v", err)
	}
	if len(after) != 2 {
		t.Fatalf("expected 2 events after cursor, got %d", len(after))
	}

	runEvents, err := store.ListRunEvents(ctx, "run_1", 1, 0)
	if err != nil {
		t.Fatalf("ListRunEvents failed: %v", err)
	}
	if len(runEvents) != 2 || runEvents[0].RunSeq != 2 || runEvents[1].RunSeq != 3 {
		t.Fatalf("unexpected run events: %+v", runEvents)
	}
}

func TestSQLiteStoreArtifactsAndActions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	seedRun(t, store, "run_1", "proj_a")

	artifact := &domain.Artifact{
		ArtifactID:       "art_1",
		RunID:            "run_1",
		Type:             domain.ArtifactPlan,
		Content:          "## Plan\n1. Do the thing",
		ValidationStatus: domain.ValidationValid,
		CreatedAt:        time.Now(),
	}
	if err := store.CreateArtifact(ctx, artifact); err != nil {
		t.Fatalf("CreateArtifact failed: %v", err)
	}

	got, err := store.GetArtifact(ctx, "art_1")
	if err != nil {
		t.Fatalf("GetArtifact failed: %v", err)
	}
	if got == nil || got.Type != domain.ArtifactPlan {
		t.Fatalf("unexpected artifact: %+v", got)
	}

	ok, err := store.SetArtifactValidation(ctx, "art_1", domain.ValidationInvalid)
	if err != nil || !ok {
		t.Fatalf("SetArtifactValidation failed: ok=%v err=%v", ok, err)
	}
	got, _ = store.GetArtifact(ctx, "art_1")
	if got.ValidationStatus != domain.ValidationInvalid {
		t.Fatalf("expected invalid status, got %s", got.ValidationStatus)
	}

	artifacts, err := store.ListArtifactsByRun(ctx, "run_1")
	if err != nil || len(artifacts) != 1 {
		t.Fatalf("ListArtifactsByRun = %d artifacts, %v", len(artifacts), err)
	}

	action := &domain.OperatorAction{
		ActionID:      "act_1",
		RunID:         "run_1",
		Action:        domain.ActionApprovePlan,
		Operator:      "maya",
		Justification: "plan looks right",
		CreatedAt:     time.Now(),
	}
	if err := store.CreateAction(ctx, action); err != nil {
		t.Fatalf("CreateAction failed: %v", err)
	}
	actions, err := store.ListActionsByRun(ctx, "run_1")
	if err != nil || len(actions) != 1 {
		t.Fatalf("ListActionsByRun = %d actions, %v", len(actions), err)
	}
	if actions[0].Operator != "maya" || actions[0].Justification != "plan looks right" {
		t.Fatalf("unexpected action: %+v", actions[0])
	}
}

func TestSQLiteStoreOverrides(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	expiry := time.Now().Add(time.Hour)
	overrides := []*domain.Override{
		{
			OverrideID: "ovr_1",
			Kind:       domain.OverrideKindPolicy,
			TargetID:   "sensitive_file_write",
			Scope:      domain.ScopeProjectWide,
			ProjectID:  "proj_a",
			Operator:   "maya",
			CreatedAt:  time.Now(),
		},
		{
			OverrideID:     "ovr_2",
			Kind:           domain.OverrideKindPolicy,
			TargetID:       "worktree_boundary",
			Scope:          domain.ScopeThisRun,
			RunID:          "run_1",
			ProjectID:      "proj_a",
			ConstraintKind: "path",
			ConstraintHash: "abc123",
			Operator:       "maya",
			ExpiresAt:      &expiry,
			CreatedAt:      time.Now(),
		},
		{
			OverrideID: "ovr_3",
			Kind:       domain.OverrideKindGate,
			TargetID:   "merge_wait",
			Scope:      domain.ScopeThisRepo,
			RepoID:     "repo_1",
			ProjectID:  "proj_b",
			Operator:   "sam",
			CreatedAt:  time.Now(),
		},
	}
	for _, o := range overrides {
		if err := store.CreateOverride(ctx, o); err != nil {
			t.Fatalf("CreateOverride %s failed: %v", o.OverrideID, err)
		}
	}

	policyA, err := store.ListOverrides(ctx, domain.OverrideKindPolicy, "proj_a")
	if err != nil {
		t.Fatalf("ListOverrides failed: %v", err)
	}
	if len(policyA) != 2 {
		t.Fatalf("expected both proj_a policy overrides, got %+v", policyA)
	}

	var scoped *domain.Override
	for i := range policyA {
		if policyA[i].OverrideID == "ovr_2" {
			scoped = &policyA[i]
		}
	}
	if scoped == nil || scoped.ConstraintHash != "abc123" || scoped.ExpiresAt == nil {
		t.Fatalf("override fields not persisted: %+v", scoped)
	}

	visible, err := store.ListOverridesByProject(ctx, "proj_b")
	if err != nil {
		t.Fatalf("ListOverridesByProject failed: %v", err)
	}
	if len(visible) != 1 || visible[0].OverrideID != "ovr_3" {
		t.Fatalf("expected only the proj_b override, got %+v", visible)
	}
}

func TestSQLiteStoreInvocations(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	seedRun(t, store, "run_1", "proj_a")

	inv := &domain.ToolInvocation{
		InvocationID:   "inv_1",
		RunID:          "run_1",
		Tool:           "write_file",
		RedactedArgs:   json.RawMessage(`{"path":"src/main.go"}`),
		ArgsHash:       "deadbeef",
		PolicyDecision: domain.DecisionAllow,
		Status:         domain.InvocationPending,
		TimeoutMs:      60000,
		CreatedAt:      time.Now(),
	}
	if err := store.CreateInvocation(ctx, inv); err != nil {
		t.Fatalf("CreateInvocation failed: %v", err)
	}

	got, err := store.GetInvocation(ctx, "inv_1")
	if err != nil {
		t.Fatalf("GetInvocation failed: %v", err)
	}
	if got == nil || got.Tool != "write_file" || got.CompletedAt != nil {
		t.Fatalf("unexpected invocation: %+v", got)
	}

	ok, err := store.UpdateInvocationResult(ctx, "inv_1", domain.InvocationCompleted, []byte(`{"verdict":"pass"}`), nil)
	if err != nil || !ok {
		t.Fatalf("UpdateInvocationResult failed: ok=%v err=%v", ok, err)
	}
	// Finalizing twice is a no-op.
	ok, err = store.UpdateInvocationResult(ctx, "inv_1", domain.InvocationFailed, nil, []byte(`{"error":"late"}`))
	if err != nil {
		t.Fatalf("UpdateInvocationResult failed: %v", err)
	}
	if ok {
		t.Fatalf("expected second finalize to be a no-op")
	}
	got, _ = store.GetInvocation(ctx, "inv_1")
	if got.Status != domain.InvocationCompleted || got.CompletedAt == nil {
		t.Fatalf("unexpected finalized invocation: %+v", got)
	}

	expired := &domain.ToolInvocation{
		InvocationID:   "inv_2",
		RunID:          "run_1",
		Tool:           "run_tests",
		ArgsHash:       "cafe",
		PolicyDecision: domain.DecisionAllow,
		Status:         domain.InvocationPending,
		TimeoutMs:      0,
		CreatedAt:      time.Now().Add(-time.Second),
	}
	if err := store.CreateInvocation(ctx, expired); err != nil {
		t.Fatalf("CreateInvocation failed: %v", err)
	}

	stale, err := store.ListExpiredInvocations(ctx, 10)
	if err != nil {
		t.Fatalf("ListExpiredInvocations failed: %v", err)
	}
	if len(stale) != 1 || stale[0].InvocationID != "inv_2" {
		t.Fatalf("expected only inv_2 expired, got %+v", stale)
	}

	invocations, err := store.ListInvocationsByRun(ctx, "run_1")
	if err != nil || len(invocations) != 2 {
		t.Fatalf("ListInvocationsByRun = %d invocations, %v", len(invocations), err)
	}
}
