package override

import (
	"context"
	"testing"
	"time"

	"github.com/windrose-labs/conductor/internal/domain"
	"github.com/windrose-labs/conductor/internal/store"
	"github.com/windrose-labs/conductor/tests/helpers"
)

func baseCriteria() Criteria {
	return Criteria{
		Kind:           domain.OverrideKindPolicy,
		TargetID:       "sensitive_file_write",
		ConstraintKind: "path",
		ConstraintHash: "hash_env",
		RunID:          "run_1",
		TaskID:         "task_1",
		RepoID:         "repo_1",
		ProjectID:      "proj_1",
	}
}

func seedOverride(t *testing.T, st *store.SQLiteStore, o *domain.Override) {
	t.Helper()
	if o.Operator == "" {
		o.Operator = "maya"
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	if err := st.CreateOverride(context.Background(), o); err != nil {
		t.Fatalf("CreateOverride %s failed: %v", o.OverrideID, err)
	}
}

func TestFindMatchingPrefersBroadestScope(t *testing.T) {
	ctx := context.Background()
	st := helpers.NewTestSQLiteStore(t)
	resolver := NewResolver(st)

	seedOverride(t, st, &domain.Override{
		OverrideID: "ovr_run",
		Kind:       domain.OverrideKindPolicy,
		TargetID:   "sensitive_file_write",
		Scope:      domain.ScopeThisRun,
		RunID:      "run_1",
		ProjectID:  "proj_1",
	})
	seedOverride(t, st, &domain.Override{
		OverrideID: "ovr_project",
		Kind:       domain.OverrideKindPolicy,
		TargetID:   "sensitive_file_write",
		Scope:      domain.ScopeProjectWide,
		ProjectID:  "proj_1",
	})

	got, err := resolver.FindMatching(ctx, baseCriteria())
	if err != nil {
		t.Fatalf("FindMatching failed: %v", err)
	}
	if got == nil || got.OverrideID != "ovr_project" {
		t.Fatalf("expected project_wide override to win, got %+v", got)
	}
}

func TestFindMatchingSkipsExpired(t *testing.T) {
	ctx := context.Background()
	st := helpers.NewTestSQLiteStore(t)
	resolver := NewResolver(st)

	past := time.Now().Add(-time.Minute)
	seedOverride(t, st, &domain.Override{
		OverrideID: "ovr_expired",
		Kind:       domain.OverrideKindPolicy,
		TargetID:   "sensitive_file_write",
		Scope:      domain.ScopeProjectWide,
		ProjectID:  "proj_1",
		ExpiresAt:  &past,
	})
	seedOverride(t, st, &domain.Override{
		OverrideID: "ovr_live",
		Kind:       domain.OverrideKindPolicy,
		TargetID:   "sensitive_file_write",
		Scope:      domain.ScopeThisRun,
		RunID:      "run_1",
		ProjectID:  "proj_1",
	})

	got, err := resolver.FindMatching(ctx, baseCriteria())
	if err != nil {
		t.Fatalf("FindMatching failed: %v", err)
	}
	if got == nil || got.OverrideID != "ovr_live" {
		t.Fatalf("expired override must never match, got %+v", got)
	}
}

func TestFindMatchingConstraintNarrowing(t *testing.T) {
	ctx := context.Background()
	st := helpers.NewTestSQLiteStore(t)
	resolver := NewResolver(st)

	seedOverride(t, st, &domain.Override{
		OverrideID:     "ovr_other_path",
		Kind:           domain.OverrideKindPolicy,
		TargetID:       "sensitive_file_write",
		Scope:          domain.ScopeProjectWide,
		ProjectID:      "proj_1",
		ConstraintKind: "path",
		ConstraintHash: "hash_other",
	})

	got, err := resolver.FindMatching(ctx, baseCriteria())
	if err != nil {
		t.Fatalf("FindMatching failed: %v", err)
	}
	if got != nil {
		t.Fatalf("narrowed override must not match a different constraint, got %+v", got)
	}

	// An override with no constraint fields is a blanket exception.
	seedOverride(t, st, &domain.Override{
		OverrideID: "ovr_wildcard",
		Kind:       domain.OverrideKindPolicy,
		TargetID:   "sensitive_file_write",
		Scope:      domain.ScopeThisRun,
		RunID:      "run_1",
		ProjectID:  "proj_1",
	})

	got, err = resolver.FindMatching(ctx, baseCriteria())
	if err != nil {
		t.Fatalf("FindMatching failed: %v", err)
	}
	if got == nil || got.OverrideID != "ovr_wildcard" {
		t.Fatalf("wildcard override should match any constraint, got %+v", got)
	}
}

func TestFindMatchingScopeTargets(t *testing.T) {
	ctx := context.Background()
	st := helpers.NewTestSQLiteStore(t)
	resolver := NewResolver(st)

	seedOverride(t, st, &domain.Override{
		OverrideID: "ovr_other_run",
		Kind:       domain.OverrideKindPolicy,
		TargetID:   "sensitive_file_write",
		Scope:      domain.ScopeThisRun,
		RunID:      "run_other",
		ProjectID:  "proj_1",
	})
	seedOverride(t, st, &domain.Override{
		OverrideID: "ovr_gate_kind",
		Kind:       domain.OverrideKindGate,
		TargetID:   "merge_wait",
		Scope:      domain.ScopeProjectWide,
		ProjectID:  "proj_1",
	})
	seedOverride(t, st, &domain.Override{
		OverrideID: "ovr_other_target",
		Kind:       domain.OverrideKindPolicy,
		TargetID:   "shell_injection",
		Scope:      domain.ScopeProjectWide,
		ProjectID:  "proj_1",
	})

	got, err := resolver.FindMatching(ctx, baseCriteria())
	if err != nil {
		t.Fatalf("FindMatching failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no match across run, kind and target mismatches, got %+v", got)
	}

	seedOverride(t, st, &domain.Override{
		OverrideID: "ovr_task",
		Kind:       domain.OverrideKindPolicy,
		TargetID:   "sensitive_file_write",
		Scope:      domain.ScopeThisTask,
		TaskID:     "task_1",
		ProjectID:  "proj_1",
	})
	seedOverride(t, st, &domain.Override{
		OverrideID: "ovr_repo",
		Kind:       domain.OverrideKindPolicy,
		TargetID:   "sensitive_file_write",
		Scope:      domain.ScopeThisRepo,
		RepoID:     "repo_1",
		ProjectID:  "proj_1",
	})

	got, err = resolver.FindMatching(ctx, baseCriteria())
	if err != nil {
		t.Fatalf("FindMatching failed: %v", err)
	}
	if got == nil || got.OverrideID != "ovr_repo" {
		t.Fatalf("expected this_repo to outrank this_task, got %+v", got)
	}
}

func TestFindMatchingTieGoesToNewest(t *testing.T) {
	ctx := context.Background()
	st := helpers.NewTestSQLiteStore(t)
	resolver := NewResolver(st)

	seedOverride(t, st, &domain.Override{
		OverrideID: "ovr_old",
		Kind:       domain.OverrideKindPolicy,
		TargetID:   "sensitive_file_write",
		Scope:      domain.ScopeThisRun,
		RunID:      "run_1",
		ProjectID:  "proj_1",
		CreatedAt:  time.Now().Add(-time.Hour),
	})
	seedOverride(t, st, &domain.Override{
		OverrideID: "ovr_new",
		Kind:       domain.OverrideKindPolicy,
		TargetID:   "sensitive_file_write",
		Scope:      domain.ScopeThisRun,
		RunID:      "run_1",
		ProjectID:  "proj_1",
		CreatedAt:  time.Now(),
	})

	got, err := resolver.FindMatching(ctx, baseCriteria())
	if err != nil {
		t.Fatalf("FindMatching failed: %v", err)
	}
	if got == nil || got.OverrideID != "ovr_new" {
		t.Fatalf("expected newest override on scope tie, got %+v", got)
	}
}
