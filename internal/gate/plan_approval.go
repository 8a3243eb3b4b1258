package gate

import (
	"context"
	"time"

	"github.com/windrose-labs/conductor/internal/domain"
	"github.com/windrose-labs/conductor/internal/store"
)

// PlanApproval holds a run until its plan is written, reviewed with an
// approving verdict, and explicitly approved by an operator. Only artifacts
// and actions from the current revision cycle count: anything older than the
// latest valid plan belongs to a cycle that was already sent back.
type PlanApproval struct {
	store store.Store
}

func NewPlanApproval(st store.Store) *PlanApproval {
	return &PlanApproval{store: st}
}

func (g *PlanApproval) Name() string { return "plan_approval" }

func (g *PlanApproval) Evaluate(ctx context.Context, run *domain.Run) (Result, error) {
	artifacts, err := g.store.ListArtifactsByRun(ctx, run.RunID)
	if err != nil {
		return Result{}, err
	}

	plan := latestValid(artifacts, domain.ArtifactPlan, time.Time{})
	if plan == nil {
		return pending("waiting for a valid plan"), nil
	}

	review := latestValid(artifacts, domain.ArtifactReview, plan.CreatedAt)
	if review == nil {
		return pending("waiting for plan review"), nil
	}

	verdict, err := reviewVerdict(ctx, g.store, review)
	if err != nil {
		return Result{}, err
	}
	if verdict != domain.VerdictApproved {
		return pending("changes requested"), nil
	}

	actions, err := g.store.ListActionsByRun(ctx, run.RunID)
	if err != nil {
		return Result{}, err
	}
	decision := latestPlanDecision(actions, plan.CreatedAt)
	if decision == nil {
		return pending("awaiting operator approval"), nil
	}
	if decision.Action == domain.ActionRejectRun {
		reason := decision.Justification
		if reason == "" {
			reason = "plan rejected by operator"
		}
		return failed(reason), nil
	}
	return passed(), nil
}

// latestPlanDecision returns the newest approve_plan or reject_run action
// issued at or after notBefore, or nil.
func latestPlanDecision(actions []domain.OperatorAction, notBefore time.Time) *domain.OperatorAction {
	var latest *domain.OperatorAction
	for i := range actions {
		a := &actions[i]
		if a.Action != domain.ActionApprovePlan && a.Action != domain.ActionRejectRun {
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
