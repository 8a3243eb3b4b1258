package gate

import (
	"context"

	"github.com/windrose-labs/conductor/internal/domain"
	"github.com/windrose-labs/conductor/internal/store"
)

// CodeReview holds a run in awaiting_review until a reviewer approves the
// implementation. Reviews from the plan approval stage do not count: only
// reviews created after the run last entered awaiting_review can speak for
// the code.
type CodeReview struct {
	store store.Store
}

func NewCodeReview(st store.Store) *CodeReview {
	return &CodeReview{store: st}
}

func (g *CodeReview) Name() string { return "code_review" }

func (g *CodeReview) Evaluate(ctx context.Context, run *domain.Run) (Result, error) {
	enteredAt, err := lastEntered(ctx, g.store, run.RunID, domain.PhaseAwaitingReview)
	if err != nil {
		return Result{}, err
	}

	artifacts, err := g.store.ListArtifactsByRun(ctx, run.RunID)
	if err != nil {
		return Result{}, err
	}
	review := latestValid(artifacts, domain.ArtifactReview, enteredAt)
	if review == nil {
		return pending("waiting for code review"), nil
	}

	verdict, err := reviewVerdict(ctx, g.store, review)
	if err != nil {
		return Result{}, err
	}
	if verdict != domain.VerdictApproved {
		return pending("changes requested"), nil
	}
	return passed(), nil
}
