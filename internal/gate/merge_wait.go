package gate

import (
	"context"

	"github.com/windrose-labs/conductor/internal/domain"
)

// MergeStatus is the state of a run's branch at the source-control host.
type MergeStatus string

const (
	MergeStatusMerged MergeStatus = "merged"
	MergeStatusOpen   MergeStatus = "open"
	MergeStatusClosed MergeStatus = "closed"
)

// MergeChecker reports merge state. Implementations live in the
// source-control integration layer.
type MergeChecker interface {
	MergeStatus(ctx context.Context, run *domain.Run) (MergeStatus, error)
}

// StaticMergeChecker always reports the same status. It is the default when
// no source-control integration is configured; operators clear the gate with
// a gate override instead.
type StaticMergeChecker struct {
	Status MergeStatus
}

func (c StaticMergeChecker) MergeStatus(ctx context.Context, run *domain.Run) (MergeStatus, error) {
	return c.Status, nil
}

// MergeWait holds a run until its branch is merged. A pull request closed
// without merging fails the gate.
type MergeWait struct {
	merges MergeChecker
}

func NewMergeWait(merges MergeChecker) *MergeWait {
	if merges == nil {
		merges = StaticMergeChecker{Status: MergeStatusOpen}
	}
	return &MergeWait{merges: merges}
}

func (g *MergeWait) Name() string { return "merge_wait" }

func (g *MergeWait) Evaluate(ctx context.Context, run *domain.Run) (Result, error) {
	status, err := g.merges.MergeStatus(ctx, run)
	if err != nil {
		return Result{}, err
	}
	switch status {
	case MergeStatusMerged:
		return passed(), nil
	case MergeStatusClosed:
		return failed("pull request closed without merging"), nil
	default:
		return pending("waiting for merge"), nil
	}
}
