// Package override resolves operator-granted exceptions to policy and gate
// decisions.
package override

import (
	"context"
	"time"

	"github.com/windrose-labs/conductor/internal/domain"
	"github.com/windrose-labs/conductor/internal/store"
)

// Criteria identifies the decision an override would have to cover.
type Criteria struct {
	Kind           domain.OverrideKind
	TargetID       string
	ConstraintKind string
	ConstraintHash string
	RunID          string
	TaskID         string
	RepoID         string
	ProjectID      string
}

// Resolver looks up the broadest applicable override for a criteria set.
type Resolver struct {
	store store.Store
}

func NewResolver(st store.Store) *Resolver {
	return &Resolver{store: st}
}

// FindMatching returns the non-expired override with the broadest scope that
// covers the criteria, or nil when none does. Overrides with absent
// target/constraint fields act as wildcards for those fields. Ties on scope
// go to the most recently granted override.
func (r *Resolver) FindMatching(ctx context.Context, criteria Criteria) (*domain.Override, error) {
	candidates, err := r.store.ListOverrides(ctx, criteria.Kind, criteria.ProjectID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var best *domain.Override
	for i := range candidates {
		candidate := &candidates[i]
		if !matches(candidate, criteria, now) {
			continue
		}
		if best == nil || rank(candidate) > rank(best) ||
			(rank(candidate) == rank(best) && candidate.CreatedAt.After(best.CreatedAt)) {
			best = candidate
		}
	}
	return best, nil
}

func matches(o *domain.Override, c Criteria, now time.Time) bool {
	if o.Kind != c.Kind || o.Expired(now) {
		return false
	}
	if o.TargetID != "" && o.TargetID != c.TargetID {
		return false
	}
	if o.ConstraintKind != "" && o.ConstraintKind != c.ConstraintKind {
		return false
	}
	if o.ConstraintHash != "" && o.ConstraintHash != c.ConstraintHash {
		return false
	}

	switch o.Scope {
	case domain.ScopeThisRun:
		return o.RunID != "" && o.RunID == c.RunID
	case domain.ScopeThisTask:
		return o.TaskID != "" && o.TaskID == c.TaskID
	case domain.ScopeThisRepo:
		return o.RepoID != "" && o.RepoID == c.RepoID
	case domain.ScopeProjectWide:
		return o.ProjectID == c.ProjectID
	default:
		return false
	}
}

func rank(o *domain.Override) int {
	return domain.ScopeRank(o.Scope)
}
