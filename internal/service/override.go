package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/windrose-labs/conductor/internal/domain"
	"github.com/windrose-labs/conductor/internal/policy"
)

// CreateOverride validates and stores an operator-granted override. The
// constraint value, when given, is stored as a hash plus a short display
// hint; matching always goes through the hash.
func (s *Service) CreateOverride(ctx context.Context, req domain.CreateOverrideRequest) (*domain.Override, error) {
	switch req.Kind {
	case domain.OverrideKindPolicy, domain.OverrideKindGate:
	default:
		return nil, fmt.Errorf("unknown override kind %q", req.Kind)
	}
	if domain.ScopeRank(req.Scope) == 0 {
		return nil, fmt.Errorf("unknown override scope %q", req.Scope)
	}
	if req.Operator == "" {
		return nil, fmt.Errorf("operator is required")
	}
	if req.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required")
	}
	switch req.Scope {
	case domain.ScopeThisRun:
		if req.RunID == "" {
			return nil, fmt.Errorf("run_id is required for scope this_run")
		}
	case domain.ScopeThisTask:
		if req.TaskID == "" {
			return nil, fmt.Errorf("task_id is required for scope this_task")
		}
	case domain.ScopeThisRepo:
		if req.RepoID == "" {
			return nil, fmt.Errorf("repo_id is required for scope this_repo")
		}
	}
	if req.ExpiresAt != nil && req.ExpiresAt.Before(time.Now()) {
		return nil, fmt.Errorf("expires_at is already in the past")
	}

	o := &domain.Override{
		OverrideID:     "ovr_" + uuid.New().String()[:8],
		Kind:           req.Kind,
		TargetID:       req.TargetID,
		Scope:          req.Scope,
		RunID:          req.RunID,
		TaskID:         req.TaskID,
		RepoID:         req.RepoID,
		ProjectID:      req.ProjectID,
		ConstraintKind: req.ConstraintKind,
		Operator:       req.Operator,
		Justification:  req.Justification,
		ExpiresAt:      req.ExpiresAt,
		CreatedAt:      time.Now(),
	}
	if req.ConstraintValue != "" {
		o.ConstraintHash = policy.HashConstraint(req.ConstraintValue)
		o.ConstraintHint = constraintHint(req.ConstraintValue)
	}
	if err := s.store.CreateOverride(ctx, o); err != nil {
		return nil, fmt.Errorf("failed to store override: %w", err)
	}

	s.logger.Info("override granted",
		zap.String("override_id", o.OverrideID),
		zap.String("kind", string(o.Kind)),
		zap.String("scope", string(o.Scope)),
		zap.String("target_id", o.TargetID),
		zap.String("operator", o.Operator))
	return o, nil
}

// ListOverrides returns a project's overrides, newest first.
func (s *Service) ListOverrides(ctx context.Context, projectID string) ([]domain.Override, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project_id is required")
	}
	return s.store.ListOverridesByProject(ctx, projectID)
}

func constraintHint(value string) string {
	if len(value) > 80 {
		return value[:80]
	}
	return value
}
