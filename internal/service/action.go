package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/windrose-labs/conductor/internal/domain"
	"github.com/windrose-labs/conductor/internal/override"
	"github.com/windrose-labs/conductor/internal/store"
)

// ApplyAction records an operator decision and applies its effect. The
// action row is written before the effect: for plan approval the row itself
// is the fact gate evaluation reads.
func (s *Service) ApplyAction(ctx context.Context, runID string, req domain.ActionRequest) (*domain.ActionResponse, error) {
	if req.Operator == "" {
		return nil, fmt.Errorf("operator is required")
	}

	run, err := s.loadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if domain.IsTerminalPhase(run.Phase) {
		if req.Action == domain.ActionCancel {
			// Cancelling a finished run is a no-op.
			return &domain.ActionResponse{RunID: runID, Phase: run.Phase, Status: run.Status}, nil
		}
		return nil, fmt.Errorf("%w: run %s is %s", domain.ErrRunTerminal, runID, run.Phase)
	}

	// Preconditions, checked before the action lands in the audit log.
	switch req.Action {
	case domain.ActionApprovePlan, domain.ActionRejectRun:
		if run.Phase != domain.PhaseAwaitingPlanApproval {
			return nil, fmt.Errorf("%w: %s requires phase awaiting_plan_approval, run is %s",
				domain.ErrActionNotAllowed, req.Action, run.Phase)
		}
		if req.Action == domain.ActionRejectRun && req.Justification == "" {
			return nil, fmt.Errorf("justification is required to reject a run")
		}
	case domain.ActionRetry:
		if run.Phase != domain.PhaseBlocked {
			return nil, fmt.Errorf("%w: retry applies to blocked runs, run is %s",
				domain.ErrActionNotAllowed, run.Phase)
		}
	case domain.ActionResume:
		if run.Phase != domain.PhaseBlocked && run.Status != domain.RunStatusPaused {
			return nil, fmt.Errorf("%w: run %s is neither blocked nor paused",
				domain.ErrActionNotAllowed, runID)
		}
	case domain.ActionPause, domain.ActionCancel, domain.ActionDenyPolicyException:
	case domain.ActionGrantPolicyException:
		if req.Override == nil {
			return nil, fmt.Errorf("override is required to grant a policy exception")
		}
	default:
		return nil, fmt.Errorf("unknown action %q", req.Action)
	}

	action := &domain.OperatorAction{
		ActionID:      "act_" + uuid.New().String()[:8],
		RunID:         runID,
		Action:        req.Action,
		Operator:      req.Operator,
		Justification: req.Justification,
		CreatedAt:     time.Now(),
	}
	if err := s.store.CreateAction(ctx, action); err != nil {
		return nil, fmt.Errorf("failed to record action: %w", err)
	}
	s.publish(ctx, runID, domain.EventOperatorAction, domain.OperatorActionPayload{
		ActionID: action.ActionID,
		Action:   action.Action,
		Operator: action.Operator,
	})

	switch req.Action {
	case domain.ActionApprovePlan, domain.ActionRejectRun:
		run, err = s.EvaluateGatesAndTransition(ctx, runID)
	case domain.ActionRetry:
		run, err = s.retryRun(ctx, run)
	case domain.ActionResume:
		run, err = s.resumeRun(ctx, run)
	case domain.ActionPause:
		run, err = s.pauseRun(ctx, run)
	case domain.ActionCancel:
		run, err = s.doTransition(ctx, runID, run.Phase, domain.PhaseCancelled, store.PhaseUpdate{Result: req.Justification})
	case domain.ActionGrantPolicyException:
		run, err = s.grantException(ctx, run, req)
	case domain.ActionDenyPolicyException:
		// Recorded only. The run stays blocked until an operator cancels
		// it or resolves the block another way.
	}
	if err != nil {
		return nil, err
	}

	return &domain.ActionResponse{
		ActionID: action.ActionID,
		RunID:    runID,
		Phase:    run.Phase,
		Status:   run.Status,
	}, nil
}

func (s *Service) pauseRun(ctx context.Context, run *domain.Run) (*domain.Run, error) {
	if run.Status == domain.RunStatusPaused {
		return run, nil
	}
	if _, err := s.store.SetRunStatus(ctx, run.RunID, domain.RunStatusPaused); err != nil {
		return nil, fmt.Errorf("failed to pause run: %w", err)
	}
	run.Status = domain.RunStatusPaused
	s.publish(ctx, run.RunID, domain.EventRunPaused, nil)
	return run, nil
}

func (s *Service) resumeRun(ctx context.Context, run *domain.Run) (*domain.Run, error) {
	if run.Status == domain.RunStatusPaused {
		if _, err := s.store.SetRunStatus(ctx, run.RunID, domain.RunStatusActive); err != nil {
			return nil, fmt.Errorf("failed to resume run: %w", err)
		}
		run.Status = domain.RunStatusActive
		if run.Phase != domain.PhaseBlocked {
			s.publish(ctx, run.RunID, domain.EventRunResumed, nil)
		}
	}
	if run.Phase == domain.PhaseBlocked {
		resumed, err := s.leaveBlocked(ctx, run)
		if err != nil {
			return nil, err
		}
		run = resumed
	}
	// Decisions recorded while the run was held can now take effect.
	return s.EvaluateGatesAndTransition(ctx, run.RunID)
}

// retryRun resumes a blocked run and hands it back to the worker layer.
func (s *Service) retryRun(ctx context.Context, run *domain.Run) (*domain.Run, error) {
	resumed, err := s.leaveBlocked(ctx, run)
	if err != nil {
		return nil, err
	}
	if err := s.enqueuer.Enqueue(ctx, resumed); err != nil {
		s.logger.Warn("failed to re-enqueue run",
			zap.String("run_id", run.RunID), zap.Error(err))
		return s.blockRun(ctx, resumed, domain.BlockedEnqueueFailed, &domain.BlockedContext{
			From:   resumed.Phase,
			Detail: err.Error(),
		})
	}
	return resumed, nil
}

func (s *Service) grantException(ctx context.Context, run *domain.Run, req domain.ActionRequest) (*domain.Run, error) {
	ovReq := *req.Override
	if ovReq.Kind == "" {
		ovReq.Kind = domain.OverrideKindPolicy
	}
	ovReq.ProjectID = run.ProjectID
	switch ovReq.Scope {
	case domain.ScopeThisRun:
		ovReq.RunID = run.RunID
	case domain.ScopeThisTask:
		ovReq.TaskID = run.TaskID
	case domain.ScopeThisRepo:
		ovReq.RepoID = run.RepoID
	}
	ovReq.Operator = req.Operator
	if ovReq.Justification == "" {
		ovReq.Justification = req.Justification
	}

	granted, err := s.CreateOverride(ctx, ovReq)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, run.RunID, domain.EventOverrideGranted, domain.OverrideGrantedPayload{
		OverrideID: granted.OverrideID,
		Kind:       granted.Kind,
		TargetID:   granted.TargetID,
		Scope:      granted.Scope,
	})
	return s.resumeIfCleared(ctx, run, granted)
}

// resumeIfCleared resumes a blocked run when an override now covers the
// decision that blocked it. The lookup goes through the resolver, so a
// broader pre-existing grant counts the same as the one just created.
func (s *Service) resumeIfCleared(ctx context.Context, run *domain.Run, granted *domain.Override) (*domain.Run, error) {
	if run.Phase != domain.PhaseBlocked || run.BlockedCtx == nil {
		return run, nil
	}

	var criteria override.Criteria
	switch {
	case run.BlockedReason == domain.BlockedPolicyExceptionRequired && granted.Kind == domain.OverrideKindPolicy:
		criteria = override.Criteria{
			Kind:           domain.OverrideKindPolicy,
			TargetID:       run.BlockedCtx.PolicyID,
			ConstraintKind: run.BlockedCtx.ConstraintKind,
			ConstraintHash: run.BlockedCtx.ConstraintHash,
			RunID:          run.RunID,
			TaskID:         run.TaskID,
			RepoID:         run.RepoID,
			ProjectID:      run.ProjectID,
		}
	case run.BlockedReason == domain.BlockedGateFailed && granted.Kind == domain.OverrideKindGate:
		criteria = override.Criteria{
			Kind:      domain.OverrideKindGate,
			TargetID:  run.BlockedCtx.Gate,
			RunID:     run.RunID,
			TaskID:    run.TaskID,
			RepoID:    run.RepoID,
			ProjectID: run.ProjectID,
		}
	default:
		return run, nil
	}

	match, err := s.overrides.FindMatching(ctx, criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve override: %w", err)
	}
	if match == nil {
		return run, nil
	}

	resumed, err := s.leaveBlocked(ctx, run)
	if err != nil {
		return nil, err
	}
	// A gate override takes effect through re-evaluation.
	return s.EvaluateGatesAndTransition(ctx, resumed.RunID)
}
