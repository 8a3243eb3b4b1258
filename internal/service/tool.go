package service

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/windrose-labs/conductor/internal/domain"
	"github.com/windrose-labs/conductor/internal/override"
	"github.com/windrose-labs/conductor/internal/policy"
)

// InvokeTool is the guard in front of every tool call an agent attempts. The
// policy verdict is produced before any side effect; a block is final unless
// a non-expired override covers it. Every attempt is recorded with redacted
// arguments and a content hash, never the raw values.
func (s *Service) InvokeTool(ctx context.Context, runID string, req domain.ToolInvokeRequest) (*domain.ToolInvokeResponse, error) {
	if req.Tool == "" {
		return nil, fmt.Errorf("tool is required")
	}

	run, err := s.loadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if domain.IsTerminalPhase(run.Phase) {
		return nil, fmt.Errorf("%w: run %s is %s", domain.ErrRunTerminal, runID, run.Phase)
	}
	if run.Status == domain.RunStatusPaused {
		return nil, fmt.Errorf("%w: run %s is paused", domain.ErrActionNotAllowed, runID)
	}

	var args map[string]interface{}
	if len(req.Args) > 0 {
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return nil, fmt.Errorf("invalid tool args: %w", err)
		}
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	decision := s.policy.Evaluate(ctx, req.Tool, args, policy.ExecContext{
		RunID:        run.RunID,
		TaskID:       run.TaskID,
		RepoID:       run.RepoID,
		ProjectID:    run.ProjectID,
		WorktreeRoot: filepath.Join(s.config.Workflow.WorktreeRoot, run.RunID),
	})

	timeoutMs := req.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = policy.DefaultTimeoutMs(req.Tool)
	}
	if timeoutMs <= 0 {
		timeoutMs = int(s.config.Workflow.ToolTimeout / time.Millisecond)
	}

	now := time.Now()
	inv := &domain.ToolInvocation{
		InvocationID:   "inv_" + uuid.New().String()[:8],
		RunID:          run.RunID,
		Tool:           req.Tool,
		RedactedArgs:   policy.RedactArgs(args),
		ArgsHash:       policy.HashArgs(args),
		PolicyDecision: domain.DecisionAllow,
		Status:         domain.InvocationPending,
		TimeoutMs:      timeoutMs,
		CreatedAt:      now,
	}

	var granted *domain.Override
	if decision.Decision == domain.DecisionBlock {
		granted, err = s.overrides.FindMatching(ctx, override.Criteria{
			Kind:           domain.OverrideKindPolicy,
			TargetID:       decision.PolicyID,
			ConstraintKind: decision.ConstraintKind,
			ConstraintHash: policy.HashConstraint(decision.ConstraintValue),
			RunID:          run.RunID,
			TaskID:         run.TaskID,
			RepoID:         run.RepoID,
			ProjectID:      run.ProjectID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to resolve override: %w", err)
		}
	}

	if decision.Decision == domain.DecisionBlock && granted == nil {
		inv.PolicyDecision = domain.DecisionBlock
		inv.PolicyID = decision.PolicyID
		inv.Status = domain.InvocationBlocked
		completed := now
		inv.CompletedAt = &completed
		inv.Error, _ = json.Marshal(map[string]string{
			"code":      "policy_blocked",
			"policy_id": decision.PolicyID,
			"message":   decision.Reason,
		})
		if err := s.store.CreateInvocation(ctx, inv); err != nil {
			return nil, fmt.Errorf("failed to record invocation: %w", err)
		}

		s.publish(ctx, run.RunID, domain.EventToolDenied, domain.ToolDeniedPayload{
			InvocationID: inv.InvocationID,
			Tool:         req.Tool,
			PolicyID:     decision.PolicyID,
			Reason:       decision.Reason,
		})
		if s.metrics != nil {
			s.metrics.PolicyDecisions.WithLabelValues(decision.PolicyID, string(domain.DecisionBlock)).Inc()
		}

		// A denial the workflow cannot route around parks the run until an
		// operator grants or denies an exception.
		if req.Required && run.Phase != domain.PhaseBlocked {
			if _, err := s.blockRun(ctx, run, domain.BlockedPolicyExceptionRequired, &domain.BlockedContext{
				From:           run.Phase,
				PolicyID:       decision.PolicyID,
				ConstraintKind: decision.ConstraintKind,
				ConstraintHash: policy.HashConstraint(decision.ConstraintValue),
				Detail:         decision.Reason,
			}); err != nil {
				s.logger.Error("failed to park run on required tool denial",
					zap.String("run_id", run.RunID), zap.Error(err))
			}
		}
		return nil, &domain.PolicyBlockedError{PolicyID: decision.PolicyID, Reason: decision.Reason}
	}

	var reason string
	if granted != nil {
		// The veto and the override that lifted it both land in the audit
		// row.
		inv.PolicyID = decision.PolicyID
		inv.OverrideID = granted.OverrideID
		reason = decision.Reason
	}
	if err := s.store.CreateInvocation(ctx, inv); err != nil {
		return nil, fmt.Errorf("failed to record invocation: %w", err)
	}
	if s.metrics != nil {
		policyID := decision.PolicyID
		if policyID == "" {
			policyID = "none"
		}
		s.metrics.PolicyDecisions.WithLabelValues(policyID, string(domain.DecisionAllow)).Inc()
	}

	return &domain.ToolInvokeResponse{
		InvocationID: inv.InvocationID,
		Decision:     domain.DecisionAllow,
		PolicyID:     inv.PolicyID,
		OverrideID:   inv.OverrideID,
		Reason:       reason,
		Status:       inv.Status,
	}, nil
}

// SubmitInvocationResult records the outcome of a dispatched tool call.
// Resubmission after the invocation is finalized is a no-op returning the
// stored state.
func (s *Service) SubmitInvocationResult(ctx context.Context, invocationID string, req domain.InvocationResultRequest) (*domain.InvocationResultResponse, error) {
	inv, err := s.store.GetInvocation(ctx, invocationID)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, domain.ErrInvocationNotFound
	}

	var status domain.InvocationStatus
	switch req.Status {
	case "completed":
		status = domain.InvocationCompleted
	case "failed":
		status = domain.InvocationFailed
	default:
		return nil, fmt.Errorf("invalid result status %q", req.Status)
	}

	updated, err := s.store.UpdateInvocationResult(ctx, invocationID, status, req.Result, req.Error)
	if err != nil {
		return nil, fmt.Errorf("failed to store result: %w", err)
	}
	if !updated {
		current, err := s.store.GetInvocation(ctx, invocationID)
		if err != nil {
			return nil, err
		}
		resp := &domain.InvocationResultResponse{InvocationID: invocationID, Status: current.Status}
		if current.CompletedAt != nil {
			resp.CompletedAt = current.CompletedAt.UnixMilli()
		}
		return resp, nil
	}

	if status == domain.InvocationCompleted {
		s.promoteSourcedArtifacts(ctx, inv.RunID, invocationID)
	}

	// A fresh result can resolve a gate (a test run reporting back, a
	// review tool finishing). Evaluation failures do not undo the intake.
	if _, err := s.EvaluateGatesAndTransition(ctx, inv.RunID); err != nil {
		s.logger.Warn("gate evaluation after tool result failed",
			zap.String("run_id", inv.RunID), zap.Error(err))
	}

	return &domain.InvocationResultResponse{
		InvocationID: invocationID,
		Status:       status,
		CompletedAt:  time.Now().UnixMilli(),
	}, nil
}

// promoteSourcedArtifacts marks artifacts that were waiting on this
// invocation's result as valid. A failed invocation leaves its artifacts
// pending; a fresh submission supersedes them.
func (s *Service) promoteSourcedArtifacts(ctx context.Context, runID, invocationID string) {
	artifacts, err := s.store.ListArtifactsByRun(ctx, runID)
	if err != nil {
		s.logger.Warn("failed to list artifacts for promotion",
			zap.String("run_id", runID), zap.Error(err))
		return
	}
	for i := range artifacts {
		a := &artifacts[i]
		if a.SourceInvocationID != invocationID || a.ValidationStatus != domain.ValidationPending {
			continue
		}
		if _, err := s.store.SetArtifactValidation(ctx, a.ArtifactID, domain.ValidationValid); err != nil {
			s.logger.Warn("failed to promote artifact",
				zap.String("artifact_id", a.ArtifactID), zap.Error(err))
		}
	}
}
