package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/windrose-labs/conductor/internal/domain"
	"github.com/windrose-labs/conductor/internal/store"
)

// CreateRun registers a run in pending and hands it to the worker layer. An
// enqueue failure does not lose the run: it is parked in blocked with
// enqueue_failed so an operator can retry once the queue recovers.
func (s *Service) CreateRun(ctx context.Context, req domain.CreateRunRequest) (*domain.CreateRunResponse, error) {
	if req.TaskID == "" {
		return nil, fmt.Errorf("task_id is required")
	}
	if req.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required")
	}
	if req.RepoID == "" {
		return nil, fmt.Errorf("repo_id is required")
	}

	branch := req.Branch
	if branch == "" {
		branch = "agent/" + req.TaskID
	}
	baseBranch := req.BaseBranch
	if baseBranch == "" {
		baseBranch = "main"
	}

	now := time.Now()
	run := &domain.Run{
		RunID:      "run_" + uuid.New().String()[:8],
		TaskID:     req.TaskID,
		ProjectID:  req.ProjectID,
		RepoID:     req.RepoID,
		Phase:      domain.PhasePending,
		Status:     domain.RunStatusActive,
		Branch:     branch,
		BaseBranch: baseBranch,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	s.publish(ctx, run.RunID, domain.EventRunCreated, domain.RunCreatedPayload{
		TaskID:    run.TaskID,
		ProjectID: run.ProjectID,
		RepoID:    run.RepoID,
		Branch:    run.Branch,
	})

	if err := s.enqueuer.Enqueue(ctx, run); err != nil {
		s.logger.Warn("failed to enqueue run",
			zap.String("run_id", run.RunID), zap.Error(err))
		blocked, blockErr := s.blockRun(ctx, run, domain.BlockedEnqueueFailed, &domain.BlockedContext{
			From:   run.Phase,
			Detail: err.Error(),
		})
		if blockErr != nil {
			return nil, fmt.Errorf("failed to park unenqueued run: %w", blockErr)
		}
		run = blocked
	}

	return &domain.CreateRunResponse{RunID: run.RunID, Phase: run.Phase}, nil
}

// GetRun returns a single run.
func (s *Service) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	return s.loadRun(ctx, runID)
}

// GetRunDetail returns a run with its artifacts, operator actions, and tool
// invocations.
func (s *Service) GetRunDetail(ctx context.Context, runID string) (*domain.RunDetailResponse, error) {
	run, err := s.loadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	artifacts, err := s.store.ListArtifactsByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	actions, err := s.store.ListActionsByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	invocations, err := s.store.ListInvocationsByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invocations: %w", err)
	}
	return &domain.RunDetailResponse{
		Run:         run,
		Artifacts:   artifacts,
		Actions:     actions,
		Invocations: invocations,
	}, nil
}

// ListRuns returns runs, optionally filtered to one project.
func (s *Service) ListRuns(ctx context.Context, projectID string, limit int) ([]domain.Run, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListRuns(ctx, projectID, limit)
}

// TransitionPhase applies a collaborator-driven phase change. The from phase
// is the caller's expectation: if the run has moved on, the compare-and-set
// fails with ErrStaleTransition and no row or event is written.
func (s *Service) TransitionPhase(ctx context.Context, runID string, req domain.TransitionRequest) (*domain.Run, error) {
	if !domain.ValidTransition(req.From, req.To) {
		return nil, &domain.InvalidTransitionError{From: req.From, To: req.To}
	}
	// Blocked is entered only through the engine, which records the reason
	// and the origin phase. Collaborators cannot request it directly.
	if req.To == domain.PhaseBlocked {
		return nil, &domain.InvalidTransitionError{From: req.From, To: req.To}
	}

	run, err := s.loadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status == domain.RunStatusPaused && req.To != domain.PhaseCancelled {
		return nil, fmt.Errorf("%w: run %s is paused", domain.ErrActionNotAllowed, runID)
	}
	if req.From == domain.PhaseBlocked && req.To != domain.PhaseCancelled {
		if run.BlockedCtx == nil || run.BlockedCtx.From != req.To {
			return nil, fmt.Errorf("%w: blocked runs resume into the phase they were blocked from", domain.ErrActionNotAllowed)
		}
	}

	// A backward edge is one revision cycle. The counters only move here
	// and at in-place plan resubmission, and crossing the ceiling parks
	// the run instead of letting it loop.
	switch {
	case req.From == domain.PhaseAwaitingPlanApproval && req.To == domain.PhasePlanning:
		revisions, err := s.store.IncrementPlanRevisions(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("failed to count plan revision: %w", err)
		}
		if revisions > s.config.Workflow.MaxPlanRevisions {
			return s.blockRun(ctx, run, domain.BlockedRetryLimitExceeded, &domain.BlockedContext{
				From:   run.Phase,
				Detail: fmt.Sprintf("plan revised %d times, ceiling is %d", revisions, s.config.Workflow.MaxPlanRevisions),
			})
		}
	case req.From == domain.PhaseAwaitingReview && req.To == domain.PhaseExecuting:
		rounds, err := s.store.IncrementReviewRounds(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("failed to count review round: %w", err)
		}
		if rounds > s.config.Workflow.MaxReviewRounds {
			return s.blockRun(ctx, run, domain.BlockedRetryLimitExceeded, &domain.BlockedContext{
				From:   run.Phase,
				Detail: fmt.Sprintf("review cycled %d times, ceiling is %d", rounds, s.config.Workflow.MaxReviewRounds),
			})
		}
	}

	return s.doTransition(ctx, runID, req.From, req.To, store.PhaseUpdate{Step: req.Step})
}

// blockRun parks a run in blocked with the reason and context recorded. The
// context's From phase is where a resume returns the run to.
func (s *Service) blockRun(ctx context.Context, run *domain.Run, reason domain.BlockedReason, bctx *domain.BlockedContext) (*domain.Run, error) {
	return s.doTransition(ctx, run.RunID, run.Phase, domain.PhaseBlocked, store.PhaseUpdate{
		BlockedReason: reason,
		BlockedCtx:    bctx,
	})
}

// leaveBlocked resumes a blocked run into the phase it was blocked from.
func (s *Service) leaveBlocked(ctx context.Context, run *domain.Run) (*domain.Run, error) {
	if run.Phase != domain.PhaseBlocked {
		return run, nil
	}
	if run.BlockedCtx == nil {
		return nil, fmt.Errorf("%w: blocked run %s has no recorded origin phase", domain.ErrActionNotAllowed, run.RunID)
	}
	return s.doTransition(ctx, run.RunID, domain.PhaseBlocked, run.BlockedCtx.From, store.PhaseUpdate{})
}

// doTransition runs the compare-and-set with the matching event kind and
// payload filled in, then forwards the event written in the same transaction.
func (s *Service) doTransition(ctx context.Context, runID string, from, to domain.RunPhase, upd store.PhaseUpdate) (*domain.Run, error) {
	upd.EventKind = transitionEventKind(from, to)

	var payload interface{}
	if to == domain.PhaseBlocked {
		payload = domain.RunBlockedPayload{Reason: upd.BlockedReason, Context: upd.BlockedCtx}
	} else {
		payload = domain.PhaseTransitionPayload{From: from, To: to, Step: upd.Step}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transition payload: %w", err)
	}
	upd.Payload = data

	run, event, err := s.store.TransitionPhase(ctx, runID, from, to, upd)
	if err != nil {
		return nil, err
	}

	s.publisher.Forward(event)
	if s.metrics != nil {
		s.metrics.TransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	}
	s.logger.Info("run phase transition",
		zap.String("run_id", runID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return run, nil
}

func transitionEventKind(from, to domain.RunPhase) domain.EventKind {
	switch {
	case to == domain.PhaseBlocked:
		return domain.EventRunBlocked
	case to == domain.PhaseCompleted:
		return domain.EventRunCompleted
	case to == domain.PhaseCancelled:
		return domain.EventRunCancelled
	case from == domain.PhaseBlocked:
		return domain.EventRunResumed
	default:
		return domain.EventPhaseTransition
	}
}
