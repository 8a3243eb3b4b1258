package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/windrose-labs/conductor/internal/domain"
	"github.com/windrose-labs/conductor/internal/store"
)

const maxArtifactBytes = 1 << 20

// SubmitArtifact stores an agent-produced document and moves the lifecycle
// along: a valid plan submitted during planning advances the run to
// awaiting_plan_approval, a plan replacing an earlier one counts as a
// revision, and any intake re-evaluates the gates of the current phase.
func (s *Service) SubmitArtifact(ctx context.Context, runID string, req domain.SubmitArtifactRequest) (*domain.SubmitArtifactResponse, error) {
	switch req.Type {
	case domain.ArtifactPlan, domain.ArtifactReview, domain.ArtifactNote:
	default:
		return nil, fmt.Errorf("unknown artifact type %q", req.Type)
	}

	run, err := s.loadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if domain.IsTerminalPhase(run.Phase) {
		return nil, fmt.Errorf("%w: run %s is %s", domain.ErrRunTerminal, runID, run.Phase)
	}

	status := validateArtifact(req.Type, req.Content)
	if status == domain.ValidationValid && req.SourceInvocationID != "" {
		inv, err := s.store.GetInvocation(ctx, req.SourceInvocationID)
		if err != nil {
			return nil, fmt.Errorf("failed to load source invocation: %w", err)
		}
		// The structured verdict lives in the invocation result. Until that
		// result arrives the artifact cannot be fully validated.
		if inv != nil && inv.Status == domain.InvocationPending {
			status = domain.ValidationPending
		}
	}

	artifact := &domain.Artifact{
		ArtifactID:         "art_" + uuid.New().String()[:8],
		RunID:              runID,
		Type:               req.Type,
		Content:            req.Content,
		ValidationStatus:   status,
		SourceInvocationID: req.SourceInvocationID,
		CreatedAt:          time.Now(),
	}
	if err := s.store.CreateArtifact(ctx, artifact); err != nil {
		return nil, fmt.Errorf("failed to store artifact: %w", err)
	}
	s.publish(ctx, runID, domain.EventArtifactAdded, domain.ArtifactAddedPayload{
		ArtifactID:       artifact.ArtifactID,
		Type:             artifact.Type,
		ValidationStatus: artifact.ValidationStatus,
	})

	if artifact.ValidationStatus == domain.ValidationValid &&
		req.Type == domain.ArtifactPlan &&
		run.Status == domain.RunStatusActive {
		switch run.Phase {
		case domain.PhasePlanning:
			advanced, err := s.doTransition(ctx, runID, domain.PhasePlanning, domain.PhaseAwaitingPlanApproval, store.PhaseUpdate{})
			if errors.Is(err, domain.ErrStaleTransition) {
				advanced, err = s.loadRun(ctx, runID)
			}
			if err != nil {
				return nil, err
			}
			run = advanced
		case domain.PhaseAwaitingPlanApproval:
			// Replacing the plan under review is one revision cycle, same
			// as walking back to planning and up again.
			revisions, err := s.store.IncrementPlanRevisions(ctx, runID)
			if err != nil {
				return nil, fmt.Errorf("failed to count plan revision: %w", err)
			}
			if revisions > s.config.Workflow.MaxPlanRevisions {
				blocked, err := s.blockRun(ctx, run, domain.BlockedRetryLimitExceeded, &domain.BlockedContext{
					From:   run.Phase,
					Detail: fmt.Sprintf("plan revised %d times, ceiling is %d", revisions, s.config.Workflow.MaxPlanRevisions),
				})
				if err != nil {
					return nil, err
				}
				return &domain.SubmitArtifactResponse{
					ArtifactID:       artifact.ArtifactID,
					ValidationStatus: artifact.ValidationStatus,
					RunPhase:         blocked.Phase,
				}, nil
			}
		}
	}

	updated, err := s.EvaluateGatesAndTransition(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &domain.SubmitArtifactResponse{
		ArtifactID:       artifact.ArtifactID,
		ValidationStatus: artifact.ValidationStatus,
		RunPhase:         updated.Phase,
	}, nil
}

// validateArtifact checks a document at intake. Content must be non-empty
// and under the size cap; a plan additionally needs a non-blank first line
// to serve as its title.
func validateArtifact(artifactType domain.ArtifactType, content string) domain.ValidationStatus {
	if strings.TrimSpace(content) == "" {
		return domain.ValidationInvalid
	}
	if len(content) > maxArtifactBytes {
		return domain.ValidationInvalid
	}
	if artifactType == domain.ArtifactPlan {
		first, _, _ := strings.Cut(content, "\n")
		if strings.TrimSpace(first) == "" {
			return domain.ValidationInvalid
		}
	}
	return domain.ValidationValid
}
