// Package store defines the storage interface and the sqlite implementation.
package store

import (
	"context"
	"encoding/json"

	"github.com/windrose-labs/conductor/internal/domain"
)

// PhaseUpdate carries the row changes applied together with a phase CAS.
// BlockedReason/BlockedCtx are written as given (empty clears them), so a
// transition out of blocked resets the fields by default.
type PhaseUpdate struct {
	Step          string
	BlockedReason domain.BlockedReason
	BlockedCtx    *domain.BlockedContext
	Result        string
	EventKind     domain.EventKind
	Payload       json.RawMessage
}

// Store defines the interface for data persistence.
type Store interface {
	// Run operations
	CreateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	ListRuns(ctx context.Context, projectID string, limit int) ([]domain.Run, error)
	TransitionPhase(ctx context.Context, runID string, from, to domain.RunPhase, upd PhaseUpdate) (*domain.Run, *domain.StreamEvent, error)
	SetRunStatus(ctx context.Context, runID string, status domain.RunStatus) (bool, error)
	IncrementPlanRevisions(ctx context.Context, runID string) (int, error)
	IncrementReviewRounds(ctx context.Context, runID string) (int, error)

	// Event operations
	AppendRunEvent(ctx context.Context, runID string, kind domain.EventKind, payload json.RawMessage) (*domain.StreamEvent, error)
	ListEventsAfter(ctx context.Context, afterID int64, projects []string, limit int) ([]domain.StreamEvent, error)
	ListRunEvents(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.StreamEvent, error)

	// Artifact operations
	CreateArtifact(ctx context.Context, artifact *domain.Artifact) error
	GetArtifact(ctx context.Context, artifactID string) (*domain.Artifact, error)
	ListArtifactsByRun(ctx context.Context, runID string) ([]domain.Artifact, error)
	SetArtifactValidation(ctx context.Context, artifactID string, status domain.ValidationStatus) (bool, error)

	// Operator action operations
	CreateAction(ctx context.Context, action *domain.OperatorAction) error
	ListActionsByRun(ctx context.Context, runID string) ([]domain.OperatorAction, error)

	// Override operations
	CreateOverride(ctx context.Context, override *domain.Override) error
	ListOverrides(ctx context.Context, kind domain.OverrideKind, projectID string) ([]domain.Override, error)
	ListOverridesByProject(ctx context.Context, projectID string) ([]domain.Override, error)

	// Tool invocation operations
	CreateInvocation(ctx context.Context, inv *domain.ToolInvocation) error
	GetInvocation(ctx context.Context, invocationID string) (*domain.ToolInvocation, error)
	ListInvocationsByRun(ctx context.Context, runID string) ([]domain.ToolInvocation, error)
	UpdateInvocationResult(ctx context.Context, invocationID string, status domain.InvocationStatus, result, errData []byte) (bool, error)
	ListExpiredInvocations(ctx context.Context, limit int) ([]domain.ToolInvocation, error)

	// Lifecycle
	Close() error
}
