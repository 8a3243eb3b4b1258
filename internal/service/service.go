// Package service orchestrates the run lifecycle: phase transitions through
// the state machine, gate-driven advancement, operator actions, artifact
// intake, and the policy guard in front of tool execution.
package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/windrose-labs/conductor/internal/config"
	"github.com/windrose-labs/conductor/internal/domain"
	"github.com/windrose-labs/conductor/internal/gate"
	"github.com/windrose-labs/conductor/internal/metrics"
	"github.com/windrose-labs/conductor/internal/override"
	"github.com/windrose-labs/conductor/internal/policy"
	"github.com/windrose-labs/conductor/internal/store"
	"github.com/windrose-labs/conductor/internal/stream"
)

// Enqueuer hands a run to the worker layer that drives agent sessions. The
// control plane only dispatches; agents report back through the internal API.
type Enqueuer interface {
	Enqueue(ctx context.Context, run *domain.Run) error
}

type Service struct {
	store     store.Store
	publisher *stream.Publisher
	gates     gate.Registry
	policy    *policy.Evaluator
	overrides *override.Resolver
	enqueuer  Enqueuer
	config    *config.Config
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

func New(st store.Store, publisher *stream.Publisher, gates gate.Registry, policyEval *policy.Evaluator, overrides *override.Resolver, enqueuer Enqueuer, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     st,
		publisher: publisher,
		gates:     gates,
		policy:    policyEval,
		overrides: overrides,
		enqueuer:  enqueuer,
		config:    cfg,
		logger:    logger,
		metrics:   m,
	}
}

// publish appends an event for the run and forwards it to the bus. Event
// emission never fails the calling operation: the decision it records has
// already been applied.
func (s *Service) publish(ctx context.Context, runID string, kind domain.EventKind, payload interface{}) {
	if _, err := s.publisher.Publish(ctx, runID, kind, payload); err != nil {
		s.logger.Error("failed to publish event",
			zap.String("run_id", runID), zap.String("kind", string(kind)), zap.Error(err))
	}
}

// loadRun fetches a run and normalizes the missing case to ErrRunNotFound.
func (s *Service) loadRun(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, domain.ErrRunNotFound
	}
	return run, nil
}
