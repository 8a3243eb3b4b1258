package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/windrose-labs/conductor/internal/domain"
)

// RunInvocationSweeper expires tool invocations whose deadline passed
// without a result, until ctx is cancelled.
func (s *Service) RunInvocationSweeper(ctx context.Context) {
	interval := s.config.Workflow.SweepInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepExpiredInvocations(ctx)
		}
	}
}

func (s *Service) sweepExpiredInvocations(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	expired, err := s.store.ListExpiredInvocations(sweepCtx, 100)
	if err != nil {
		s.logger.Warn("invocation sweep failed", zap.Error(err))
		return
	}

	for _, inv := range expired {
		errData, _ := json.Marshal(map[string]interface{}{
			"code":       "timeout",
			"message":    "tool invocation timed out",
			"timeout_ms": inv.TimeoutMs,
		})
		updated, err := s.store.UpdateInvocationResult(sweepCtx, inv.InvocationID, domain.InvocationTimeout, nil, errData)
		if err != nil {
			s.logger.Warn("failed to expire invocation",
				zap.String("invocation_id", inv.InvocationID), zap.Error(err))
			continue
		}
		if !updated {
			// A result arrived between the listing and the update.
			continue
		}
		if s.metrics != nil {
			s.metrics.InvocationSweeps.Inc()
		}
		s.logger.Info("tool invocation timed out",
			zap.String("invocation_id", inv.InvocationID),
			zap.String("run_id", inv.RunID),
			zap.Int("timeout_ms", inv.TimeoutMs))
	}
}
