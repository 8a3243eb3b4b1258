package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/windrose-labs/conductor/internal/domain"
	"github.com/windrose-labs/conductor/internal/override"
	"github.com/windrose-labs/conductor/internal/store"
)

// gatePass is one gate cleared during an evaluation, either on its own
// verdict or through an operator-granted gate override.
type gatePass struct {
	gate   string
	reason string
}

// EvaluateGatesAndTransition evaluates every gate bound to the run's current
// phase. All passed advances the run one phase; any failed parks it in
// blocked with gate_failed; any pending leaves the run untouched, so the
// operation is safe to call repeatedly. Gate result events are appended only
// when the evaluation resolves, after the phase change has won its
// compare-and-set, so concurrent evaluators cannot double-record.
func (s *Service) EvaluateGatesAndTransition(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := s.loadRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if domain.IsTerminalPhase(run.Phase) || run.Phase == domain.PhaseBlocked {
		return run, nil
	}
	if run.Status == domain.RunStatusPaused {
		return run, nil
	}

	gates := s.gates.GatesFor(run.Phase)
	if len(gates) == 0 {
		return run, nil
	}

	var passes []gatePass
	for _, g := range gates {
		result, err := g.Evaluate(ctx, run)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate gate %s: %w", g.Name(), err)
		}

		if result.Status == domain.GatePassed {
			passes = append(passes, gatePass{gate: g.Name()})
			continue
		}

		// A non-passing gate can still be cleared by an operator override.
		ov, err := s.overrides.FindMatching(ctx, override.Criteria{
			Kind:      domain.OverrideKindGate,
			TargetID:  g.Name(),
			RunID:     run.RunID,
			TaskID:    run.TaskID,
			RepoID:    run.RepoID,
			ProjectID: run.ProjectID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to resolve gate override: %w", err)
		}
		if ov != nil {
			passes = append(passes, gatePass{gate: g.Name(), reason: "cleared by override " + ov.OverrideID})
			continue
		}

		if result.Status == domain.GateFailed {
			blocked, err := s.blockRun(ctx, run, domain.BlockedGateFailed, &domain.BlockedContext{
				From:   run.Phase,
				Gate:   g.Name(),
				Detail: result.Reason,
			})
			if errors.Is(err, domain.ErrStaleTransition) {
				return s.loadRun(ctx, runID)
			}
			if err != nil {
				return nil, err
			}
			s.recordGateResult(ctx, run.RunID, g.Name(), domain.GateFailed, result.Reason)
			return blocked, nil
		}

		s.logger.Debug("gate pending",
			zap.String("run_id", run.RunID),
			zap.String("gate", g.Name()),
			zap.String("reason", result.Reason))
		return run, nil
	}

	next, ok := domain.NextPhase(run.Phase)
	if !ok {
		return nil, fmt.Errorf("no successor phase for %s", run.Phase)
	}
	upd := store.PhaseUpdate{}
	if next == domain.PhaseCompleted {
		upd.Result = "all gates passed"
	}
	advanced, err := s.doTransition(ctx, run.RunID, run.Phase, next, upd)
	if errors.Is(err, domain.ErrStaleTransition) {
		return s.loadRun(ctx, runID)
	}
	if err != nil {
		return nil, err
	}
	for _, p := range passes {
		s.recordGateResult(ctx, run.RunID, p.gate, domain.GatePassed, p.reason)
	}
	return advanced, nil
}

func (s *Service) recordGateResult(ctx context.Context, runID, gateName string, status domain.GateStatus, reason string) {
	kind := domain.EventGatePassed
	if status == domain.GateFailed {
		kind = domain.EventGateFailed
	}
	s.publish(ctx, runID, kind, domain.GateResultPayload{Gate: gateName, Status: status, Reason: reason})
	if s.metrics != nil {
		s.metrics.GateResults.WithLabelValues(gateName, string(status)).Inc()
	}
}
