// Package stream publishes run events durably and fans them out to live
// subscribers over NATS, with reconnect-safe replay from the event log.
package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/windrose-labs/conductor/internal/domain"
	"github.com/windrose-labs/conductor/internal/metrics"
	"github.com/windrose-labs/conductor/internal/store"
)

const subjectPrefix = "runs.events."

// Subject returns the NATS subject carrying a project's events.
func Subject(projectID string) string {
	return subjectPrefix + projectID
}

// Publisher appends events to the durable log and forwards them to the bus.
// The log write is the source of truth; a bus failure is logged and the
// event is still recoverable via replay.
type Publisher struct {
	store   store.Store
	nc      *nats.Conn
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewPublisher(st store.Store, nc *nats.Conn, logger *zap.Logger, m *metrics.Metrics) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{store: st, nc: nc, logger: logger, metrics: m}
}

// Publish appends an event for a run and forwards it to the project subject.
func (p *Publisher) Publish(ctx context.Context, runID string, kind domain.EventKind, payload interface{}) (*domain.StreamEvent, error) {
	var data json.RawMessage
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event payload: %w", err)
		}
		data = encoded
	}

	event, err := p.store.AppendRunEvent(ctx, runID, kind, data)
	if err != nil {
		return nil, err
	}
	p.Forward(event)
	return event, nil
}

// Forward pushes an already-persisted event to the bus. Callers that append
// events transactionally with a phase change use this for the second half.
func (p *Publisher) Forward(event *domain.StreamEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal stream event",
			zap.Int64("event_id", event.ID), zap.Error(err))
		return
	}
	if err := p.nc.Publish(Subject(event.ProjectID), data); err != nil {
		p.logger.Warn("failed to forward event to bus",
			zap.Int64("event_id", event.ID),
			zap.String("project_id", event.ProjectID),
			zap.Error(err))
		return
	}
	if p.metrics != nil {
		p.metrics.EventsPublished.Inc()
	}
}
