package stream

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/windrose-labs/conductor/internal/domain"
	"github.com/windrose-labs/conductor/internal/metrics"
)

const inboundBuffer = 256

// Connection is one live subscriber stream. An empty project set means the
// connection sees every project.
type Connection struct {
	ID       string
	Projects map[string]bool
	Send     chan *domain.StreamEvent
}

func (c *Connection) sees(projectID string) bool {
	return len(c.Projects) == 0 || c.Projects[projectID]
}

// Dispatcher owns the connection registry and the per-project inbound
// subscriptions. Subscriptions are opened on first use and never torn down:
// the project count is bounded and an idle subscription costs almost
// nothing, while tearing down and re-opening would race live publishes.
type Dispatcher struct {
	nc      *nats.Conn
	logger  *zap.Logger
	metrics *metrics.Metrics
	bufSize int

	mu          sync.RWMutex
	connections map[string]*Connection
	subs        map[string]*nats.Subscription

	inbound    chan *nats.Msg
	lastSeenID int64
}

func NewDispatcher(nc *nats.Conn, bufSize int, logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Dispatcher{
		nc:          nc,
		logger:      logger,
		metrics:     m,
		bufSize:     bufSize,
		connections: make(map[string]*Connection),
		subs:        make(map[string]*nats.Subscription),
		inbound:     make(chan *nats.Msg, inboundBuffer),
	}
}

// Run drains the inbound channel and fans out until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-d.inbound:
			d.dispatch(msg)
		}
	}
}

// Register adds a connection and opens any subscriptions its project set
// needs. Callers must register before replaying so a publish in flight
// during the handoff lands in the connection's buffer instead of vanishing.
func (d *Dispatcher) Register(projects []string) (*Connection, error) {
	if len(projects) == 0 {
		if err := d.ensureSubject(">"); err != nil {
			return nil, err
		}
	} else {
		for _, projectID := range projects {
			if err := d.ensureSubject(projectID); err != nil {
				return nil, err
			}
		}
	}

	conn := &Connection{
		ID:   "conn_" + uuid.New().String()[:8],
		Send: make(chan *domain.StreamEvent, d.bufSize),
	}
	if len(projects) > 0 {
		conn.Projects = make(map[string]bool, len(projects))
		for _, projectID := range projects {
			conn.Projects[projectID] = true
		}
	}

	d.mu.Lock()
	d.connections[conn.ID] = conn
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.StreamConnections.Inc()
	}
	d.logger.Debug("stream connection registered",
		zap.String("conn_id", conn.ID), zap.Strings("projects", projects))
	return conn, nil
}

// Unregister removes a connection and closes its Send channel, which is how
// a consumer learns it was dropped. Closing is safe here: fan-out happens on
// the Run goroutine and only reaches connections still in the map, and the
// channel is removed from the map under the same lock before the close.
func (d *Dispatcher) Unregister(connID string) {
	d.mu.Lock()
	conn, ok := d.connections[connID]
	if ok {
		delete(d.connections, connID)
		close(conn.Send)
	}
	d.mu.Unlock()

	if ok {
		if d.metrics != nil {
			d.metrics.StreamConnections.Dec()
		}
		d.logger.Debug("stream connection unregistered", zap.String("conn_id", connID))
	}
}

// ConnectionCount returns the number of live connections.
func (d *Dispatcher) ConnectionCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.connections)
}

func (d *Dispatcher) ensureSubject(token string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subs[token]; ok {
		return nil
	}
	sub, err := d.nc.ChanSubscribe(Subject(token), d.inbound)
	if err != nil {
		return err
	}
	// Round-trip to the server so the subscription is live before Register
	// returns. Registration must complete before the caller reads a replay,
	// or events published in between would be missed.
	if err := d.nc.Flush(); err != nil {
		sub.Unsubscribe()
		return err
	}
	d.subs[token] = sub
	return nil
}

// dispatch fans one inbound message out to every connection whose project
// set contains the event's project. A connection with a full buffer is
// dropped rather than allowed to stall delivery to the others. When a project
// subject overlaps the wildcard subscription the same event arrives twice,
// back to back on the shared connection, so the second copy is skipped by id.
// Events committed concurrently can reach the bus out of id order, which is
// why this is an equality check and not a high-water mark.
func (d *Dispatcher) dispatch(msg *nats.Msg) {
	var event domain.StreamEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		d.logger.Warn("dropping malformed bus message", zap.Error(err))
		return
	}
	if event.ID != 0 && event.ID == d.lastSeenID {
		return
	}
	if event.ID != 0 {
		d.lastSeenID = event.ID
	}

	var stalled []string
	d.mu.RLock()
	for _, conn := range d.connections {
		if !conn.sees(event.ProjectID) {
			continue
		}
		select {
		case conn.Send <- &event:
		default:
			stalled = append(stalled, conn.ID)
		}
	}
	d.mu.RUnlock()

	for _, connID := range stalled {
		d.logger.Warn("dropping stalled stream connection", zap.String("conn_id", connID))
		if d.metrics != nil {
			d.metrics.DroppedConns.Inc()
		}
		d.Unregister(connID)
	}
}
