package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/windrose-labs/conductor/internal/domain"
	"github.com/windrose-labs/conductor/internal/metrics"
	"github.com/windrose-labs/conductor/internal/stream"
)

// StreamHandler serves the event stream: a JSON replay window and a live SSE
// feed. Both speak the same resynchronization contract: when a client's
// cursor cannot be served completely, it gets a single refresh_required
// signal and no events, and is expected to refetch current state instead.
type StreamHandler struct {
	dispatcher *stream.Dispatcher
	replayer   *stream.Replayer
	heartbeat  time.Duration
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewStreamHandler creates a stream handler. heartbeat is the interval of
// SSE keep-alive comments; zero means 30s.
func NewStreamHandler(dispatcher *stream.Dispatcher, replayer *stream.Replayer, heartbeat time.Duration, logger *zap.Logger, m *metrics.Metrics) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{
		dispatcher: dispatcher,
		replayer:   replayer,
		heartbeat:  heartbeat,
		logger:     logger,
		metrics:    m,
	}
}

// RegisterRoutes registers event stream routes with the echo server.
func (h *StreamHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/v1/events", h.GetEvents)
	e.GET("/v1/events/stream", h.StreamEvents)
}

// GetEvents returns events after a cursor as JSON.
// GET /v1/events?after=<id>&projects=<csv>
func (h *StreamHandler) GetEvents(c echo.Context) error {
	ctx := c.Request().Context()

	var after int64
	if raw := c.QueryParam("after"); raw != "" {
		val, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || val < 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid after cursor"})
		}
		after = val
	}
	projects := splitProjects(c.QueryParam("projects"))

	events, err := h.replayer.Replay(ctx, after, projects)
	if err != nil {
		if errors.Is(err, domain.ErrReplayGapTooLarge) || errors.Is(err, domain.ErrReplayTooOld) {
			if h.metrics != nil {
				h.metrics.ReplayRefreshes.Inc()
			}
			return c.JSON(http.StatusOK, domain.EventsResponse{
				Events:          []domain.StreamEvent{},
				RefreshRequired: true,
			})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, domain.EventsResponse{Events: events})
}

// StreamEvents serves the live event feed over SSE. A reconnecting client
// passes its last seen event id via the Last-Event-ID header (or
// last_event_id query parameter) and the missed window is replayed before
// live delivery starts. The connection is registered before the replay is
// read, so nothing published in between is lost.
// GET /v1/events/stream?projects=<csv>
func (h *StreamHandler) StreamEvents(c echo.Context) error {
	ctx := c.Request().Context()

	lastID, err := lastEventID(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid last event id"})
	}
	projects := splitProjects(c.QueryParam("projects"))

	conn, err := h.dispatcher.Register(projects)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	defer h.dispatcher.Unregister(conn.ID)

	var replayed []domain.StreamEvent
	refresh := false
	if lastID > 0 {
		replayed, err = h.replayer.Replay(ctx, lastID, projects)
		if err != nil {
			if !errors.Is(err, domain.ErrReplayGapTooLarge) && !errors.Is(err, domain.ErrReplayTooOld) {
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
			}
			// The client's cursor cannot be served: signal a refresh
			// instead of delivering a gapped window.
			refresh = true
			replayed = nil
			if h.metrics != nil {
				h.metrics.ReplayRefreshes.Inc()
			}
		}
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return fmt.Errorf("streaming not supported")
	}
	w := c.Response().Writer

	if refresh {
		if err := writeFrame(w, flusher, &domain.StreamEvent{
			Kind: domain.EventRefreshRequired,
			Ts:   time.Now().UnixMilli(),
		}); err != nil {
			return nil
		}
	}

	// Anything buffered during the register-replay handoff with an id at or
	// below the replay high-water mark is a duplicate of a replayed event.
	// Above the mark every event is forwarded as it arrives, even when commit
	// and bus order briefly disagree; replayMax stays frozen so a late
	// lower-id event is never mistaken for a duplicate.
	var replayMax int64
	for i := range replayed {
		if err := writeFrame(w, flusher, &replayed[i]); err != nil {
			return nil
		}
		replayMax = replayed[i].ID
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-conn.Send:
			if !ok {
				// Dropped by the dispatcher. The client reconnects with
				// its last id and the replay covers the hole.
				h.logger.Debug("stream connection closed by dispatcher",
					zap.String("conn_id", conn.ID))
				return nil
			}
			if event.ID != 0 && event.ID <= replayMax {
				continue
			}
			if err := writeFrame(w, flusher, event); err != nil {
				return nil
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return nil
			}
			flusher.Flush()
		}
	}
}

// writeFrame writes one SSE frame. The event id doubles as the client's
// replay cursor; control frames carry no id.
func writeFrame(w io.Writer, flusher http.Flusher, event *domain.StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if event.ID > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", event.ID); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func lastEventID(c echo.Context) (int64, error) {
	raw := c.Request().Header.Get("Last-Event-ID")
	if raw == "" {
		raw = c.QueryParam("last_event_id")
	}
	if raw == "" {
		return 0, nil
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || val < 0 {
		return 0, fmt.Errorf("invalid last event id %q", raw)
	}
	return val, nil
}

func splitProjects(raw string) []string {
	if raw == "" {
		return nil
	}
	var projects []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			projects = append(projects, trimmed)
		}
	}
	return projects
}
