package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/windrose-labs/conductor/internal/domain"
	"github.com/windrose-labs/conductor/internal/store"
)

// Replayer reads back durable events for a reconnecting subscriber. A
// reconnect that would need more than limit rows, or whose oldest missed
// event has already aged out, is refused so the caller can tell the client
// to rebuild from a snapshot instead of paging through history.
type Replayer struct {
	store  store.Store
	limit  int
	maxAge time.Duration
}

func NewReplayer(st store.Store, limit int, maxAge time.Duration) *Replayer {
	if limit <= 0 {
		limit = 100
	}
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return &Replayer{store: st, limit: limit, maxAge: maxAge}
}

// Replay returns the events after lastID for the given projects in ascending
// id order. An empty project list replays across all projects.
func (r *Replayer) Replay(ctx context.Context, lastID int64, projects []string) ([]domain.StreamEvent, error) {
	// Fetch one past the cap so an exactly-full page is distinguishable
	// from an overflowing one.
	events, err := r.store.ListEventsAfter(ctx, lastID, projects, r.limit+1)
	if err != nil {
		return nil, fmt.Errorf("failed to list events for replay: %w", err)
	}
	if len(events) > r.limit {
		return nil, fmt.Errorf("%w: more than %d events since id %d", domain.ErrReplayGapTooLarge, r.limit, lastID)
	}
	if len(events) > 0 {
		oldest := time.UnixMilli(events[0].Ts)
		if time.Since(oldest) > r.maxAge {
			return nil, fmt.Errorf("%w: oldest missed event is %s old", domain.ErrReplayTooOld, time.Since(oldest).Truncate(time.Second))
		}
	}
	return events, nil
}
