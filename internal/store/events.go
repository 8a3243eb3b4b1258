package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/windrose-labs/conductor/internal/domain"
)

// AppendRunEvent appends a stream event for a run, bumping the run's event
// counter in the same transaction so per-run sequence numbers stay gapless.
func (s *SQLiteStore) AppendRunEvent(ctx context.Context, runID string, kind domain.EventKind, payload json.RawMessage) (*domain.StreamEvent, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()
	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET last_event_seq = last_event_seq + 1, updated_at = ? WHERE run_id = ?`,
		now, runID)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, domain.ErrRunNotFound
	}

	var projectID string
	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT project_id, last_event_seq FROM runs WHERE run_id = ?`, runID).Scan(&projectID, &seq); err != nil {
		return nil, err
	}

	event := &domain.StreamEvent{
		Kind:      kind,
		ProjectID: projectID,
		RunID:     runID,
		RunSeq:    seq,
		Payload:   payload,
		Ts:        now.UnixMilli(),
	}
	eventRes, err := tx.ExecContext(ctx,
		`INSERT INTO events (kind, project_id, run_id, run_seq, payload, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		event.Kind, event.ProjectID, event.RunID, event.RunSeq, nullStringBytes(event.Payload), event.Ts)
	if err != nil {
		return nil, err
	}
	event.ID, err = eventRes.LastInsertId()
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return event, nil
}

// ListEventsAfter returns events with ID greater than afterID in ascending
// order, optionally restricted to a set of projects.
func (s *SQLiteStore) ListEventsAfter(ctx context.Context, afterID int64, projects []string, limit int) ([]domain.StreamEvent, error) {
	query := `SELECT id, kind, project_id, run_id, run_seq, payload, ts FROM events WHERE id > ?`
	args := []interface{}{afterID}
	if len(projects) > 0 {
		query += ` AND project_id IN (?` + strings.Repeat(", ?", len(projects)-1) + `)`
		for _, p := range projects {
			args = append(args, p)
		}
	}
	query += ` ORDER BY id ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListRunEvents returns a single run's events with run sequence greater than
// afterSeq in ascending order.
func (s *SQLiteStore) ListRunEvents(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.StreamEvent, error) {
	query := `SELECT id, kind, project_id, run_id, run_seq, payload, ts FROM events WHERE run_id = ? AND run_seq > ? ORDER BY run_seq ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, runID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]domain.StreamEvent, error) {
	var events []domain.StreamEvent
	for rows.Next() {
		var event domain.StreamEvent
		var runID, payload sql.NullString
		if err := rows.Scan(&event.ID, &event.Kind, &event.ProjectID, &runID, &event.RunSeq, &payload, &event.Ts); err != nil {
			return nil, err
		}
		if runID.Valid {
			event.RunID = runID.String
		}
		if payload.Valid {
			event.Payload = json.RawMessage(payload.String)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
