package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/windrose-labs/conductor/internal/domain"
)

const runColumns = `run_id, task_id, project_id, repo_id, phase, step, status, blocked_reason, blocked_context, last_event_seq, branch, base_branch, plan_revisions, review_rounds, result, created_at, updated_at`

// CreateRun inserts a new run row.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, task_id, project_id, repo_id, phase, step, status, last_event_seq, branch, base_branch, plan_revisions, review_rounds, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.TaskID, run.ProjectID, run.RepoID, run.Phase, nullString(run.Step), run.Status,
		run.LastEventSeq, nullString(run.Branch), nullString(run.BaseBranch), run.PlanRevisions, run.ReviewRounds,
		run.CreatedAt, run.UpdatedAt)
	return err
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns lists runs, optionally filtered by project, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, projectID string, limit int) ([]domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	args := []interface{}{}
	if projectID != "" {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// TransitionPhase applies a compare-and-swap phase update: the row changes
// only if the current phase equals from. The run's event counter is bumped
// and the corresponding stream event is appended in the same transaction.
// A lost race surfaces as domain.ErrStaleTransition.
func (s *SQLiteStore) TransitionPhase(ctx context.Context, runID string, from, to domain.RunPhase, upd PhaseUpdate) (*domain.Run, *domain.StreamEvent, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	var blockedCtx sql.NullString
	if upd.BlockedCtx != nil {
		data, err := json.Marshal(upd.BlockedCtx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal blocked context: %w", err)
		}
		blockedCtx = sql.NullString{String: string(data), Valid: true}
	}

	now := time.Now()
	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET phase = ?, step = ?, blocked_reason = ?, blocked_context = ?, result = ?, last_event_seq = last_event_seq + 1, updated_at = ?
		 WHERE run_id = ? AND phase = ?`,
		to, nullString(upd.Step), nullString(string(upd.BlockedReason)), blockedCtx, nullString(upd.Result), now, runID, from)
	if err != nil {
		return nil, nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, nil, err
	}
	if affected == 0 {
		// Distinguish a missing run from a lost race.
		var phase string
		err := tx.QueryRowContext(ctx, `SELECT phase FROM runs WHERE run_id = ?`, runID).Scan(&phase)
		if err == sql.ErrNoRows {
			return nil, nil, domain.ErrRunNotFound
		}
		if err != nil {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("%w: run %s is in phase %s, expected %s", domain.ErrStaleTransition, runID, phase, from)
	}

	run, err := scanRun(tx.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID))
	if err != nil {
		return nil, nil, err
	}

	event := &domain.StreamEvent{
		Kind:      upd.EventKind,
		ProjectID: run.ProjectID,
		RunID:     runID,
		RunSeq:    run.LastEventSeq,
		Payload:   upd.Payload,
		Ts:        now.UnixMilli(),
	}
	eventRes, err := tx.ExecContext(ctx,
		`INSERT INTO events (kind, project_id, run_id, run_seq, payload, ts) VALUES (?, ?, ?, ?, ?, ?)`,
		event.Kind, event.ProjectID, event.RunID, event.RunSeq, nullStringBytes(event.Payload), event.Ts)
	if err != nil {
		return nil, nil, err
	}
	event.ID, err = eventRes.LastInsertId()
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return run, event, nil
}

// SetRunStatus updates the operator hold on a run.
func (s *SQLiteStore) SetRunStatus(ctx context.Context, runID string, status domain.RunStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE run_id = ?`,
		status, time.Now(), runID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// IncrementPlanRevisions bumps the plan revision counter and returns it.
func (s *SQLiteStore) IncrementPlanRevisions(ctx context.Context, runID string) (int, error) {
	return s.incrementCounter(ctx, runID, "plan_revisions")
}

// IncrementReviewRounds bumps the review round counter and returns it.
func (s *SQLiteStore) IncrementReviewRounds(ctx context.Context, runID string) (int, error) {
	return s.incrementCounter(ctx, runID, "review_rounds")
}

func (s *SQLiteStore) incrementCounter(ctx context.Context, runID, column string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE runs SET %s = %s + 1, updated_at = ? WHERE run_id = ?`, column, column),
		time.Now(), runID)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, domain.ErrRunNotFound
	}

	var value int
	if err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM runs WHERE run_id = ?`, column), runID).Scan(&value); err != nil {
		return 0, err
	}
	return value, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	var step, blockedReason, blockedCtx, branch, baseBranch, result sql.NullString
	if err := row.Scan(&run.RunID, &run.TaskID, &run.ProjectID, &run.RepoID, &run.Phase, &step, &run.Status,
		&blockedReason, &blockedCtx, &run.LastEventSeq, &branch, &baseBranch,
		&run.PlanRevisions, &run.ReviewRounds, &result, &run.CreatedAt, &run.UpdatedAt); err != nil {
		return nil, err
	}
	if step.Valid {
		run.Step = step.String
	}
	if blockedReason.Valid {
		run.BlockedReason = domain.BlockedReason(blockedReason.String)
	}
	if blockedCtx.Valid {
		var bc domain.BlockedContext
		if err := json.Unmarshal([]byte(blockedCtx.String), &bc); err == nil {
			run.BlockedCtx = &bc
		}
	}
	if branch.Valid {
		run.Branch = branch.String
	}
	if baseBranch.Valid {
		run.BaseBranch = baseBranch.String
	}
	if result.Valid {
		run.Result = result.String
	}
	return &run, nil
}
