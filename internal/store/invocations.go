package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/windrose-labs/conductor/internal/domain"
)

const invocationColumns = `invocation_id, run_id, tool, redacted_args, args_hash, policy_decision, policy_id, override_id, status, result, error, timeout_ms, created_at, completed_at`

// CreateInvocation inserts a tool invocation row. Blocked invocations arrive
// already finalized, with an error payload and completion time.
func (s *SQLiteStore) CreateInvocation(ctx context.Context, inv *domain.ToolInvocation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_invocations (`+invocationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.InvocationID, inv.RunID, inv.Tool, nullStringBytes(inv.RedactedArgs), inv.ArgsHash,
		inv.PolicyDecision, nullString(inv.PolicyID), nullString(inv.OverrideID), inv.Status,
		nullStringBytes(inv.Result), nullStringBytes(inv.Error),
		inv.TimeoutMs, inv.CreatedAt, nullTime(inv.CompletedAt))
	return err
}

// GetInvocation retrieves a tool invocation by ID.
func (s *SQLiteStore) GetInvocation(ctx context.Context, invocationID string) (*domain.ToolInvocation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+invocationColumns+` FROM tool_invocations WHERE invocation_id = ?`, invocationID)
	inv, err := scanInvocation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// ListInvocationsByRun returns a run's tool invocations oldest first.
func (s *SQLiteStore) ListInvocationsByRun(ctx context.Context, runID string) ([]domain.ToolInvocation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+invocationColumns+` FROM tool_invocations WHERE run_id = ? ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invocations []domain.ToolInvocation
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, err
		}
		invocations = append(invocations, *inv)
	}
	return invocations, rows.Err()
}

// UpdateInvocationResult finalizes a pending invocation. It is a no-op when
// the invocation has already reached a terminal status.
func (s *SQLiteStore) UpdateInvocationResult(ctx context.Context, invocationID string, status domain.InvocationStatus, result, errData []byte) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tool_invocations SET status = ?, result = ?, error = ?, completed_at = ?
		 WHERE invocation_id = ? AND completed_at IS NULL`,
		status, nullStringBytes(result), nullStringBytes(errData), time.Now(), invocationID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListExpiredInvocations returns pending invocations older than their own
// timeout, oldest first.
func (s *SQLiteStore) ListExpiredInvocations(ctx context.Context, limit int) ([]domain.ToolInvocation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invocationColumns+`
		FROM tool_invocations
		WHERE completed_at IS NULL
		  AND status = 'pending'
		  AND ((julianday('now') - julianday(created_at)) * 86400000.0) >= timeout_ms
		ORDER BY created_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invocations []domain.ToolInvocation
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, err
		}
		invocations = append(invocations, *inv)
	}
	return invocations, rows.Err()
}

func scanInvocation(row rowScanner) (*domain.ToolInvocation, error) {
	var inv domain.ToolInvocation
	var redactedArgs, policyID, overrideID, result, errData sql.NullString
	var completedAt sql.NullTime
	if err := row.Scan(&inv.InvocationID, &inv.RunID, &inv.Tool, &redactedArgs, &inv.ArgsHash,
		&inv.PolicyDecision, &policyID, &overrideID, &inv.Status, &result, &errData,
		&inv.TimeoutMs, &inv.CreatedAt, &completedAt); err != nil {
		return nil, err
	}
	if redactedArgs.Valid {
		inv.RedactedArgs = json.RawMessage(redactedArgs.String)
	}
	if policyID.Valid {
		inv.PolicyID = policyID.String
	}
	if overrideID.Valid {
		inv.OverrideID = overrideID.String
	}
	if result.Valid {
		inv.Result = json.RawMessage(result.String)
	}
	if errData.Valid {
		inv.Error = json.RawMessage(errData.String)
	}
	if completedAt.Valid {
		t := completedAt.Time
		inv.CompletedAt = &t
	}
	return &inv, nil
}
