package store

import (
	"context"
	"database/sql"

	"github.com/windrose-labs/conductor/internal/domain"
)

// CreateAction records an operator action against a run.
func (s *SQLiteStore) CreateAction(ctx context.Context, action *domain.OperatorAction) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO operator_actions (action_id, run_id, action, operator, justification, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		action.ActionID, action.RunID, action.Action, action.Operator,
		nullString(action.Justification), action.CreatedAt)
	return err
}

// ListActionsByRun returns a run's operator actions oldest first.
func (s *SQLiteStore) ListActionsByRun(ctx context.Context, runID string) ([]domain.OperatorAction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT action_id, run_id, action, operator, justification, created_at
		 FROM operator_actions WHERE run_id = ? ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []domain.OperatorAction
	for rows.Next() {
		var action domain.OperatorAction
		var justification sql.NullString
		if err := rows.Scan(&action.ActionID, &action.RunID, &action.Action, &action.Operator,
			&justification, &action.CreatedAt); err != nil {
			return nil, err
		}
		if justification.Valid {
			action.Justification = justification.String
		}
		actions = append(actions, action)
	}
	return actions, rows.Err()
}
