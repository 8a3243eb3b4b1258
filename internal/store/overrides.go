package store

import (
	"context"
	"database/sql"

	"github.com/windrose-labs/conductor/internal/domain"
)

// CreateOverride inserts an override row.
func (s *SQLiteStore) CreateOverride(ctx context.Context, override *domain.Override) error {
	var expiresAt sql.NullTime
	if override.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *override.ExpiresAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO overrides (override_id, kind, target_id, scope, run_id, task_id, repo_id, project_id,
		 constraint_kind, constraint_hash, constraint_hint, operator, justification, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		override.OverrideID, override.Kind, override.TargetID, override.Scope,
		nullString(override.RunID), nullString(override.TaskID), nullString(override.RepoID), override.ProjectID,
		nullString(override.ConstraintKind), nullString(override.ConstraintHash), nullString(override.ConstraintHint),
		override.Operator, nullString(override.Justification), expiresAt, override.CreatedAt)
	return err
}

// ListOverrides returns overrides, newest first. Both the kind and the
// project filter are optional.
func (s *SQLiteStore) ListOverrides(ctx context.Context, kind domain.OverrideKind, projectID string) ([]domain.Override, error) {
	query := `SELECT override_id, kind, target_id, scope, run_id, task_id, repo_id, project_id,
		 constraint_kind, constraint_hash, constraint_hint, operator, justification, expires_at, created_at
		 FROM overrides`
	args := []interface{}{}
	clauses := []string{}
	if kind != "" {
		clauses = append(clauses, `kind = ?`)
		args = append(args, kind)
	}
	if projectID != "" {
		clauses = append(clauses, `project_id = ?`)
		args = append(args, projectID)
	}
	for i, clause := range clauses {
		if i == 0 {
			query += ` WHERE ` + clause
		} else {
			query += ` AND ` + clause
		}
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOverrides(rows)
}

// ListOverridesByProject returns every override visible to a project,
// newest first.
func (s *SQLiteStore) ListOverridesByProject(ctx context.Context, projectID string) ([]domain.Override, error) {
	return s.ListOverrides(ctx, "", projectID)
}

func scanOverrides(rows *sql.Rows) ([]domain.Override, error) {
	var overrides []domain.Override
	for rows.Next() {
		var o domain.Override
		var runID, taskID, repoID, cKind, cHash, cHint, justification sql.NullString
		var expiresAt sql.NullTime
		if err := rows.Scan(&o.OverrideID, &o.Kind, &o.TargetID, &o.Scope,
			&runID, &taskID, &repoID, &o.ProjectID, &cKind, &cHash, &cHint,
			&o.Operator, &justification, &expiresAt, &o.CreatedAt); err != nil {
			return nil, err
		}
		if runID.Valid {
			o.RunID = runID.String
		}
		if taskID.Valid {
			o.TaskID = taskID.String
		}
		if repoID.Valid {
			o.RepoID = repoID.String
		}
		if cKind.Valid {
			o.ConstraintKind = cKind.String
		}
		if cHash.Valid {
			o.ConstraintHash = cHash.String
		}
		if cHint.Valid {
			o.ConstraintHint = cHint.String
		}
		if justification.Valid {
			o.Justification = justification.String
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			o.ExpiresAt = &t
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}
