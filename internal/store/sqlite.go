package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			repo_id TEXT NOT NULL,
			phase TEXT NOT NULL,
			step TEXT,
			status TEXT NOT NULL,
			blocked_reason TEXT,
			blocked_context TEXT,
			last_event_seq INTEGER NOT NULL DEFAULT 0,
			branch TEXT,
			base_branch TEXT,
			plan_revisions INTEGER NOT NULL DEFAULT 0,
			review_rounds INTEGER NOT NULL DEFAULT 0,
			result TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_project ON runs(project_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_phase ON runs(phase)`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			project_id TEXT NOT NULL,
			run_id TEXT,
			run_seq INTEGER,
			payload TEXT,
			ts INTEGER NOT NULL,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_project ON events(project_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, run_seq)`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			artifact_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			validation_status TEXT NOT NULL,
			source_invocation_id TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_run ON artifacts(run_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS operator_actions (
			action_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			action TEXT NOT NULL,
			operator TEXT NOT NULL,
			justification TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_actions_run ON operator_actions(run_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS overrides (
			override_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			target_id TEXT,
			scope TEXT NOT NULL,
			run_id TEXT,
			task_id TEXT,
			repo_id TEXT,
			project_id TEXT NOT NULL,
			constraint_kind TEXT,
			constraint_hash TEXT,
			constraint_hint TEXT,
			operator TEXT NOT NULL,
			justification TEXT,
			expires_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_overrides_kind ON overrides(kind, project_id)`,
		`CREATE TABLE IF NOT EXISTS tool_invocations (
			invocation_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			tool TEXT NOT NULL,
			redacted_args TEXT,
			args_hash TEXT,
			policy_decision TEXT NOT NULL,
			policy_id TEXT,
			override_id TEXT,
			status TEXT NOT NULL,
			result TEXT,
			error TEXT,
			timeout_ms INTEGER NOT NULL DEFAULT 60000,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_invocations_run ON tool_invocations(run_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_invocations_status ON tool_invocations(status, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
