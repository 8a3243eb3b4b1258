package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/windrose-labs/conductor/internal/domain"
)

// CreateArtifact inserts an artifact row.
func (s *SQLiteStore) CreateArtifact(ctx context.Context, artifact *domain.Artifact) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (artifact_id, run_id, type, content, validation_status, source_invocation_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		artifact.ArtifactID, artifact.RunID, artifact.Type, artifact.Content, artifact.ValidationStatus,
		nullString(artifact.SourceInvocationID), artifact.CreatedAt)
	return err
}

// GetArtifact retrieves an artifact by ID.
func (s *SQLiteStore) GetArtifact(ctx context.Context, artifactID string) (*domain.Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT artifact_id, run_id, type, content, validation_status, source_invocation_id, created_at
		 FROM artifacts WHERE artifact_id = ?`, artifactID)
	artifact, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return artifact, nil
}

// ListArtifactsByRun returns a run's artifacts oldest first.
func (s *SQLiteStore) ListArtifactsByRun(ctx context.Context, runID string) ([]domain.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT artifact_id, run_id, type, content, validation_status, source_invocation_id, created_at
		 FROM artifacts WHERE run_id = ? ORDER BY created_at ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []domain.Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, *artifact)
	}
	return artifacts, rows.Err()
}

// SetArtifactValidation updates an artifact's validation status.
func (s *SQLiteStore) SetArtifactValidation(ctx context.Context, artifactID string, status domain.ValidationStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE artifacts SET validation_status = ? WHERE artifact_id = ?`, status, artifactID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func scanArtifact(row rowScanner) (*domain.Artifact, error) {
	var artifact domain.Artifact
	var sourceInvocation sql.NullString
	var createdAt time.Time
	if err := row.Scan(&artifact.ArtifactID, &artifact.RunID, &artifact.Type, &artifact.Content,
		&artifact.ValidationStatus, &sourceInvocation, &createdAt); err != nil {
		return nil, err
	}
	if sourceInvocation.Valid {
		artifact.SourceInvocationID = sourceInvocation.String
	}
	artifact.CreatedAt = createdAt
	return &artifact, nil
}
