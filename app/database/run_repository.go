package database

import (
	"database/sql"
	"fmt"
	"time"
)

var _ RunRepository = (*RunRepositoryImpl)(nil)

type RunRepositoryImpl struct {
	db *DB
}

func NewRunRepository(db *DB) *RunRepositoryImpl {
	return &RunRepositoryImpl{db: db}
}

func (r *RunRepositoryImpl) Get(namespace string) (*RunMetadata, error) {
	row := r.db.QueryRow(`
		SELECT namespace, last_run, locked, last_error, updated_at
		FROM run_metadata
		WHERE namespace = ?
	`, namespace)

	meta, err := scanRunMetadata(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run metadata: %w", err)
	}

	return meta, nil
}

func (r *RunRepositoryImpl) All() ([]RunMetadata, error) {
	rows, err := r.db.Query(`
		SELECT namespace, last_run, locked, last_error, updated_at
		FROM run_metadata
		ORDER BY namespace ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list run metadata: %w", err)
	}
	defer rows.Close()

	var all []RunMetadata
	for rows.Next() {
		meta, err := scanRunMetadata(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run metadata row: %w", err)
		}
		all = append(all, *meta)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run metadata rows: %w", err)
	}

	return all, nil
}

// StampSuccess records a successful update: last_run advances and the
// previous error, if any, is cleared.
func (r *RunRepositoryImpl) StampSuccess(namespace string, ranAt time.Time) error {
	now := time.Now().UTC()
	_, err := r.db.Exec(`
		INSERT INTO run_metadata (namespace, last_run, locked, last_error, updated_at)
		VALUES (?, ?, 0, '', ?)
		ON CONFLICT (namespace) DO UPDATE SET
			last_run = excluded.last_run,
			last_error = '',
			updated_at = excluded.updated_at
	`, namespace, ranAt.UTC(), now)

	if err != nil {
		return fmt.Errorf("failed to stamp success: %w", err)
	}

	return nil
}

// RecordError stores the failure without touching last_run, so the node
// stays due and dependents keep reading the prior successful snapshot.
func (r *RunRepositoryImpl) RecordError(namespace string, message string) error {
	now := time.Now().UTC()
	_, err := r.db.Exec(`
		INSERT INTO run_metadata (namespace, last_run, locked, last_error, updated_at)
		VALUES (?, NULL, 0, ?, ?)
		ON CONFLICT (namespace) DO UPDATE SET
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`, namespace, message, now)

	if err != nil {
		return fmt.Errorf("failed to record error: %w", err)
	}

	return nil
}

func (r *RunRepositoryImpl) SetLocked(namespace string, locked bool) error {
	now := time.Now().UTC()
	_, err := r.db.Exec(`
		INSERT INTO run_metadata (namespace, last_run, locked, last_error, updated_at)
		VALUES (?, NULL, ?, '', ?)
		ON CONFLICT (namespace) DO UPDATE SET
			locked = excluded.locked,
			updated_at = excluded.updated_at
	`, namespace, boolToInt(locked), now)

	if err != nil {
		return fmt.Errorf("failed to set lock: %w", err)
	}

	return nil
}

// SetLastRun overwrites last_run directly. Used by repair; a nil value
// clears the stamp so the node becomes due immediately.
func (r *RunRepositoryImpl) SetLastRun(namespace string, ranAt *time.Time) error {
	now := time.Now().UTC()
	var val any
	if ranAt != nil {
		val = ranAt.UTC()
	}
	_, err := r.db.Exec(`
		INSERT INTO run_metadata (namespace, last_run, locked, last_error, updated_at)
		VALUES (?, ?, 0, '', ?)
		ON CONFLICT (namespace) DO UPDATE SET
			last_run = excluded.last_run,
			updated_at = excluded.updated_at
	`, namespace, val, now)

	if err != nil {
		return fmt.Errorf("failed to set last run: %w", err)
	}

	return nil
}

func scanRunMetadata(row rowScanner) (*RunMetadata, error) {
	var meta RunMetadata
	var lastRun sql.NullTime
	var locked int
	err := row.Scan(&meta.Namespace, &lastRun, &locked, &meta.LastError, &meta.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if lastRun.Valid {
		t := lastRun.Time
		meta.LastRun = &t
	}
	meta.Locked = locked != 0
	return &meta, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
