package database

import (
	"database/sql"
	"fmt"
)

var _ VerdictRepository = (*VerdictRepositoryImpl)(nil)

type VerdictRepositoryImpl struct {
	db *DB
}

func NewVerdictRepository(db *DB) *VerdictRepositoryImpl {
	return &VerdictRepositoryImpl{db: db}
}

func (r *VerdictRepositoryImpl) Get(namespace, externalID string) (*FilterVerdict, error) {
	row := r.db.QueryRow(`
		SELECT namespace, external_id, include, tokens_used, checked_at
		FROM filter_verdicts
		WHERE namespace = ? AND external_id = ?
	`, namespace, externalID)

	var verdict FilterVerdict
	var include int
	err := row.Scan(&verdict.Namespace, &verdict.ExternalID, &include,
		&verdict.TokensUsed, &verdict.CheckedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get verdict: %w", err)
	}

	verdict.Include = include != 0
	return &verdict, nil
}

func (r *VerdictRepositoryImpl) Put(verdict FilterVerdict) error {
	_, err := r.db.Exec(`
		INSERT INTO filter_verdicts (namespace, external_id, include, tokens_used, checked_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (namespace, external_id) DO UPDATE SET
			include = excluded.include,
			tokens_used = excluded.tokens_used,
			checked_at = excluded.checked_at
	`, verdict.Namespace, verdict.ExternalID, boolToInt(verdict.Include),
		verdict.TokensUsed, verdict.CheckedAt.UTC())

	if err != nil {
		return fmt.Errorf("failed to put verdict: %w", err)
	}

	return nil
}
