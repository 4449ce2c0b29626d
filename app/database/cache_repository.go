package database

import (
	"database/sql"
	"fmt"
)

var _ CacheRepository = (*CacheRepositoryImpl)(nil)

type CacheRepositoryImpl struct {
	db *DB
}

func NewCacheRepository(db *DB) *CacheRepositoryImpl {
	return &CacheRepositoryImpl{db: db}
}

func (r *CacheRepositoryImpl) Get(urlHash string) (*CacheEntry, error) {
	row := r.db.QueryRow(`
		SELECT url_hash, url, content_type, extension, failed, error, failed_at, created_at
		FROM media_cache
		WHERE url_hash = ?
	`, urlHash)

	var entry CacheEntry
	var failed int
	var failedAt sql.NullTime
	err := row.Scan(&entry.URLHash, &entry.URL, &entry.ContentType,
		&entry.Extension, &failed, &entry.Error, &failedAt, &entry.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}

	entry.Failed = failed != 0
	if failedAt.Valid {
		t := failedAt.Time
		entry.FailedAt = &t
	}

	return &entry, nil
}

// Put records a blob or a failure marker. Entries are written once per
// key; re-putting an existing key overwrites, which only happens after an
// explicit marker deletion.
func (r *CacheRepositoryImpl) Put(entry CacheEntry) error {
	var failedAt any
	if entry.FailedAt != nil {
		failedAt = entry.FailedAt.UTC()
	}

	_, err := r.db.Exec(`
		INSERT INTO media_cache (url_hash, url, content_type, extension, failed, error, failed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (url_hash) DO UPDATE SET
			url = excluded.url,
			content_type = excluded.content_type,
			extension = excluded.extension,
			failed = excluded.failed,
			error = excluded.error,
			failed_at = excluded.failed_at
	`, entry.URLHash, entry.URL, entry.ContentType, entry.Extension,
		boolToInt(entry.Failed), entry.Error, failedAt, entry.CreatedAt.UTC())

	if err != nil {
		return fmt.Errorf("failed to put cache entry: %w", err)
	}

	return nil
}

func (r *CacheRepositoryImpl) Delete(urlHash string) error {
	_, err := r.db.Exec("DELETE FROM media_cache WHERE url_hash = ?", urlHash)
	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func (r *CacheRepositoryImpl) Stats() (int, int, error) {
	var blobs, failures int
	err := r.db.QueryRow(`
		SELECT
			SUM(CASE WHEN failed = 0 THEN 1 ELSE 0 END),
			SUM(CASE WHEN failed = 1 THEN 1 ELSE 0 END)
		FROM media_cache
	`).Scan(&nullableInt{&blobs}, &nullableInt{&failures})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get cache stats: %w", err)
	}
	return blobs, failures, nil
}

// nullableInt scans SUM() results, which are NULL on an empty table.
type nullableInt struct {
	dst *int
}

func (n *nullableInt) Scan(src any) error {
	if src == nil {
		*n.dst = 0
		return nil
	}
	switch v := src.(type) {
	case int64:
		*n.dst = int(v)
	case int:
		*n.dst = v
	default:
		return fmt.Errorf("unexpected sum type %T", src)
	}
	return nil
}
