package database

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var _ ItemRepository = (*ItemRepositoryImpl)(nil)

type ItemRepositoryImpl struct {
	db *DB
}

func NewItemRepository(db *DB) *ItemRepositoryImpl {
	return &ItemRepositoryImpl{db: db}
}

// UpsertItem inserts an item or supersedes its content in place. The
// (namespace, external_id) identity is never rewritten; discovered_at is
// kept from the first sighting.
func (r *ItemRepositoryImpl) UpsertItem(item Item) error {
	_, err := r.db.Exec(`
		INSERT INTO items (
			namespace, external_id, title, author, body, link,
			payload, published_at, discovered_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (namespace, external_id) DO UPDATE SET
			title = excluded.title,
			author = excluded.author,
			body = excluded.body,
			link = excluded.link,
			payload = excluded.payload,
			published_at = excluded.published_at,
			updated_at = excluded.updated_at
	`, item.Namespace, item.ExternalID, item.Title, item.Author, item.Body,
		item.Link, item.Payload, item.PublishedAt.UTC(), item.DiscoveredAt.UTC(),
		item.UpdatedAt.UTC())

	if err != nil {
		return fmt.Errorf("failed to upsert item: %w", err)
	}

	return nil
}

func (r *ItemRepositoryImpl) GetItem(namespace, externalID string) (*Item, error) {
	row := r.db.QueryRow(`
		SELECT namespace, external_id, title, author, body, link,
		       payload, published_at, discovered_at, updated_at
		FROM items
		WHERE namespace = ? AND external_id = ?
	`, namespace, externalID)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	return item, nil
}

func (r *ItemRepositoryImpl) GetItems(namespace string, limit int) ([]Item, error) {
	rows, err := r.db.Query(`
		SELECT namespace, external_id, title, author, body, link,
		       payload, published_at, discovered_at, updated_at
		FROM items
		WHERE namespace = ?
		ORDER BY published_at DESC, external_id ASC
		LIMIT ?
	`, namespace, limitOrMax(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to get items: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// GetItemsAcross reads items from several namespaces in one query. The
// namespace list is caller-controlled, so the query is built dynamically.
func (r *ItemRepositoryImpl) GetItemsAcross(namespaces []string, limit int) ([]Item, error) {
	if len(namespaces) == 0 {
		return nil, nil
	}

	builder := sq.Select("namespace", "external_id", "title", "author", "body",
		"link", "payload", "published_at", "discovered_at", "updated_at").
		From("items").
		Where(sq.Eq{"namespace": namespaces}).
		OrderBy("published_at DESC", "namespace ASC", "external_id ASC")

	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get items across namespaces: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

// GetItemsInWindow returns items with start <= published_at < end,
// newest first.
func (r *ItemRepositoryImpl) GetItemsInWindow(namespace string, start, end time.Time) ([]Item, error) {
	rows, err := r.db.Query(`
		SELECT namespace, external_id, title, author, body, link,
		       payload, published_at, discovered_at, updated_at
		FROM items
		WHERE namespace = ? AND published_at >= ? AND published_at < ?
		ORDER BY published_at DESC, external_id ASC
	`, namespace, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to get items in window: %w", err)
	}
	defer rows.Close()

	return collectItems(rows)
}

func (r *ItemRepositoryImpl) GetItemCount(namespace string) (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM items WHERE namespace = ?", namespace).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get item count: %w", err)
	}
	return count, nil
}

// LatestTimestamp returns the most recent updated_at in a namespace, or
// nil when the namespace holds no items. Used by repair to rebuild run
// metadata from observed state.
func (r *ItemRepositoryImpl) LatestTimestamp(namespace string) (*time.Time, error) {
	var ts time.Time
	err := r.db.QueryRow(`
		SELECT updated_at FROM items
		WHERE namespace = ?
		ORDER BY updated_at DESC
		LIMIT 1
	`, namespace).Scan(&ts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest timestamp: %w", err)
	}
	return &ts, nil
}

// ReplaceRefs atomically swaps the reference list of one meta-feed item.
func (r *ItemRepositoryImpl) ReplaceRefs(namespace, itemExternalID string, refs []ItemRef) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		DELETE FROM item_refs WHERE namespace = ? AND item_external_id = ?
	`, namespace, itemExternalID)
	if err != nil {
		return fmt.Errorf("failed to clear refs: %w", err)
	}

	for i, ref := range refs {
		_, err = tx.Exec(`
			INSERT INTO item_refs (namespace, item_external_id, position, ref_namespace, ref_external_id)
			VALUES (?, ?, ?, ?, ?)
		`, namespace, itemExternalID, i, ref.RefNamespace, ref.RefExternalID)
		if err != nil {
			return fmt.Errorf("failed to insert ref: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit refs: %w", err)
	}

	return nil
}

func (r *ItemRepositoryImpl) GetRefs(namespace, itemExternalID string) ([]ItemRef, error) {
	rows, err := r.db.Query(`
		SELECT namespace, item_external_id, position, ref_namespace, ref_external_id
		FROM item_refs
		WHERE namespace = ? AND item_external_id = ?
		ORDER BY position ASC
	`, namespace, itemExternalID)
	if err != nil {
		return nil, fmt.Errorf("failed to get refs: %w", err)
	}
	defer rows.Close()

	var refs []ItemRef
	for rows.Next() {
		var ref ItemRef
		err := rows.Scan(&ref.Namespace, &ref.ItemExternalID, &ref.Position,
			&ref.RefNamespace, &ref.RefExternalID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ref row: %w", err)
		}
		refs = append(refs, ref)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ref rows: %w", err)
	}

	return refs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var item Item
	err := row.Scan(&item.Namespace, &item.ExternalID, &item.Title, &item.Author,
		&item.Body, &item.Link, &item.Payload, &item.PublishedAt,
		&item.DiscoveredAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func collectItems(rows *sql.Rows) ([]Item, error) {
	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}
		items = append(items, *item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating item rows: %w", err)
	}

	return items, nil
}

func limitOrMax(limit int) int {
	if limit <= 0 {
		return 1 << 30
	}
	return limit
}
