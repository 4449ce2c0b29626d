package database

import (
	"time"
)

type ItemRepository interface {
	UpsertItem(item Item) error
	GetItem(namespace, externalID string) (*Item, error)
	GetItems(namespace string, limit int) ([]Item, error)
	GetItemsAcross(namespaces []string, limit int) ([]Item, error)
	GetItemsInWindow(namespace string, start, end time.Time) ([]Item, error)
	GetItemCount(namespace string) (int, error)
	LatestTimestamp(namespace string) (*time.Time, error)

	ReplaceRefs(namespace, itemExternalID string, refs []ItemRef) error
	GetRefs(namespace, itemExternalID string) ([]ItemRef, error)
}

type RunRepository interface {
	Get(namespace string) (*RunMetadata, error)
	All() ([]RunMetadata, error)

	StampSuccess(namespace string, ranAt time.Time) error
	RecordError(namespace string, message string) error
	SetLocked(namespace string, locked bool) error
	SetLastRun(namespace string, ranAt *time.Time) error
}

type CacheRepository interface {
	Get(urlHash string) (*CacheEntry, error)
	Put(entry CacheEntry) error
	Delete(urlHash string) error
	Stats() (blobs int, failures int, err error)
}

type VerdictRepository interface {
	Get(namespace, externalID string) (*FilterVerdict, error)
	Put(verdict FilterVerdict) error
}
