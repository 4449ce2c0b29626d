package database

import (
	"time"
)

// Item is the canonical record for one externally-identified feed item.
// Identity is (namespace, external_id); content may be superseded in
// place but identity never changes, because other namespaces may hold
// references to it.
type Item struct {
	Namespace    string
	ExternalID   string
	Title        string
	Author       string
	Body         string
	Link         string
	Payload      string // origin-specific JSON
	PublishedAt  time.Time
	DiscoveredAt time.Time
	UpdatedAt    time.Time
}

// ItemRef is a lightweight pointer from a meta-feed item to an upstream
// item. The pointer belongs to the meta-feed's namespace; the referenced
// item belongs to its origin namespace and is resolved at render time.
type ItemRef struct {
	Namespace      string
	ItemExternalID string
	Position       int
	RefNamespace   string
	RefExternalID  string
}

// RunMetadata tracks per-namespace update state. Only the orchestrator
// mutates it, aside from operator lock toggles and repair.
type RunMetadata struct {
	Namespace string
	LastRun   *time.Time
	Locked    bool
	LastError string
	UpdatedAt time.Time
}

// CacheEntry is one media cache record, keyed by the URL hash alone so
// identical media referenced from different feeds collapses to one blob.
// An entry holds either a stored blob or a failure marker, never both.
type CacheEntry struct {
	URLHash     string
	URL         string
	ContentType string
	Extension   string
	Failed      bool
	Error       string
	FailedAt    *time.Time
	CreatedAt   time.Time
}

// FilterVerdict is a cached AI-filter decision for one upstream item.
// Verdicts are permanent; an item is never re-asked.
type FilterVerdict struct {
	Namespace  string
	ExternalID string
	Include    bool
	TokensUsed int
	CheckedAt  time.Time
}
