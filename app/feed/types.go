package feed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/feedglue/feedglue/app/database"
)

// Node is one declared feed in the dependency graph. Source nodes fetch
// external content; meta-feed nodes compose other nodes, holding them by
// namespace rather than by reference, so composition never creates
// ownership cycles.
//
// Update must be idempotent: repeated calls without upstream change leave
// stored state identical. Items returns the node's composed view, newest
// first. Render produces the final HTML body for one item; for most nodes
// it is the stored body unchanged.
type Node interface {
	Namespace() string
	Title() string
	Sources() []string
	Schedule() string
	Enabled() bool

	Update(ctx context.Context, force bool) error
	Items(ctx context.Context) ([]database.Item, error)
	Render(ctx context.Context, item database.Item) (string, error)
}

// baseNode carries the declaration-level attributes every node shares.
type baseNode struct {
	name     string
	title    string
	schedule string
	enabled  bool
}

func (b *baseNode) Namespace() string { return b.name }
func (b *baseNode) Title() string     { return b.title }
func (b *baseNode) Schedule() string  { return b.schedule }
func (b *baseNode) Enabled() bool     { return b.enabled }

// FetchError is a source fetch failure carrying the HTTP status when one
// was received. Client errors are permanent: retrying a 404 every pass
// only burns quota, so the orchestrator locks the node instead.
type FetchError struct {
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch failed: %v", e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// shortHash maps an arbitrary external identifier to a stable 16-hex key
// safe for URLs and filenames.
func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
