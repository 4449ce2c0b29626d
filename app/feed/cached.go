package feed

import (
	"context"

	"github.com/feedglue/feedglue/app/config"
	"github.com/feedglue/feedglue/app/database"
	"github.com/feedglue/feedglue/app/mediacache"
)

// CacheNode wraps one upstream namespace and substitutes embedded media
// references with media cache references at render time. The upstream
// item is never mutated; a cache miss triggers a synchronous download,
// and URLs with failure markers render with their original remote URL.
type CacheNode struct {
	baseNode
	source string
	limit  int

	itemRepo database.ItemRepository
	store    *mediacache.Store
}

func NewCacheNode(cfg *config.NodeConfig, itemRepo database.ItemRepository, store *mediacache.Store) *CacheNode {
	return &CacheNode{
		baseNode: baseNode{
			name:     cfg.Name,
			title:    cfg.Node.Title,
			schedule: cfg.Settings.Schedule,
			enabled:  cfg.Settings.IsEnabled(),
		},
		source:   cfg.Cache.Source,
		limit:    cfg.Settings.Limit,
		itemRepo: itemRepo,
		store:    store,
	}
}

func (n *CacheNode) Sources() []string {
	return []string{n.source}
}

// Update prefetches media for current upstream items so render-time
// resolution is usually a pure lookup. Failures become markers inside the
// store, never update errors.
func (n *CacheNode) Update(ctx context.Context, force bool) error {
	items, err := n.itemRepo.GetItems(n.source, n.limit)
	if err != nil {
		return err
	}

	var urls []string
	for _, item := range items {
		found, err := mediacache.ExtractMediaURLs(item.Body)
		if err != nil {
			continue
		}
		urls = append(urls, found...)
	}

	return n.store.PrefetchAll(ctx, urls)
}

func (n *CacheNode) Items(ctx context.Context) ([]database.Item, error) {
	return n.itemRepo.GetItems(n.source, n.limit)
}

func (n *CacheNode) Render(ctx context.Context, item database.Item) (string, error) {
	return n.store.RewriteHTML(ctx, item.Body)
}
