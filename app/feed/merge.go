package feed

import (
	"context"
	"sort"

	"github.com/feedglue/feedglue/app/config"
	"github.com/feedglue/feedglue/app/database"
)

// MergeNode is a pure read-time union of its upstream namespaces. It
// stores nothing of its own: Items deduplicates by (namespace,
// external_id), sorts by published time descending, and breaks ties by
// declared source order so repeated reads over unchanged upstreams are
// byte-identical.
type MergeNode struct {
	baseNode
	sources []string
	limit   int

	itemRepo database.ItemRepository
}

func NewMergeNode(cfg *config.NodeConfig, itemRepo database.ItemRepository) *MergeNode {
	return &MergeNode{
		baseNode: baseNode{
			name:     cfg.Name,
			title:    cfg.Node.Title,
			schedule: cfg.Settings.Schedule,
			enabled:  cfg.Settings.IsEnabled(),
		},
		sources:  cfg.Merge.Sources,
		limit:    cfg.Settings.Limit,
		itemRepo: itemRepo,
	}
}

func (n *MergeNode) Sources() []string {
	return n.sources
}

// Update is a no-op: upstreams are refreshed by the orchestrator in
// dependency order before the merge is ever read.
func (n *MergeNode) Update(ctx context.Context, force bool) error {
	return nil
}

func (n *MergeNode) Items(ctx context.Context) ([]database.Item, error) {
	items, err := n.itemRepo.GetItemsAcross(n.sources, 0)
	if err != nil {
		return nil, err
	}

	srcOrder := make(map[string]int, len(n.sources))
	for i, src := range n.sources {
		srcOrder[src] = i
	}

	type key struct{ ns, id string }
	seen := make(map[key]bool, len(items))
	merged := items[:0]
	for _, item := range items {
		k := key{item.Namespace, item.ExternalID}
		if seen[k] {
			continue
		}
		seen[k] = true
		merged = append(merged, item)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if !a.PublishedAt.Equal(b.PublishedAt) {
			return a.PublishedAt.After(b.PublishedAt)
		}
		if srcOrder[a.Namespace] != srcOrder[b.Namespace] {
			return srcOrder[a.Namespace] < srcOrder[b.Namespace]
		}
		return a.ExternalID < b.ExternalID
	})

	if n.limit > 0 && len(merged) > n.limit {
		merged = merged[:n.limit]
	}

	return merged, nil
}

func (n *MergeNode) Render(ctx context.Context, item database.Item) (string, error) {
	return item.Body, nil
}
