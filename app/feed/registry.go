package feed

import (
	"fmt"
	"net/http"

	"github.com/feedglue/feedglue/app/config"
	"github.com/feedglue/feedglue/app/database"
	"github.com/feedglue/feedglue/app/mediacache"
)

// Deps carries everything node constructors need.
type Deps struct {
	Items      database.ItemRepository
	Verdicts   database.VerdictRepository
	Media      *mediacache.Store
	HTTPClient *http.Client
	Classifier Classifier
	UserAgent  string
}

// Registry holds the constructed nodes of the declared graph, preserving
// declaration order for deterministic resolution.
type Registry struct {
	nodes map[string]Node
	order []Node
}

// NewRegistry builds a Node for every declaration. Declarations arrive
// already reference-checked, so the only failures left are missing
// runtime dependencies (a filter node without a classifier).
func NewRegistry(configs []*config.NodeConfig, deps Deps) (*Registry, error) {
	r := &Registry{nodes: make(map[string]Node, len(configs))}

	for _, cfg := range configs {
		var node Node
		switch cfg.Node.Type {
		case config.NodeTypeRSS:
			node = NewRSSNode(cfg, deps.HTTPClient, deps.Items, deps.UserAgent)
		case config.NodeTypeMerge:
			node = NewMergeNode(cfg, deps.Items)
		case config.NodeTypeDigest:
			node = NewDigestNode(cfg, deps.Items)
		case config.NodeTypeFilter:
			if deps.Classifier == nil {
				return nil, fmt.Errorf("filter node %q declared but no classifier configured (set OPENAI_API_KEY)", cfg.Name)
			}
			node = NewFilterNode(cfg, deps.Items, deps.Verdicts, deps.Classifier)
		case config.NodeTypeCache:
			node = NewCacheNode(cfg, deps.Items, deps.Media)
		default:
			return nil, fmt.Errorf("unknown node type %q for %q", cfg.Node.Type, cfg.Name)
		}

		r.nodes[cfg.Name] = node
		r.order = append(r.order, node)
	}

	return r, nil
}

func (r *Registry) Get(namespace string) (Node, bool) {
	node, ok := r.nodes[namespace]
	return node, ok
}

// All returns nodes in declaration order.
func (r *Registry) All() []Node {
	return r.order
}

func (r *Registry) Count() int {
	return len(r.order)
}
