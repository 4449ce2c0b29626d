package config

// NodeType identifies which implementation backs a declared feed node.
type NodeType string

const (
	NodeTypeRSS    NodeType = "rss"
	NodeTypeMerge  NodeType = "merge"
	NodeTypeDigest NodeType = "digest"
	NodeTypeFilter NodeType = "filter"
	NodeTypeCache  NodeType = "cache"
)

// NodeConfig is one declared feed node. The namespace is derived from the
// declaration filename and must be unique across the whole graph.
type NodeConfig struct {
	Name string `yaml:"-"`

	Node     NodeInfo `yaml:"node"`
	Settings Settings `yaml:"settings"`

	RSS    *RSSConfig    `yaml:"rss"`
	Merge  *MergeConfig  `yaml:"merge"`
	Digest *DigestConfig `yaml:"digest"`
	Filter *FilterConfig `yaml:"filter"`
	Cache  *CacheConfig  `yaml:"cache"`
}

type NodeInfo struct {
	Type  NodeType `yaml:"type"`
	Title string   `yaml:"title"`
}

type Settings struct {
	Enabled  *bool  `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // cron expression; empty means update on every pass
	Limit    int    `yaml:"limit"`
}

// IsEnabled treats an omitted enabled key as true.
func (s Settings) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

type RSSConfig struct {
	URL            string `yaml:"url"`
	ExtractContent bool   `yaml:"extract_content"`
	Timeout        int    `yaml:"timeout"` // seconds
}

type MergeConfig struct {
	Sources []string `yaml:"sources"`
}

type DigestConfig struct {
	Source     string `yaml:"source"`
	BackIssues int    `yaml:"back_issues"`
}

type FilterConfig struct {
	Source       string `yaml:"source"`
	Prompt       string `yaml:"prompt"`
	ContentLimit int    `yaml:"content_limit"` // characters of body fed to the model
}

type CacheConfig struct {
	Source string `yaml:"source"`
}

// Sources returns the upstream namespaces this node declares, in
// declaration order. Source nodes return an empty list.
func (c *NodeConfig) Sources() []string {
	switch c.Node.Type {
	case NodeTypeMerge:
		if c.Merge != nil {
			return c.Merge.Sources
		}
	case NodeTypeDigest:
		if c.Digest != nil {
			return []string{c.Digest.Source}
		}
	case NodeTypeFilter:
		if c.Filter != nil {
			return []string{c.Filter.Source}
		}
	case NodeTypeCache:
		if c.Cache != nil {
			return []string{c.Cache.Source}
		}
	}
	return nil
}
