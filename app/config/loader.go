package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/adhocore/gronx"
	"gopkg.in/yaml.v3"
)

// Configuration errors are fatal: the run must abort before any network
// activity when the declared graph is unusable.
var (
	ErrDuplicateNamespace = errors.New("duplicate namespace")
	ErrUnknownSource      = errors.New("unknown source namespace")
	ErrInvalidNode        = errors.New("invalid node declaration")
)

// Loader reads feed node declarations from a directory, one YAML file per
// node. The filename stem becomes the node's namespace.
type Loader struct {
	feedsDir string
}

func NewLoader(feedsDir string) *Loader {
	return &Loader{feedsDir: feedsDir}
}

// LoadAll loads and validates every declaration. The returned slice is in
// deterministic declaration order (sorted by namespace), which the
// dependency resolver uses for tie-breaking.
func (l *Loader) LoadAll() ([]*NodeConfig, error) {
	if _, err := os.Stat(l.feedsDir); os.IsNotExist(err) {
		return nil, nil
	}

	files, err := filepath.Glob(filepath.Join(l.feedsDir, "*.yml"))
	if err != nil {
		return nil, fmt.Errorf("failed to find YML files: %w", err)
	}
	yamlFiles, err := filepath.Glob(filepath.Join(l.feedsDir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to find YAML files: %w", err)
	}
	files = append(files, yamlFiles...)
	sort.Strings(files)

	var configs []*NodeConfig
	seen := make(map[string]string)

	for _, file := range files {
		name := namespaceFromFile(file)

		if prev, ok := seen[name]; ok {
			return nil, fmt.Errorf("%w: %q declared by both %s and %s", ErrDuplicateNamespace, name, prev, file)
		}
		seen[name] = file

		config, err := l.loadFile(file, name)
		if err != nil {
			return nil, fmt.Errorf("error loading %s: %w", file, err)
		}

		if err := l.validate(config); err != nil {
			return nil, fmt.Errorf("invalid declaration %s: %w", file, err)
		}

		configs = append(configs, config)
		slog.Debug("Declaration loaded", "namespace", name, "type", config.Node.Type, "enabled", config.Settings.IsEnabled())
	}

	if err := checkReferences(configs); err != nil {
		return nil, err
	}

	return configs, nil
}

func (l *Loader) loadFile(path, name string) (*NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var config NodeConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	config.Name = name
	l.setDefaults(&config)

	return &config, nil
}

func (l *Loader) setDefaults(config *NodeConfig) {
	if config.Settings.Limit == 0 {
		config.Settings.Limit = 12
	}
	if config.Node.Title == "" {
		config.Node.Title = config.Name
	}
	if config.RSS != nil && config.RSS.Timeout == 0 {
		config.RSS.Timeout = 30
	}
	if config.Digest != nil && config.Digest.BackIssues == 0 {
		config.Digest.BackIssues = 2
	}
	if config.Filter != nil && config.Filter.ContentLimit == 0 {
		config.Filter.ContentLimit = 1000
	}
	// Digest nodes need a schedule to bound their windows; default hourly.
	if config.Node.Type == NodeTypeDigest && config.Settings.Schedule == "" {
		config.Settings.Schedule = "0 * * * *"
	}
}

func (l *Loader) validate(config *NodeConfig) error {
	switch config.Node.Type {
	case NodeTypeRSS:
		if config.RSS == nil || config.RSS.URL == "" {
			return fmt.Errorf("%w: rss node requires rss.url", ErrInvalidNode)
		}
	case NodeTypeMerge:
		if config.Merge == nil || len(config.Merge.Sources) == 0 {
			return fmt.Errorf("%w: merge node requires at least one source", ErrInvalidNode)
		}
	case NodeTypeDigest:
		if config.Digest == nil || config.Digest.Source == "" {
			return fmt.Errorf("%w: digest node requires digest.source", ErrInvalidNode)
		}
	case NodeTypeFilter:
		if config.Filter == nil || config.Filter.Source == "" || config.Filter.Prompt == "" {
			return fmt.Errorf("%w: filter node requires filter.source and filter.prompt", ErrInvalidNode)
		}
	case NodeTypeCache:
		if config.Cache == nil || config.Cache.Source == "" {
			return fmt.Errorf("%w: cache node requires cache.source", ErrInvalidNode)
		}
	case "":
		return fmt.Errorf("%w: node.type is required", ErrInvalidNode)
	default:
		return fmt.Errorf("%w: unknown node type %q", ErrInvalidNode, config.Node.Type)
	}

	if config.Settings.Schedule != "" && !gronx.IsValid(config.Settings.Schedule) {
		return fmt.Errorf("%w: invalid cron expression %q", ErrInvalidNode, config.Settings.Schedule)
	}

	return nil
}

// checkReferences verifies that every declared upstream namespace exists.
// A dangling reference is a configuration error, not a runtime condition.
func checkReferences(configs []*NodeConfig) error {
	known := make(map[string]bool, len(configs))
	for _, c := range configs {
		known[c.Name] = true
	}

	for _, c := range configs {
		for _, src := range c.Sources() {
			if !known[src] {
				return fmt.Errorf("%w: %q referenced by %q", ErrUnknownSource, src, c.Name)
			}
			if src == c.Name {
				return fmt.Errorf("%w: %q references itself", ErrInvalidNode, c.Name)
			}
		}
	}

	return nil
}

func namespaceFromFile(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
