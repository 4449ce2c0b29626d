package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage configuration
	DataDir string `long:"data-dir" env:"DATA_DIR" default:"./data" description:"Directory holding the sqlite database and cached media blobs"`

	// Application configuration
	FeedsDir     string `long:"feeds-dir" env:"FEEDS_DIR" default:"./feeds" description:"Directory containing feed node declaration files"`
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseUrl      string `long:"base-url" env:"BASE_URL" description:"Public base URL for the service (e.g., https://feeds.example.com)"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Update loop configuration
	WatchInterval int    `long:"watch-interval" env:"WATCH_INTERVAL" default:"60" description:"Minimum interval between update passes in seconds"`
	Once          bool   `long:"once" description:"Run a single update pass and exit instead of serving"`
	Force         bool   `long:"force" description:"Bypass lock and schedule checks for all nodes (with --once)"`
	ForceFeed     string `long:"force-feed" description:"Bypass lock and schedule checks for a single namespace (with --once)"`

	// Media cache configuration
	MediaTimeout  int `long:"media-timeout" env:"MEDIA_TIMEOUT" default:"30" description:"Media download timeout in seconds"`
	MediaParallel int `long:"media-parallel" env:"MEDIA_PARALLEL" default:"4" description:"Maximum concurrent media downloads within one node update"`

	// AI filter configuration
	OpenAIKey   string `long:"openai-key" env:"OPENAI_API_KEY" description:"OpenAI API key, required only when filter nodes are declared"`
	OpenAIModel string `long:"openai-model" env:"OPENAI_MODEL" default:"gpt-4o-mini" description:"Model used by filter nodes"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"FeedGlue/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DataDir:       raw.DataDir,
		FeedsDir:      raw.FeedsDir,
		Port:          raw.Port,
		BaseUrl:       raw.BaseUrl,
		APIAccessKey:  raw.APIAccessKey,
		WatchInterval: raw.WatchInterval,
		Once:          raw.Once,
		Force:         raw.Force,
		ForceFeed:     raw.ForceFeed,
		MediaTimeout:  raw.MediaTimeout,
		MediaParallel: raw.MediaParallel,
		OpenAIKey:     raw.OpenAIKey,
		OpenAIModel:   raw.OpenAIModel,
		UserAgent:     raw.UserAgent,
		Timezone:      raw.Timezone,
		Debug:         raw.Debug,
		Version:       GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

// Set replaces the global configuration. Intended for tests.
func Set(c *Cfg) {
	globalCfg = c
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
