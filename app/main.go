package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/feedglue/feedglue/app/api"
	"github.com/feedglue/feedglue/app/cfg"
	"github.com/feedglue/feedglue/app/config"
	"github.com/feedglue/feedglue/app/database"
	"github.com/feedglue/feedglue/app/feed"
	"github.com/feedglue/feedglue/app/llm"
	"github.com/feedglue/feedglue/app/mediacache"
	"github.com/feedglue/feedglue/app/tasks"
	"github.com/feedglue/feedglue/app/update"
)

func main() {
	godotenv.Load()

	appCfg, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting FeedGlue", "version", appCfg.Version)

	db, err := database.NewConnection(appCfg.DataDir)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "schema_version", version, "dirty", dirty)

	loader := config.NewLoader(appCfg.FeedsDir)
	configs, err := loader.LoadAll()
	if err != nil {
		slog.Error("Failed to load feed declarations", "dir", appCfg.FeedsDir, "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded feed declarations", "count", len(configs), "dir", appCfg.FeedsDir)

	itemRepo := database.NewItemRepository(db)
	runRepo := database.NewRunRepository(db)
	cacheRepo := database.NewCacheRepository(db)
	verdictRepo := database.NewVerdictRepository(db)

	httpClient := &http.Client{Timeout: 60 * time.Second}

	media, err := mediacache.NewStore(cacheRepo, httpClient, appCfg.DataDir, appCfg.UserAgent,
		time.Duration(appCfg.MediaTimeout)*time.Second, appCfg.MediaParallel)
	if err != nil {
		slog.Error("Failed to initialize media store", "error", err)
		os.Exit(1)
	}

	var classifier feed.Classifier
	if appCfg.OpenAIKey != "" {
		classifier = llm.NewOpenAIClassifier(appCfg.OpenAIKey, appCfg.OpenAIModel)
	}

	registry, err := feed.NewRegistry(configs, feed.Deps{
		Items:      itemRepo,
		Verdicts:   verdictRepo,
		Media:      media,
		HTTPClient: httpClient,
		Classifier: classifier,
		UserAgent:  appCfg.UserAgent,
	})
	if err != nil {
		slog.Error("Failed to build feed graph", "error", err)
		os.Exit(1)
	}

	locks := update.NewNamespaceLocks()
	orchestrator := update.NewOrchestrator(registry, runRepo, itemRepo, locks)

	// Fail on cycles before any network activity
	if _, err := orchestrator.ResolveOrder(); err != nil {
		slog.Error("Failed to resolve feed graph", "error", err)
		os.Exit(1)
	}

	if appCfg.Once {
		runOnce(orchestrator, appCfg)
		return
	}

	watcher := tasks.NewWatcher(orchestrator)
	watcher.Start()
	defer watcher.Stop()

	handler := api.NewHandler(registry, runRepo, itemRepo, media, orchestrator)
	server := api.NewServer(handler, appCfg.APIAccessKey, media.MediaDir())

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// Watcher is stopped via defer
	slog.Info("Shutdown complete")
}

// runOnce executes a single update pass and exits, for cron-style
// deployments that have no long-lived process.
func runOnce(orchestrator *update.Orchestrator, appCfg *cfg.Cfg) {
	summary, err := orchestrator.RunAll(context.Background(), update.Options{
		ForceAll:       appCfg.Force,
		ForceNamespace: appCfg.ForceFeed,
	})
	if err != nil {
		slog.Error("Update pass failed", "error", err)
		os.Exit(1)
	}

	if summary.Failed() > 0 {
		os.Exit(1)
	}
}
