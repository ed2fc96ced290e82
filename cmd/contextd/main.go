// contextd serves the context-lifecycle and knowledge-correlation engine
// over MCP stdio. An agent host launches it as a subprocess and calls the
// context.* and knowledge.* tools.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"

	_ "modernc.org/sqlite"

	"github.com/OmniNode-ai/omniintelligence-sub000/pkg/config"
	"github.com/OmniNode-ai/omniintelligence-sub000/pkg/contextstore"
	"github.com/OmniNode-ai/omniintelligence-sub000/pkg/correlate"
	"github.com/OmniNode-ai/omniintelligence-sub000/pkg/freshness"
	"github.com/OmniNode-ai/omniintelligence-sub000/pkg/inherit"
	"github.com/OmniNode-ai/omniintelligence-sub000/pkg/knowledge"
	ommcp "github.com/OmniNode-ai/omniintelligence-sub000/pkg/mcp"
	"github.com/OmniNode-ai/omniintelligence-sub000/pkg/resilience"
	"github.com/OmniNode-ai/omniintelligence-sub000/pkg/telemetry"
)

const (
	serviceName = "contextd"
	version     = "0.1.0"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Stdout carries the MCP stream; logs go to stderr.
	log := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	shutdown, err := telemetry.InitWithConfig(serviceName, version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	db, err := sql.Open("sqlite", cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	persister, err := contextstore.NewSQLitePersister(db)
	if err != nil {
		return fmt.Errorf("bundle storage: %w", err)
	}
	recordStore, err := knowledge.NewSQLiteRecordStore(db)
	if err != nil {
		return fmt.Errorf("record storage: %w", err)
	}
	summaryStore, err := correlate.NewSQLiteSummaryStore(db)
	if err != nil {
		return fmt.Errorf("summary storage: %w", err)
	}

	store := contextstore.New(contextstore.WithPersister(persister))
	scorer := freshness.NewScorer(freshness.Options{
		Weights:          cfg.Freshness.Weights,
		DecayWeight:      cfg.Freshness.DecayWeight,
		DecayHorizon:     cfg.Freshness.DecayHorizon,
		FreshThreshold:   cfg.Freshness.FreshThreshold,
		InvalidThreshold: cfg.Freshness.InvalidThreshold,
	})
	packager := inherit.New(store, scorer)

	retry := resilience.DefaultRetryConfig().
		WithMaxAttempts(cfg.Capture.MaxAttempts).
		WithInitialDelay(cfg.Capture.InitialDelay).
		WithMaxDelay(cfg.Capture.MaxDelay)
	pipeline := knowledge.NewPipeline(recordStore, knowledge.Options{
		QueueSize:    cfg.Capture.QueueSize,
		Retry:        retry,
		WriteTimeout: cfg.Capture.WriteTimeout,
	})
	pipeline.Start()
	defer pipeline.Stop()

	engine := correlate.NewEngine(recordStore,
		correlate.WithSummaryStore(summaryStore),
		correlate.WithConfidenceFloor(cfg.Correlate.ConfidenceFloor),
	)
	sweeper := correlate.NewSweeper(engine, correlate.SweeperOptions{
		Interval:    cfg.Correlate.SweepInterval,
		Timeout:     cfg.Correlate.SweepTimeout,
		WindowSince: cfg.Correlate.WindowSince,
	})
	sweeper.Start()
	defer sweeper.Stop()

	server := ommcp.NewServer(serviceName, version)
	tools := &toolset{
		store:       store,
		packager:    packager,
		pipeline:    pipeline,
		engine:      engine,
		windowSince: cfg.Correlate.WindowSince,
	}
	tools.register(server)

	log.Info("contextd.start",
		slog.String("version", version),
		slog.String("storage", cfg.Storage.Path),
		slog.Duration("sweep_interval", cfg.Correlate.SweepInterval),
	)

	// Blocks until the host closes stdin.
	return server.ServeStdio()
}
