// Package main - Entry point for the battery pricing server
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"battery-pricing/adapters/storage"
	"battery-pricing/api"
	"battery-pricing/core/engine"
	"battery-pricing/core/expression"
	"battery-pricing/core/ruleset"
	"battery-pricing/internal/config"
	"battery-pricing/internal/logging"
	"battery-pricing/internal/metrics"
)

const version = "1.0.0"

func main() {
	cfgPath := flag.String("config", "", "Config file (JSON)")
	addr := flag.String("addr", "", "Server address (overrides config)")
	rulesetsDir := flag.String("rulesets", "", "Rulesets directory (overrides config)")
	watch := flag.Bool("watch", false, "Reload rulesets on change")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *rulesetsDir != "" {
		cfg.Server.RulesetsDir = *rulesetsDir
	}
	if *watch {
		cfg.Server.Watch = true
	}
	config.Set(cfg)

	if err := logging.Initialize(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	if err := run(cfg); err != nil {
		logging.Fatal("Server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		collector *metrics.Collector
		observer  engine.Observer
	)
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace)
		observer = collector
	}

	sim := engine.NewSimulator(engine.Options{
		Workers: cfg.Engine.Workers,
		Limits: expression.Limits{
			MaxLength: cfg.Engine.MaxExpressionLength,
			MaxNodes:  cfg.Engine.MaxExpressionNodes,
			MaxDepth:  cfg.Engine.MaxExpressionDepth,
		},
		Observer:   observer,
		OutputKeys: cfg.Engine.OutputKeys,
	})

	rulesets := ruleset.NewInMemoryStore()
	if dir := cfg.Server.RulesetsDir; dir != "" {
		watcher := ruleset.NewWatcher(dir, rulesets)

		n, err := watcher.Sync()
		if err != nil {
			return err
		}
		logging.Info("Rulesets loaded", zap.String("dir", dir), zap.Int("count", n))

		if cfg.Server.Watch {
			go func() {
				if err := watcher.Watch(ctx); err != nil {
					logging.Error("Ruleset watcher stopped", zap.Error(err))
				}
			}()
		}
	}

	runs, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer runs.Close()

	var audit api.AuditLogger
	if cfg.Server.Audit {
		audit = api.LogAuditLogger{}
	}

	server := api.NewServer(api.Options{
		Version:        version,
		Rulesets:       rulesets,
		Runs:           runs,
		Simulator:      sim,
		Gates:          engine.DefaultGates(cfg.Gates.MinMarkup, cfg.Gates.MinRentabilidad),
		Metrics:        collector,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
		Audit:          audit,
	})

	logging.Info("Battery pricing server starting",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr),
		zap.String("storage", cfg.Storage.Backend),
		zap.Bool("metrics", collector != nil),
	)
	return server.ListenAndServe(ctx, cfg.Server.Addr)
}
