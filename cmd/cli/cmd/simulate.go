// Package cmd - simulate command
package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"battery-pricing/adapters/storage"
	"battery-pricing/core/engine"
	"battery-pricing/core/expression"
	"battery-pricing/core/output"
	"battery-pricing/core/ruleset"
	"battery-pricing/internal/config"
	"battery-pricing/internal/logging"
)

var (
	rulesetFile  string
	itemsFile    string
	outputFormat string
	outputFile   string
	workers      int
	persist      bool
)

// simulateCmd represents the simulate command
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Price an item batch with a ruleset",
	Long: `Run a ruleset against every item of a batch and print the priced items
with a run summary.

The items file is a JSON array of items, or an object with an "items" array.
Use "-" to read items from stdin.

Examples:
  battery-pricing simulate -r baterias.yaml -i items.json
  battery-pricing simulate -r baterias.hcl -i items.json --format json
  cat items.json | battery-pricing simulate -r baterias.json -i - --format csv --out precios.csv`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringVarP(&rulesetFile, "ruleset", "r", "", "ruleset file (.json, .yaml, .hcl) [REQUIRED]")
	simulateCmd.Flags().StringVarP(&itemsFile, "items", "i", "", "items file (JSON) or - for stdin [REQUIRED]")
	simulateCmd.Flags().StringVarP(&outputFormat, "format", "f", "table", "output format (table, json, csv)")
	simulateCmd.Flags().StringVarP(&outputFile, "out", "o", "", "write output to file instead of stdout")
	simulateCmd.Flags().IntVarP(&workers, "workers", "w", 0, "parallel workers (default from config)")
	simulateCmd.Flags().BoolVar(&persist, "persist", false, "store the run in the configured run store")

	_ = simulateCmd.MarkFlagRequired("ruleset")
	_ = simulateCmd.MarkFlagRequired("items")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	startTime := time.Now()

	cfg := config.Get()

	formatter, err := output.For(output.Format(outputFormat))
	if err != nil {
		return err
	}

	rs, err := ruleset.LoadFile(rulesetFile)
	if err != nil {
		return err
	}
	if err := ruleset.Check(rs); err != nil {
		return err
	}

	items, err := readItems(cmd.InOrStdin(), itemsFile)
	if err != nil {
		return err
	}

	logging.Info("Starting simulation",
		logging.Ruleset(rs.Name, rs.Version),
		zap.Int("items", len(items)),
	)

	sim := newSimulator(cfg, workers, nil)
	result, err := sim.Simulate(ctx, rs, items, configuredGates(cfg)...)
	if err != nil {
		return err
	}

	var out io.Writer = cmd.OutOrStdout()
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}
	if err := formatter.Render(out, result); err != nil {
		return fmt.Errorf("failed to render output: %w", err)
	}

	if persist {
		id, err := saveRun(ctx, cfg, rs, items, result)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Run stored: %s\n", id)
	}

	logging.Info("Simulation complete",
		logging.Ruleset(rs.Name, rs.Version),
		zap.Duration("duration", time.Since(startTime)),
	)
	return nil
}

// readItems decodes an item batch from a JSON array or an {"items": [...]} document
func readItems(stdin io.Reader, path string) ([]engine.Item, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read items: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var doc struct {
			Items []engine.Item `json:"items"`
		}
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("invalid items document: %w", err)
		}
		return doc.Items, nil
	}

	var items []engine.Item
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, fmt.Errorf("invalid items document: %w", err)
	}
	return items, nil
}

// newSimulator builds a simulator from the engine section of cfg.
// A positive workers value takes precedence over the config.
func newSimulator(cfg *config.Config, workers int, observer engine.Observer) *engine.Simulator {
	if workers <= 0 {
		workers = cfg.Engine.Workers
	}
	return engine.NewSimulator(engine.Options{
		Workers: workers,
		Limits: expression.Limits{
			MaxLength: cfg.Engine.MaxExpressionLength,
			MaxNodes:  cfg.Engine.MaxExpressionNodes,
			MaxDepth:  cfg.Engine.MaxExpressionDepth,
		},
		Observer:   observer,
		OutputKeys: cfg.Engine.OutputKeys,
	})
}

func configuredGates(cfg *config.Config) []engine.QualityGate {
	return engine.DefaultGates(cfg.Gates.MinMarkup, cfg.Gates.MinRentabilidad)
}

func saveRun(ctx context.Context, cfg *config.Config, rs *ruleset.Ruleset, items []engine.Item, result *engine.Result) (string, error) {
	if storage.Backend(cfg.Storage.Backend) == storage.BackendMemory {
		logging.Warn("Run store is in memory; the run is lost when the command exits")
	}

	store, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return "", err
	}
	defer store.Close()

	run := storage.NewRun(result, storage.InputHash(rs, items))
	if err := store.Save(ctx, run); err != nil {
		return "", err
	}
	return run.ID, nil
}
