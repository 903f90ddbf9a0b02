// Package cmd provides the CLI commands for battery-pricing.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"battery-pricing/internal/config"
	"battery-pricing/internal/logging"
)

// Version is set at build time
var Version = "0.1.0"

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "battery-pricing",
	Short: "Price battery catalogs with declarative rulesets",
	Long: `battery-pricing evaluates pricing rulesets against item batches.

A ruleset is an ordered list of steps (copy a variable, set a literal or
evaluate an expression) plus conditional overrides keyed on item attributes.
Rulesets can be written in JSON, YAML or HCL.

Examples:
  battery-pricing validate rulesets/baterias.yaml
  battery-pricing simulate --ruleset rulesets/baterias.yaml --items items.json
  battery-pricing simulate -r baterias.hcl -i items.json --format csv --out precios.csv
  battery-pricing rounding 8530.5 ceil50`,
	SilenceUsage: true,
}

// Execute runs the CLI
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.battery-pricing/config.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(roundingCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

func initConfig() {
	path := cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	config.Set(cfg)

	// Initialize logging
	if verbose {
		cfg.Logging.Level = "debug"
	} else if cfgFile == "" {
		cfg.Logging.Level = "warn"
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
	}
}

// versionCmd prints version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "battery-pricing version %s\n", Version)
	},
}
