// Package cmd - stored run management
package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"battery-pricing/adapters/storage"
	"battery-pricing/core/diff"
	"battery-pricing/core/output"
	"battery-pricing/internal/config"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect stored simulation runs",
	Long: `Inspect runs stored with "simulate --persist" or the HTTP API.

Runs live in the store configured under "storage" (use the sqlite backend
for runs that outlive a single command).`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print a stored run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a stored run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsDelete,
}

var runsDiffCmd = &cobra.Command{
	Use:   "diff <base-run-id> <head-run-id>",
	Short: "Compare the prices of two stored runs item by item",
	Args:  cobra.ExactArgs(2),
	RunE:  runRunsDiff,
}

var (
	diffOutput    string
	diffThreshold float64
	diffTop       int
)

var (
	runsRuleset string
	runsVersion string
	runsLimit   int
	runsFormat  string
)

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsDeleteCmd)
	runsCmd.AddCommand(runsDiffCmd)

	runsListCmd.Flags().StringVar(&runsRuleset, "ruleset", "", "only runs of this ruleset")
	runsListCmd.Flags().StringVar(&runsVersion, "version", "", "only runs of this ruleset version")
	runsListCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "maximum runs to list (0 for all)")

	runsShowCmd.Flags().StringVarP(&runsFormat, "format", "f", "table", "output format (table, json, csv)")

	runsDiffCmd.Flags().StringVar(&diffOutput, "output", diff.DefaultOutput, "output variable to compare")
	runsDiffCmd.Flags().Float64Var(&diffThreshold, "threshold", 0, "relative change treated as unchanged (0.01 = 1%)")
	runsDiffCmd.Flags().IntVar(&diffTop, "top", 10, "number of largest changes to list")
}

func openRunStore() (storage.Store, error) {
	cfg := config.Get()
	return storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	store, err := openRunStore()
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.List(context.Background(), &storage.ListFilter{
		RulesetName:    runsRuleset,
		RulesetVersion: runsVersion,
		Limit:          runsLimit,
	})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Ruleset", "Version", "Items", "Errors", "Created"})
	for _, r := range runs {
		t.AppendRow(table.Row{
			r.ID,
			r.RulesetName,
			r.RulesetVersion,
			r.Summary.TotalItems,
			r.Summary.ItemsConError,
			r.CreatedAt.Local().Format(time.DateTime),
		})
	}
	t.Render()
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	formatter, err := output.For(output.Format(runsFormat))
	if err != nil {
		return err
	}

	store, err := openRunStore()
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.Get(context.Background(), args[0])
	if err != nil {
		return err
	}
	return formatter.Render(cmd.OutOrStdout(), run.Result())
}

func runRunsDelete(cmd *cobra.Command, args []string) error {
	store, err := openRunStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted run %s\n", args[0])
	return nil
}

func runRunsDiff(cmd *cobra.Command, args []string) error {
	if diffThreshold < 0 {
		return fmt.Errorf("threshold must not be negative")
	}

	store, err := openRunStore()
	if err != nil {
		return err
	}
	defer store.Close()

	base, err := store.Get(context.Background(), args[0])
	if err != nil {
		return err
	}
	head, err := store.Get(context.Background(), args[1])
	if err != nil {
		return err
	}

	result := diff.NewDiffer(diffOutput, diffThreshold).Diff(base.Result(), head.Result())

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s@%s -> %s@%s\n",
		result.Before.RulesetName, result.Before.RulesetVersion,
		result.After.RulesetName, result.After.RulesetVersion)
	fmt.Fprint(w, result.Summary())

	top := result.TopChanges(diffTop)
	if len(top) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"SKU", "Change", "Before", "After", "Delta", "%"})
	for _, d := range top {
		t.AppendRow(table.Row{
			d.SKU,
			d.ChangeType,
			fixed(d.Before),
			fixed(d.After),
			d.Delta.StringFixed(2),
			fmt.Sprintf("%+.2f", d.DeltaPercent),
		})
	}
	t.Render()
	return nil
}

func fixed(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.StringFixed(2)
}
