// Package cmd - validate command
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"battery-pricing/core/ruleset"
)

// validateCmd checks ruleset files without running them
var validateCmd = &cobra.Command{
	Use:   "validate <ruleset|dir>...",
	Short: "Validate ruleset files",
	Long: `Parse ruleset files and check their structure.

Directories are expanded to every .json, .yaml, .yml and .hcl file they
contain. Expressions are not evaluated.

Examples:
  battery-pricing validate baterias.yaml
  battery-pricing validate ./rulesets`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	invalid := 0
	checked := 0

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return fmt.Errorf("path does not exist: %s", arg)
		}

		if !info.IsDir() {
			rs, err := ruleset.LoadFile(arg)
			checked++
			if !report(out, arg, rs, err) {
				invalid++
			}
			continue
		}

		results, err := ruleset.LoadDir(arg)
		if err != nil {
			return err
		}
		for _, res := range results {
			checked++
			// a decoded ruleset that failed Check is reported problem by problem
			loadErr := res.Err
			if res.Ruleset != nil {
				loadErr = nil
			}
			if !report(out, res.Path, res.Ruleset, loadErr) {
				invalid++
			}
		}
	}

	fmt.Fprintf(out, "\n%d checked, %d invalid\n", checked, invalid)
	if invalid > 0 {
		return fmt.Errorf("%d invalid ruleset(s)", invalid)
	}
	return nil
}

// report prints the outcome for one file and returns whether it is valid
func report(w io.Writer, path string, rs *ruleset.Ruleset, loadErr error) bool {
	if loadErr != nil {
		fmt.Fprintf(w, "✗ %s\n    %v\n", path, loadErr)
		return false
	}

	problems := ruleset.Validate(rs)
	if len(problems) == 0 {
		s := rs.Summarize()
		fmt.Fprintf(w, "✓ %s (%s, %d steps, %d overrides)\n", path, rs.ID(), s.Steps, s.Overrides)
		return true
	}

	fmt.Fprintf(w, "✗ %s\n", path)
	for _, p := range problems {
		fmt.Fprintf(w, "    %s\n", p)
	}
	return false
}
