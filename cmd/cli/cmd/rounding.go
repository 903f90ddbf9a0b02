// Package cmd - rounding command
package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"battery-pricing/core/rounding"
)

var listMethods bool

// roundingCmd applies a rounding policy, mirroring the rounding() builtin
var roundingCmd = &cobra.Command{
	Use:   "rounding <value> <method>",
	Short: "Apply a rounding policy to a value",
	Long: `Apply one of the rounding policies available to ruleset expressions.

Unknown methods fall back to ordinary rounding, as they do inside a ruleset.

Examples:
  battery-pricing rounding 8530.5 ceil50
  battery-pricing rounding 1225 round50
  battery-pricing rounding --methods`,
	Args: func(cmd *cobra.Command, args []string) error {
		if listMethods {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(2)(cmd, args)
	},
	RunE: runRounding,
}

func init() {
	roundingCmd.Flags().BoolVar(&listMethods, "methods", false, "list the known rounding methods")
}

func runRounding(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if listMethods {
		fmt.Fprintln(out, strings.Join(rounding.Methods(), "\n"))
		return nil
	}

	value, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", args[0], err)
	}
	method := args[1]
	if !rounding.Known(method) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: unknown method %q, using ordinary rounding\n", method)
	}

	rounded, err := rounding.RoundStrict(value, method)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, strconv.FormatFloat(rounded, 'f', -1, 64))
	return nil
}
