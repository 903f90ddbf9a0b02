// Package output renders priced batches for people and machines.
package output

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"battery-pricing/core/engine"
	"battery-pricing/core/rounding"
)

// Format represents output format type
type Format string

const (
	// FormatTable is a human-readable table
	FormatTable Format = "table"

	// FormatJSON is machine-readable JSON
	FormatJSON Format = "json"

	// FormatCSV is one row per item
	FormatCSV Format = "csv"
)

// Formatter produces output in a specific format
type Formatter interface {
	// Format returns the format type
	Format() Format

	// ContentType is the MIME type of the rendered output
	ContentType() string

	// Render produces output for the given result
	Render(w io.Writer, result *engine.Result) error
}

var formatters = map[Format]Formatter{
	FormatTable: TableFormatter{},
	FormatJSON:  JSONFormatter{Indent: true},
	FormatCSV:   CSVFormatter{},
}

// For returns the formatter of a format
func For(format Format) (Formatter, error) {
	f, ok := formatters[Format(strings.ToLower(string(format)))]
	if !ok {
		return nil, fmt.Errorf("unknown output format %q (want one of %s)", format, strings.Join(Formats(), ", "))
	}
	return f, nil
}

// Formats lists the supported format names
func Formats() []string {
	names := make([]string, 0, len(formatters))
	for f := range formatters {
		names = append(names, string(f))
	}
	sort.Strings(names)
	return names
}

// inputColumns are the item fields written before the outputs
var inputColumns = []string{
	engine.FieldSKU,
	engine.FieldMarca,
	engine.FieldLinea,
	engine.FieldBasePrice,
	engine.FieldCost,
}

// outputColumns returns every output name in order of first appearance
func outputColumns(items []engine.PriceItem) []string {
	var cols []string
	seen := make(map[string]bool)
	for i := range items {
		if items[i].Outputs == nil {
			continue
		}
		for _, k := range items[i].Outputs.Keys() {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	return cols
}

// ratioOutputs are shown as percentages
var ratioOutputs = map[string]bool{
	engine.OutputMarkup:       true,
	engine.OutputRentabilidad: true,
}

func formatRatio(v float64) string {
	return strconv.FormatFloat(v*100, 'f', 2, 64) + "%"
}

// displayOutput renders an output for people: ratios as percentages and
// other numbers as money
func displayOutput(item *engine.PriceItem, name string) string {
	if v, ok := item.Number(name); ok {
		if ratioOutputs[name] {
			return formatRatio(v)
		}
		return rounding.Money(v)
	}
	if item.Outputs == nil {
		return ""
	}
	v, ok := item.Outputs.Get(name)
	if !ok || v.IsNull() {
		return ""
	}
	if s, err := v.AsString(); err == nil {
		return s
	}
	return v.String()
}
