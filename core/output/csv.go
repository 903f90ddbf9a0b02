package output

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"battery-pricing/core/engine"
)

// CSVFormatter writes one row per item: the input fields, every output
// column and the item error. Numbers are written in full precision.
type CSVFormatter struct{}

// Format implements Formatter
func (CSVFormatter) Format() Format { return FormatCSV }

// ContentType implements Formatter
func (CSVFormatter) ContentType() string { return "text/csv" }

// Render implements Formatter
func (CSVFormatter) Render(w io.Writer, result *engine.Result) error {
	outputs := outputColumns(result.Items)

	cw := csv.NewWriter(w)
	header := make([]string, 0, len(inputColumns)+len(outputs)+2)
	header = append(header, inputColumns...)
	header = append(header, outputs...)
	header = append(header, "error", "warnings")
	if err := cw.Write(header); err != nil {
		return err
	}

	for i := range result.Items {
		item := &result.Items[i]
		row := make([]string, 0, len(header))
		for _, col := range inputColumns {
			row = append(row, item.Input(col))
		}
		for _, col := range outputs {
			row = append(row, csvValue(item, col))
		}
		row = append(row, item.Error, strings.Join(item.Warnings, "; "))
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func csvValue(item *engine.PriceItem, name string) string {
	if item.Outputs == nil {
		return ""
	}
	v, ok := item.Outputs.Get(name)
	if !ok || v.IsNull() {
		return ""
	}
	if v.IsNumber() {
		return strconv.FormatFloat(v.Float(), 'f', -1, 64)
	}
	if s, err := v.AsString(); err == nil {
		return s
	}
	return v.String()
}
