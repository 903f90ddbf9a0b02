package output

import (
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"battery-pricing/core/engine"
)

// TableFormatter renders items as a text table followed by the run summary
type TableFormatter struct{}

// Format implements Formatter
func (TableFormatter) Format() Format { return FormatTable }

// ContentType implements Formatter
func (TableFormatter) ContentType() string { return "text/plain; charset=utf-8" }

// Render implements Formatter
func (TableFormatter) Render(w io.Writer, result *engine.Result) error {
	outputs := outputColumns(result.Items)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(fmt.Sprintf("%s @ %s", result.RulesetName, result.RulesetVersion))

	header := table.Row{"SKU", "Marca", "Linea"}
	for _, col := range outputs {
		header = append(header, col)
	}
	header = append(header, "Estado")
	t.AppendHeader(header)

	configs := make([]table.ColumnConfig, 0, len(outputs))
	for i := range outputs {
		configs = append(configs, table.ColumnConfig{Number: 4 + i, Align: text.AlignRight})
	}
	t.SetColumnConfigs(configs)

	for i := range result.Items {
		item := &result.Items[i]
		row := table.Row{item.Input(engine.FieldSKU), item.Input(engine.FieldMarca), item.Input(engine.FieldLinea)}
		for _, col := range outputs {
			row = append(row, displayOutput(item, col))
		}
		row = append(row, status(item))
		t.AppendRow(row)
	}

	s := result.Summary
	t.AppendFooter(table.Row{"Items", s.TotalItems})
	t.AppendFooter(table.Row{"Margen promedio", formatRatio(s.MargenPromedio)})
	t.AppendFooter(table.Row{"Rentabilidad promedio", formatRatio(s.RentabilidadPromedio)})
	if s.ItemsConError > 0 {
		t.AppendFooter(table.Row{"Con error", s.ItemsConError})
	}
	if s.ItemsConAdvertencias > 0 {
		t.AppendFooter(table.Row{"Con advertencias", s.ItemsConAdvertencias})
	}

	names := make([]string, 0, len(s.Flags))
	for name := range s.Flags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t.AppendFooter(table.Row{name, s.Flags[name]})
	}

	t.Render()
	return nil
}

func status(item *engine.PriceItem) string {
	switch {
	case item.Failed():
		return "error: " + item.Error
	case len(item.Warnings) > 0:
		return fmt.Sprintf("%d advertencia(s)", len(item.Warnings))
	default:
		return "ok"
	}
}
