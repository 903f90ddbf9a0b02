package output

import (
	"encoding/json"
	"io"

	"battery-pricing/core/engine"
)

// JSONFormatter writes the result as a JSON document
type JSONFormatter struct {
	Indent bool
}

// Format implements Formatter
func (JSONFormatter) Format() Format { return FormatJSON }

// ContentType implements Formatter
func (JSONFormatter) ContentType() string { return "application/json" }

// Render implements Formatter
func (f JSONFormatter) Render(w io.Writer, result *engine.Result) error {
	enc := json.NewEncoder(w)
	if f.Indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(result)
}
