package engine

// Output names averaged by Summarize
const (
	OutputMarkup       = "markup"
	OutputRentabilidad = "rentabilidad"
)

// RunSummary aggregates a priced batch
type RunSummary struct {
	TotalItems           int            `json:"total_items"`
	MargenPromedio       float64        `json:"margen_promedio"`
	RentabilidadPromedio float64        `json:"rentabilidad_promedio"`
	ItemsConError        int            `json:"items_con_error"`
	ItemsConAdvertencias int            `json:"items_con_advertencias"`
	Flags                map[string]int `json:"flags,omitempty"`
}

// QualityGate flags priced items that need review
type QualityGate interface {
	Name() string
	Flag(item *PriceItem) bool
}

// ThresholdGate flags items whose numeric Output is below Min. Items without
// the output, or that failed, are not flagged.
type ThresholdGate struct {
	GateName string
	Output   string
	Min      float64
}

// Name implements QualityGate
func (g ThresholdGate) Name() string {
	if g.GateName != "" {
		return g.GateName
	}
	return g.Output + "_bajo_minimo"
}

// Flag implements QualityGate
func (g ThresholdGate) Flag(item *PriceItem) bool {
	if item.Failed() {
		return false
	}
	v, ok := item.Number(g.Output)
	return ok && v < g.Min
}

// DefaultGates builds threshold gates for the configured minimums.
// A nil minimum disables its gate.
func DefaultGates(minMarkup, minRentabilidad *float64) []QualityGate {
	var gates []QualityGate
	if minMarkup != nil {
		gates = append(gates, ThresholdGate{Output: OutputMarkup, Min: *minMarkup})
	}
	if minRentabilidad != nil {
		gates = append(gates, ThresholdGate{Output: OutputRentabilidad, Min: *minRentabilidad})
	}
	return gates
}

// Summarize reduces a batch to its summary. Each average only covers the
// items that produced that output; an empty subset averages to 0.
// The result does not depend on item order.
func Summarize(items []PriceItem, gates ...QualityGate) RunSummary {
	summary := RunSummary{TotalItems: len(items)}
	if len(gates) > 0 {
		summary.Flags = make(map[string]int, len(gates))
		for _, g := range gates {
			summary.Flags[g.Name()] = 0
		}
	}

	var markupSum, rentSum float64
	var markupN, rentN int

	for i := range items {
		item := &items[i]
		if item.Failed() {
			summary.ItemsConError++
		} else if len(item.Warnings) > 0 {
			summary.ItemsConAdvertencias++
		}

		if v, ok := item.Number(OutputMarkup); ok {
			markupSum += v
			markupN++
		}
		if v, ok := item.Number(OutputRentabilidad); ok {
			rentSum += v
			rentN++
		}

		for _, g := range gates {
			if g.Flag(item) {
				summary.Flags[g.Name()]++
			}
		}
	}

	if markupN > 0 {
		summary.MargenPromedio = markupSum / float64(markupN)
	}
	if rentN > 0 {
		summary.RentabilidadPromedio = rentSum / float64(rentN)
	}
	return summary
}
