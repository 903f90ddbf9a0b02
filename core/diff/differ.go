// Package diff provides item-level run diffing.
// Compares two priced batches SKU by SKU.
package diff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"battery-pricing/core/engine"
)

// DefaultOutput is the output compared when none is given
const DefaultOutput = "precio_publico"

// Result is the complete diff between two runs
type Result struct {
	// Output is the compared output variable
	Output string `json:"output"`

	Before Side `json:"before"`
	After  Side `json:"after"`

	// Overall change of the summed output
	TotalDelta   decimal.Decimal `json:"total_delta"`
	DeltaPercent float64         `json:"delta_percent"`

	// Item-level changes
	Added     []*ItemDiff `json:"added"`
	Removed   []*ItemDiff `json:"removed"`
	Changed   []*ItemDiff `json:"changed"`
	Unchanged []*ItemDiff `json:"unchanged"`

	// Counts
	AddedCount     int `json:"added_count"`
	RemovedCount   int `json:"removed_count"`
	ChangedCount   int `json:"changed_count"`
	UnchangedCount int `json:"unchanged_count"`
}

// Side describes one of the compared runs
type Side struct {
	RulesetName    string          `json:"ruleset_name"`
	RulesetVersion string          `json:"ruleset_version"`
	Items          int             `json:"items"`
	Total          decimal.Decimal `json:"total"`
}

// ItemDiff describes changes to a single item
type ItemDiff struct {
	SKU        string     `json:"sku"`
	ChangeType ChangeType `json:"change"`

	// Values of the compared output; nil when the item lacks it
	Before *decimal.Decimal `json:"before,omitempty"`
	After  *decimal.Decimal `json:"after,omitempty"`

	Delta        decimal.Decimal `json:"delta"`
	DeltaPercent float64         `json:"delta_percent"`

	// ChangedOutputs lists every output whose value differs
	ChangedOutputs []string `json:"changed_outputs,omitempty"`
}

// ChangeType indicates the type of change
type ChangeType int

const (
	ChangeAdded     ChangeType = iota // Item only in the later run
	ChangeRemoved                     // Item only in the earlier run
	ChangeModified                    // Output moved beyond the threshold
	ChangeUnchanged                   // No significant change
)

// String returns the change type name
func (c ChangeType) String() string {
	switch c {
	case ChangeAdded:
		return "added"
	case ChangeRemoved:
		return "removed"
	case ChangeModified:
		return "modified"
	case ChangeUnchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// MarshalText encodes the change type by name
func (c ChangeType) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a change type name
func (c *ChangeType) UnmarshalText(text []byte) error {
	for _, t := range []ChangeType{ChangeAdded, ChangeRemoved, ChangeModified, ChangeUnchanged} {
		if t.String() == string(text) {
			*c = t
			return nil
		}
	}
	return fmt.Errorf("unknown change type %q", text)
}

// Differ computes diffs between priced batches
type Differ struct {
	// Output is the variable compared item by item
	Output string

	// Relative change below which an item counts as unchanged
	// (e.g., 0.01 = 1%). Zero means any change counts.
	ChangeThreshold float64
}

// NewDiffer creates a new differ
func NewDiffer(output string, changeThreshold float64) *Differ {
	if output == "" {
		output = DefaultOutput
	}
	if changeThreshold < 0 {
		changeThreshold = 0
	}
	return &Differ{Output: output, ChangeThreshold: changeThreshold}
}

// Diff computes the diff between before and after. Items are matched by SKU.
func (d *Differ) Diff(before, after *engine.Result) *Result {
	beforeItems, beforeKeys := indexItems(before.Items)
	afterItems, afterKeys := indexItems(after.Items)

	result := &Result{
		Output:    d.Output,
		Before:    d.side(before),
		After:     d.side(after),
		Added:     []*ItemDiff{},
		Removed:   []*ItemDiff{},
		Changed:   []*ItemDiff{},
		Unchanged: []*ItemDiff{},
	}

	result.TotalDelta = result.After.Total.Sub(result.Before.Total)
	result.DeltaPercent = percent(result.Before.Total, result.TotalDelta)

	for _, sku := range afterKeys {
		afterItem := afterItems[sku]
		beforeItem, existed := beforeItems[sku]
		if !existed {
			diff := d.itemDiff(sku, nil, afterItem)
			diff.ChangeType = ChangeAdded
			result.Added = append(result.Added, diff)
			result.AddedCount++
			continue
		}

		diff := d.itemDiff(sku, beforeItem, afterItem)
		if diff.ChangeType == ChangeModified {
			result.Changed = append(result.Changed, diff)
			result.ChangedCount++
		} else {
			result.Unchanged = append(result.Unchanged, diff)
			result.UnchangedCount++
		}
	}

	for _, sku := range beforeKeys {
		if _, exists := afterItems[sku]; !exists {
			diff := d.itemDiff(sku, beforeItems[sku], nil)
			diff.ChangeType = ChangeRemoved
			result.Removed = append(result.Removed, diff)
			result.RemovedCount++
		}
	}

	sortDiffs(result.Added)
	sortDiffs(result.Removed)
	sortDiffs(result.Changed)
	sortDiffs(result.Unchanged)

	return result
}

func (d *Differ) side(r *engine.Result) Side {
	total := decimal.Zero
	for i := range r.Items {
		if v := d.value(&r.Items[i]); v != nil {
			total = total.Add(*v)
		}
	}
	return Side{
		RulesetName:    r.RulesetName,
		RulesetVersion: r.RulesetVersion,
		Items:          len(r.Items),
		Total:          total,
	}
}

func (d *Differ) value(item *engine.PriceItem) *decimal.Decimal {
	if item == nil {
		return nil
	}
	v, ok := item.Number(d.Output)
	if !ok {
		return nil
	}
	dec := decimal.NewFromFloat(v)
	return &dec
}

func (d *Differ) itemDiff(sku string, before, after *engine.PriceItem) *ItemDiff {
	diff := &ItemDiff{
		SKU:    sku,
		Before: d.value(before),
		After:  d.value(after),
	}

	b, a := decimal.Zero, decimal.Zero
	if diff.Before != nil {
		b = *diff.Before
	}
	if diff.After != nil {
		a = *diff.After
	}
	diff.Delta = a.Sub(b)
	diff.DeltaPercent = percent(b, diff.Delta)

	if before != nil && after != nil {
		diff.ChangedOutputs = changedOutputs(before, after)
	}

	switch {
	case diff.Before == nil && diff.After == nil:
		diff.ChangeType = ChangeUnchanged
	case diff.Before == nil || diff.After == nil:
		diff.ChangeType = ChangeModified
	case diff.Delta.IsZero():
		diff.ChangeType = ChangeUnchanged
	case !b.IsZero() && diff.Delta.Abs().Div(b.Abs()).InexactFloat64() <= d.ChangeThreshold:
		diff.ChangeType = ChangeUnchanged
	default:
		diff.ChangeType = ChangeModified
	}
	return diff
}

// changedOutputs lists the outputs of either item whose values differ
func changedOutputs(before, after *engine.PriceItem) []string {
	var names []string
	seen := make(map[string]bool)
	for _, env := range []*engine.PriceItem{before, after} {
		if env.Outputs == nil {
			continue
		}
		for _, k := range env.Outputs.Keys() {
			if seen[k] {
				continue
			}
			seen[k] = true

			bv, bok := before.Outputs.Get(k)
			av, aok := after.Outputs.Get(k)
			if bok != aok || !bv.Equals(av) {
				names = append(names, k)
			}
		}
	}
	return names
}

// indexItems keys items by SKU. Items without one, and repeated SKUs, are
// keyed by their position.
func indexItems(items []engine.PriceItem) (map[string]*engine.PriceItem, []string) {
	index := make(map[string]*engine.PriceItem, len(items))
	keys := make([]string, 0, len(items))
	for i := range items {
		key := items[i].Input(engine.FieldSKU)
		if _, dup := index[key]; key == "" || dup {
			key = fmt.Sprintf("%s#%d", key, i)
		}
		index[key] = &items[i]
		keys = append(keys, key)
	}
	return index, keys
}

func percent(base, delta decimal.Decimal) float64 {
	if base.IsZero() {
		if delta.IsZero() {
			return 0
		}
		return 100
	}
	return delta.Div(base.Abs()).Mul(decimal.NewFromInt(100)).InexactFloat64()
}

func sortDiffs(diffs []*ItemDiff) {
	sort.Slice(diffs, func(i, j int) bool {
		return diffs[i].SKU < diffs[j].SKU
	})
}

// Summary provides a human-readable summary
func (r *Result) Summary() string {
	var b strings.Builder

	switch {
	case r.TotalDelta.IsZero():
		fmt.Fprintf(&b, "No change in total %s\n", r.Output)
	case r.TotalDelta.IsNegative():
		fmt.Fprintf(&b, "Total %s decreased by %s (%.2f%%)\n", r.Output, r.TotalDelta.Abs().StringFixed(2), r.DeltaPercent)
	default:
		fmt.Fprintf(&b, "Total %s increased by %s (+%.2f%%)\n", r.Output, r.TotalDelta.StringFixed(2), r.DeltaPercent)
	}

	if r.AddedCount > 0 {
		fmt.Fprintf(&b, "  + %d items added\n", r.AddedCount)
	}
	if r.RemovedCount > 0 {
		fmt.Fprintf(&b, "  - %d items removed\n", r.RemovedCount)
	}
	if r.ChangedCount > 0 {
		fmt.Fprintf(&b, "  ~ %d items changed\n", r.ChangedCount)
	}

	return b.String()
}

// TopChanges returns the items with the largest absolute delta
func (r *Result) TopChanges(n int) []*ItemDiff {
	all := make([]*ItemDiff, 0, r.AddedCount+r.RemovedCount+r.ChangedCount)
	all = append(all, r.Added...)
	all = append(all, r.Removed...)
	all = append(all, r.Changed...)

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Delta.Abs().GreaterThan(all[j].Delta.Abs())
	})

	if n > len(all) {
		n = len(all)
	}
	return all[:n]
}
