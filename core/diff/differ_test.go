package diff

import (
	"encoding/json"
	"strings"
	"testing"

	"battery-pricing/core/engine"
	"battery-pricing/core/expression"
)

func priced(sku string, outputs ...interface{}) engine.PriceItem {
	inputs := expression.NewEnvironment()
	inputs.Set(engine.FieldSKU, expression.String(sku))
	out := expression.NewEnvironment()
	for i := 0; i+1 < len(outputs); i += 2 {
		out.Set(outputs[i].(string), expression.FromGo(outputs[i+1]))
	}
	return engine.PriceItem{Inputs: inputs, Outputs: out, Breakdown: out.Clone()}
}

func result(version string, items ...engine.PriceItem) *engine.Result {
	return &engine.Result{RulesetName: "baterias", RulesetVersion: version, Items: items}
}

func TestDiff(t *testing.T) {
	before := result("1",
		priced("A", "precio_publico", 7800.0, "markup", -0.11875),
		priced("B", "precio_publico", 8550.0, "markup", 0.1),
		priced("C", "precio_publico", 1000.0),
	)
	after := result("2",
		priced("A", "precio_publico", 7800.0, "markup", -0.1),
		priced("B", "precio_publico", 9000.0, "markup", 0.2),
		priced("D", "precio_publico", 500.0),
	)

	r := NewDiffer("", 0).Diff(before, after)

	if r.Output != DefaultOutput {
		t.Errorf("Output = %s", r.Output)
	}
	if r.AddedCount != 1 || r.RemovedCount != 1 || r.ChangedCount != 1 || r.UnchangedCount != 1 {
		t.Fatalf("counts = +%d -%d ~%d =%d", r.AddedCount, r.RemovedCount, r.ChangedCount, r.UnchangedCount)
	}
	if r.Added[0].SKU != "D" || r.Removed[0].SKU != "C" || r.Changed[0].SKU != "B" || r.Unchanged[0].SKU != "A" {
		t.Errorf("unexpected classification: %+v", r)
	}

	if got := r.Before.Total.String(); got != "17350" {
		t.Errorf("before total = %s", got)
	}
	if got := r.After.Total.String(); got != "17300" {
		t.Errorf("after total = %s", got)
	}
	if got := r.TotalDelta.String(); got != "-50" {
		t.Errorf("total delta = %s", got)
	}

	b := r.Changed[0]
	if b.Delta.String() != "450" {
		t.Errorf("B delta = %s", b.Delta)
	}
	if strings.Join(b.ChangedOutputs, ",") != "precio_publico,markup" {
		t.Errorf("B changed outputs = %v", b.ChangedOutputs)
	}

	a := r.Unchanged[0]
	if strings.Join(a.ChangedOutputs, ",") != "markup" {
		t.Errorf("A changed outputs = %v", a.ChangedOutputs)
	}

	if c := r.Removed[0]; c.After != nil || c.Delta.String() != "-1000" || c.DeltaPercent != -100 {
		t.Errorf("C = %+v", c)
	}
}

func TestDiffThreshold(t *testing.T) {
	before := result("1", priced("A", "precio_publico", 1000.0))
	after := result("2", priced("A", "precio_publico", 1005.0))

	tests := []struct {
		threshold float64
		want      ChangeType
	}{
		{0, ChangeModified},
		{0.001, ChangeModified},
		{0.005, ChangeUnchanged},
		{0.01, ChangeUnchanged},
	}

	for _, tt := range tests {
		r := NewDiffer("precio_publico", tt.threshold).Diff(before, after)
		var got ChangeType
		switch {
		case r.ChangedCount == 1:
			got = r.Changed[0].ChangeType
		case r.UnchangedCount == 1:
			got = r.Unchanged[0].ChangeType
		}
		if got != tt.want {
			t.Errorf("threshold %v: got %v, want %v", tt.threshold, got, tt.want)
		}
	}
}

func TestDiffMissingOutput(t *testing.T) {
	failed := priced("A")
	failed.Error = "boom"

	r := NewDiffer("", 0).Diff(result("1", failed), result("2", priced("A", "precio_publico", 100.0)))
	if r.ChangedCount != 1 {
		t.Fatalf("expected a change when an output appears, got %+v", r)
	}
	if d := r.Changed[0]; d.Before != nil || d.After == nil || d.DeltaPercent != 100 {
		t.Errorf("diff = %+v", d)
	}
}

func TestDiffDuplicateAndMissingSKU(t *testing.T) {
	items := []engine.PriceItem{
		priced("A", "precio_publico", 1.0),
		priced("A", "precio_publico", 2.0),
		priced("", "precio_publico", 3.0),
	}
	r := NewDiffer("", 0).Diff(result("1", items...), result("2", items...))
	if r.UnchangedCount != 3 {
		t.Fatalf("expected 3 unchanged items, got %+v", r)
	}
	got := []string{r.Unchanged[0].SKU, r.Unchanged[1].SKU, r.Unchanged[2].SKU}
	if strings.Join(got, ",") != "#2,A,A#1" {
		t.Errorf("keys = %v", got)
	}
}

func TestSummaryAndTopChanges(t *testing.T) {
	before := result("1",
		priced("A", "precio_publico", 100.0),
		priced("B", "precio_publico", 100.0),
	)
	after := result("2",
		priced("A", "precio_publico", 90.0),
		priced("B", "precio_publico", 300.0),
		priced("C", "precio_publico", 50.0),
	)
	r := NewDiffer("", 0).Diff(before, after)

	summary := r.Summary()
	for _, want := range []string{"increased by 240.00", "+ 1 items added", "~ 2 items changed"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}

	top := r.TopChanges(2)
	if len(top) != 2 || top[0].SKU != "B" || top[1].SKU != "C" {
		t.Errorf("top changes = %v, %v", top[0].SKU, top[1].SKU)
	}
	if len(r.TopChanges(10)) != 3 {
		t.Error("TopChanges should cap at the number of changes")
	}
}

func TestChangeTypeJSON(t *testing.T) {
	data, err := json.Marshal(&ItemDiff{SKU: "A", ChangeType: ChangeRemoved})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"change":"removed"`) {
		t.Errorf("json = %s", data)
	}

	var back ItemDiff
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.ChangeType != ChangeRemoved {
		t.Errorf("round trip = %v", back.ChangeType)
	}
}
