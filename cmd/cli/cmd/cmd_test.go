package cmd

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"battery-pricing/adapters/storage"
	"battery-pricing/api"
)

const testRuleset = `name: baterias
version: "1"
steps:
  - var: K
    expr: base_price * 0.47
  - var: precio_publico
    expr: rounding(K * (1 + IVA), 'ceil50')
  - var: markup
    expr: (K - cost) / cost
overrides:
  - when: {linea: Pesada}
    set: {IVA: 0.105}
`

const testItems = `[
  {"sku": "M-12X", "marca": "Moura", "linea": "Pesada", "base_price": 15000, "cost": 8000}
]`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// execute runs the root command with args and returns stdout
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	// flag values outlive a single Execute
	cfgFile, verbose = "", false
	outputFile, persist, workers = "", false, 0
	listMethods = false
	runsRuleset, runsVersion, runsLimit, runsFormat = "", "", 20, "table"
	diffOutput, diffThreshold, diffTop = "precio_publico", 0, 10

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "battery-pricing version "+Version) {
		t.Errorf("version output = %q", out)
	}
}

func TestRounding(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"rounding", "8530.5", "ceil50"}, "8550"},
		{[]string{"rounding", "1225", "round50"}, "1200"},
		{[]string{"rounding", "1275", "round50"}, "1300"},
		{[]string{"rounding", "2.5", "no-such-method"}, "2"},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args[1:], " "), func(t *testing.T) {
			out, err := execute(t, tt.args...)
			if err != nil {
				t.Fatal(err)
			}
			if strings.TrimSpace(out) != tt.want {
				t.Errorf("got %q, want %q", strings.TrimSpace(out), tt.want)
			}
		})
	}

	if _, err := execute(t, "rounding", "abc", "ceil50"); err == nil {
		t.Error("expected error for non-numeric value")
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.yaml", testRuleset)

	out, err := execute(t, "validate", good)
	if err != nil {
		t.Fatalf("validate good ruleset: %v\n%s", err, out)
	}
	if !strings.Contains(out, "baterias@1") || !strings.Contains(out, "1 checked, 0 invalid") {
		t.Errorf("unexpected output:\n%s", out)
	}

	writeFile(t, dir, "bad.json", `{"name": "x", "version": "1", "steps": [{"var": "a", "value": 1, "from": "b"}]}`)
	out, err = execute(t, "validate", dir)
	if err == nil {
		t.Fatal("expected error for a directory with an invalid ruleset")
	}
	if !strings.Contains(out, "found from, value") || !strings.Contains(out, "2 checked, 1 invalid") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestSimulateCSV(t *testing.T) {
	dir := t.TempDir()
	rs := writeFile(t, dir, "baterias.yaml", testRuleset)
	items := writeFile(t, dir, "items.json", testItems)
	outPath := filepath.Join(dir, "precios.csv")

	if _, err := execute(t, "simulate", "-r", rs, "-i", items, "--format", "csv", "--out", outPath); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(outPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected header and one row, got %d records", len(records))
	}
	header := strings.Join(records[0], ",")
	if header != "sku,marca,linea,base_price,cost,precio_publico,markup,error,warnings" {
		t.Errorf("header = %s", header)
	}
	if records[1][5] != "7800" {
		t.Errorf("precio_publico = %s", records[1][5])
	}
}

func TestSimulateTableToStdout(t *testing.T) {
	dir := t.TempDir()
	rs := writeFile(t, dir, "baterias.yaml", testRuleset)
	items := writeFile(t, dir, "items.json", `{"items": `+testItems+`}`)

	out, err := execute(t, "simulate", "-r", rs, "-i", items, "--format", "table", "--out=")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"M-12X", "7800.00", "baterias @ 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSimulateErrors(t *testing.T) {
	dir := t.TempDir()
	rs := writeFile(t, dir, "baterias.yaml", testRuleset)
	items := writeFile(t, dir, "items.json", testItems)
	empty := writeFile(t, dir, "empty.json", `[]`)
	broken := writeFile(t, dir, "broken.json", `[{"sku": `)
	invalid := writeFile(t, dir, "invalid.json", `{"name": "x", "version": "1", "steps": []}`)

	tests := []struct {
		name string
		args []string
	}{
		{"unknown format", []string{"simulate", "-r", rs, "-i", items, "--format", "xml", "--out="}},
		{"empty batch", []string{"simulate", "-r", rs, "-i", empty, "--format", "json", "--out="}},
		{"broken items", []string{"simulate", "-r", rs, "-i", broken, "--format", "json", "--out="}},
		{"invalid ruleset", []string{"simulate", "-r", invalid, "-i", items, "--format", "json", "--out="}},
		{"missing ruleset", []string{"simulate", "-r", filepath.Join(dir, "nope.yaml"), "-i", items, "--format", "json", "--out="}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := execute(t, tt.args...); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestSimulatePersistAndListRuns(t *testing.T) {
	dir := t.TempDir()
	rs := writeFile(t, dir, "baterias.yaml", testRuleset)
	items := writeFile(t, dir, "items.json", testItems)
	cfgPath := writeFile(t, dir, "config.json",
		`{"storage": {"backend": "sqlite", "path": "`+filepath.ToSlash(filepath.Join(dir, "runs.db"))+`"}}`)

	if _, err := execute(t, "--config", cfgPath, "simulate", "-r", rs, "-i", items, "--format", "json", "--out", filepath.Join(dir, "out.json"), "--persist"); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "--config", cfgPath, "runs", "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "baterias") {
		t.Errorf("runs list output:\n%s", out)
	}
}

func TestRunsDiff(t *testing.T) {
	dir := t.TempDir()
	rs := writeFile(t, dir, "baterias.yaml", testRuleset)
	cheaper := writeFile(t, dir, "cheaper.yaml", strings.Replace(testRuleset, "0.47", "0.5", 1))
	items := writeFile(t, dir, "items.json", testItems)
	cfgPath := writeFile(t, dir, "config.json",
		`{"storage": {"backend": "sqlite", "path": "`+filepath.ToSlash(filepath.Join(dir, "runs.db"))+`"}}`)

	for _, path := range []string{rs, cheaper} {
		if _, err := execute(t, "--config", cfgPath, "simulate", "-r", path, "-i", items, "--format", "json", "--out", filepath.Join(dir, "out.json"), "--persist"); err != nil {
			t.Fatal(err)
		}
	}

	store, err := openRunStore()
	if err != nil {
		t.Fatal(err)
	}
	runs, err := store.List(context.Background(), nil)
	store.Close()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	base, head := runs[1].ID, runs[0].ID

	// 15000 * 0.5 * 1.105 = 8287.5 -> 8300
	out, err := execute(t, "--config", cfgPath, "runs", "diff", base, head)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"by 500.00", "~ 1 items changed", "M-12X", "7800.00", "8300.00"} {
		if !strings.Contains(out, want) {
			t.Errorf("diff output missing %q:\n%s", want, out)
		}
	}

	if _, err := execute(t, "--config", cfgPath, "runs", "diff", base, "missing"); err == nil {
		t.Error("expected an error for a missing run")
	}
}

func TestPersistedInputHashMatchesAPI(t *testing.T) {
	const rulesetJSON = `{"name": "baterias", "version": "1", "steps": [
  {"var": "K", "expr": "base_price * 0.47"},
  {"var": "precio_publico", "expr": "rounding(K * (1 + IVA), 'ceil50')"}
], "overrides": [{"when": {"linea": "Pesada"}, "set": {"IVA": 0.105}}]}`

	dir := t.TempDir()
	rs := writeFile(t, dir, "baterias.json", rulesetJSON)
	items := writeFile(t, dir, "items.json", testItems)
	cfgPath := writeFile(t, dir, "config.json",
		`{"storage": {"backend": "sqlite", "path": "`+filepath.ToSlash(filepath.Join(dir, "runs.db"))+`"}}`)

	if _, err := execute(t, "--config", cfgPath, "simulate", "-r", rs, "-i", items, "--format", "json", "--out", filepath.Join(dir, "out.json"), "--persist"); err != nil {
		t.Fatal(err)
	}
	store, err := openRunStore()
	if err != nil {
		t.Fatal(err)
	}
	runs, err := store.List(context.Background(), nil)
	store.Close()
	if err != nil || len(runs) != 1 {
		t.Fatalf("List() = %d runs, %v", len(runs), err)
	}

	server := api.NewServer(api.Options{Runs: storage.NewMemoryStore()})
	req := httptest.NewRequest(http.MethodPost, "/simulate",
		strings.NewReader(`{"ruleset": `+rulesetJSON+`, "items": `+testItems+`, "persist": true}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /simulate = %d: %s", rec.Code, rec.Body.String())
	}
	var resp api.SimulateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}

	if runs[0].InputHash == "" || runs[0].InputHash != resp.Metadata.InputHash {
		t.Errorf("CLI hash %q, API hash %q", runs[0].InputHash, resp.Metadata.InputHash)
	}
}
