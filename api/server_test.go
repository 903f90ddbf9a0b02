package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"battery-pricing/adapters/storage"
	"battery-pricing/core/engine"
	"battery-pricing/core/ruleset"
	"battery-pricing/internal/metrics"
)

const bateriasJSON = `{
  "name": "baterias",
  "version": "2024.1",
  "globals": {"desc_contado": 0.06},
  "steps": [
    {"var": "precio_lista", "from": "base_price"},
    {"var": "desc1", "value": 0.50},
    {"var": "neto1", "expr": "precio_lista * (1 - desc1)"},
    {"var": "K", "expr": "neto1 * (1 - desc_contado)"},
    {"var": "markup", "expr": "(K - cost) / cost"},
    {"var": "precio_publico", "expr": "rounding(K * (1 + IVA), 'ceil50')"},
    {"var": "rentabilidad", "expr": "(precio_publico - cost) / precio_publico"}
  ],
  "overrides": [
    {"when": {"linea": "Pesada"}, "set": {"IVA": 0.105}},
    {"when": {"linea": "Liviana"}, "set": {"IVA": 0.21}}
  ]
}`

const bateriasYAML = `name: baterias
version: "2025.1"
steps:
  - var: precio_publico
    expr: base_price * 2
`

const itemsJSON = `[
  {"sku": "M-12X", "marca": "Moura", "linea": "Pesada", "base_price": 15000, "cost": 8000},
  {"sku": "W-70", "marca": "Willard", "linea": "Liviana", "base_price": 15000, "cost": 8000}
]`

type testEnv struct {
	server  *Server
	metrics *metrics.Collector
}

func newTestServer(t *testing.T, withRuns bool) *testEnv {
	t.Helper()

	collector := metrics.NewCollector("")
	opts := Options{
		Version:   "test",
		Rulesets:  ruleset.NewInMemoryStore(),
		Simulator: engine.NewSimulator(engine.Options{Workers: 2, Observer: collector}),
		Metrics:   collector,
	}
	if withRuns {
		opts.Runs = storage.NewMemoryStore()
	}
	return &testEnv{server: NewServer(opts), metrics: collector}
}

func (e *testEnv) do(t *testing.T, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
}

type errorResponse struct {
	Error ErrorBody `json:"error"`
}

func TestHealthAndVersion(t *testing.T) {
	env := newTestServer(t, false)

	rec := env.do(t, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", rec.Code)
	}
	var health map[string]interface{}
	decodeBody(t, rec, &health)
	if health["status"] != "healthy" || health["version"] != "test" {
		t.Errorf("health = %v", health)
	}

	rec = env.do(t, http.MethodGet, "/version", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "battery-pricing") {
		t.Errorf("GET /version = %d %s", rec.Code, rec.Body.String())
	}
}

func TestValidateRuleset(t *testing.T) {
	env := newTestServer(t, false)

	tests := []struct {
		name       string
		body       string
		wantValid  bool
		wantErrors int
	}{
		{"valid", bateriasJSON, true, 0},
		{
			"two sources",
			`{"name": "x", "version": "1", "steps": [{"var": "a", "value": 1, "expr": "2"}]}`,
			false, 1,
		},
		{"missing fields", `{"steps": []}`, false, 3},
		{"malformed", `{"name": `, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/rulesets/validate", "application/json", tt.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
			}
			var resp ValidateResponse
			decodeBody(t, rec, &resp)
			if resp.Valid != tt.wantValid {
				t.Errorf("valid = %v, want %v (%v)", resp.Valid, tt.wantValid, resp.Errors)
			}
			if len(resp.Errors) != tt.wantErrors {
				t.Errorf("errors = %v, want %d", resp.Errors, tt.wantErrors)
			}
		})
	}
}

func TestRulesetEndpoints(t *testing.T) {
	env := newTestServer(t, false)

	rec := env.do(t, http.MethodPost, "/rulesets", "application/json", bateriasJSON)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /rulesets = %d: %s", rec.Code, rec.Body.String())
	}
	var info RulesetInfo
	decodeBody(t, rec, &info)
	if info.Name != "baterias" || info.Version != "2024.1" || info.Steps != 7 || info.Overrides != 2 {
		t.Errorf("info = %+v", info)
	}

	rec = env.do(t, http.MethodPost, "/rulesets", "application/yaml", bateriasYAML)
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /rulesets (yaml) = %d: %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/rulesets", "application/json", `{"name": "bad", "version": "1", "steps": []}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("POST invalid ruleset = %d", rec.Code)
	}
	var errResp errorResponse
	decodeBody(t, rec, &errResp)
	if errResp.Error.Code != "VALIDATION_ERROR" || len(errResp.Error.Details) == 0 {
		t.Errorf("error = %+v", errResp.Error)
	}

	rec = env.do(t, http.MethodGet, "/rulesets", "", "")
	var list struct {
		Rulesets []RulesetInfo `json:"rulesets"`
		Count    int           `json:"count"`
	}
	decodeBody(t, rec, &list)
	if list.Count != 2 {
		t.Errorf("GET /rulesets count = %d", list.Count)
	}

	tests := []struct {
		path        string
		wantStatus  int
		wantVersion string
	}{
		{"/rulesets/baterias", http.StatusOK, "2025.1"},
		{"/rulesets/baterias?version=2024.1", http.StatusOK, "2024.1"},
		{"/rulesets/baterias?version=1999", http.StatusNotFound, ""},
		{"/rulesets/motos", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.path, "", "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantVersion == "" {
				return
			}
			var entry ruleset.Entry
			decodeBody(t, rec, &entry)
			if entry.Ruleset.Version != tt.wantVersion {
				t.Errorf("version = %s, want %s", entry.Ruleset.Version, tt.wantVersion)
			}
		})
	}
}

func TestSimulateInline(t *testing.T) {
	env := newTestServer(t, true)

	body := `{"ruleset": ` + bateriasJSON + `, "items": ` + itemsJSON + `, "persist": true}`
	rec := env.do(t, http.MethodPost, "/simulate", "application/json", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /simulate = %d: %s", rec.Code, rec.Body.String())
	}

	var resp SimulateResponse
	decodeBody(t, rec, &resp)
	if resp.RunID == "" {
		t.Error("expected run_id when persist is set")
	}
	if resp.Metadata == nil || len(resp.Metadata.InputHash) != 64 {
		t.Errorf("metadata = %+v", resp.Metadata)
	}
	if len(resp.Items) != 2 || resp.Summary.TotalItems != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}

	want := []float64{7800, 8550}
	for i, w := range want {
		got, ok := resp.Items[i].Number("precio_publico")
		if !ok || got != w {
			t.Errorf("item %d precio_publico = %v, want %v", i, got, w)
		}
	}

	rec = env.do(t, http.MethodGet, "/runs/"+resp.RunID, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /runs/{id} = %d", rec.Code)
	}
	var run storage.Run
	decodeBody(t, rec, &run)
	if run.RulesetName != "baterias" || len(run.Items) != 2 || run.InputHash != resp.Metadata.InputHash {
		t.Errorf("run = %+v", run)
	}

	rec = env.do(t, http.MethodGet, "/runs", "", "")
	var list RunList
	decodeBody(t, rec, &list)
	if list.Count != 1 || list.Runs[0].ID != resp.RunID {
		t.Errorf("GET /runs = %+v", list)
	}

	rec = env.do(t, http.MethodGet, "/runs/"+resp.RunID+"/export?format=csv", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("export = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %s", ct)
	}
	if !strings.HasPrefix(rec.Body.String(), "sku,marca,linea,base_price,cost,") {
		t.Errorf("csv = %s", rec.Body.String())
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "run-"+resp.RunID+".csv") {
		t.Errorf("Content-Disposition = %s", rec.Header().Get("Content-Disposition"))
	}

	rec = env.do(t, http.MethodGet, "/runs/"+resp.RunID+"/export?format=xml", "", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("export xml = %d", rec.Code)
	}

	rec = env.do(t, http.MethodDelete, "/runs/"+resp.RunID, "", "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("DELETE /runs/{id} = %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/runs/"+resp.RunID, "", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("GET deleted run = %d", rec.Code)
	}
}

func TestSimulateByReference(t *testing.T) {
	env := newTestServer(t, false)

	if rec := env.do(t, http.MethodPost, "/rulesets", "application/json", bateriasJSON); rec.Code != http.StatusCreated {
		t.Fatalf("POST /rulesets = %d", rec.Code)
	}

	body := `{"ruleset_ref": {"name": "baterias"}, "items": ` + itemsJSON + `}`
	rec := env.do(t, http.MethodPost, "/simulate", "application/json", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /simulate = %d: %s", rec.Code, rec.Body.String())
	}
	var resp SimulateResponse
	decodeBody(t, rec, &resp)
	if resp.RunID != "" {
		t.Errorf("run_id set without persist: %s", resp.RunID)
	}
	if resp.RulesetVersion != "2024.1" {
		t.Errorf("ruleset_version = %s", resp.RulesetVersion)
	}
}

func TestSimulateErrors(t *testing.T) {
	env := newTestServer(t, false)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"malformed body", `{"items": [`, http.StatusBadRequest, "INPUT_ERROR"},
		{"no ruleset", `{"items": ` + itemsJSON + `}`, http.StatusBadRequest, "INPUT_ERROR"},
		{
			"both ruleset and ref",
			`{"ruleset": ` + bateriasJSON + `, "ruleset_ref": {"name": "baterias"}, "items": ` + itemsJSON + `}`,
			http.StatusBadRequest, "INPUT_ERROR",
		},
		{"empty batch", `{"ruleset": ` + bateriasJSON + `, "items": []}`, http.StatusBadRequest, "BATCH_ERROR"},
		{
			"invalid ruleset",
			`{"ruleset": {"name": "x", "version": "1", "steps": [{"var": "a"}]}, "items": ` + itemsJSON + `}`,
			http.StatusBadRequest, "VALIDATION_ERROR",
		},
		{"unknown reference", `{"ruleset_ref": {"name": "motos"}, "items": ` + itemsJSON + `}`, http.StatusNotFound, "NOT_FOUND"},
		{"persist without storage", `{"ruleset": ` + bateriasJSON + `, "items": ` + itemsJSON + `, "persist": true}`, http.StatusBadRequest, "INPUT_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/simulate", "application/json", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			var resp errorResponse
			decodeBody(t, rec, &resp)
			if resp.Error.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", resp.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestItemErrorsStayInResponse(t *testing.T) {
	env := newTestServer(t, false)

	rs := `{"name": "x", "version": "1", "steps": [{"var": "r", "expr": "cost / 0"}, {"var": "precio_publico", "expr": "base_price"}]}`
	body := `{"ruleset": ` + rs + `, "items": ` + itemsJSON + `}`
	rec := env.do(t, http.MethodPost, "/simulate", "application/json", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp SimulateResponse
	decodeBody(t, rec, &resp)
	for i, item := range resp.Items {
		if len(item.Warnings) == 0 {
			t.Errorf("item %d: expected a warning for division by zero", i)
		}
		if v, _ := item.Number("precio_publico"); v != 15000 {
			t.Errorf("item %d precio_publico = %v", i, v)
		}
	}
	if resp.Summary.ItemsConAdvertencias != 2 {
		t.Errorf("items_con_advertencias = %d", resp.Summary.ItemsConAdvertencias)
	}
}

func TestRunsDisabled(t *testing.T) {
	env := newTestServer(t, false)

	for _, path := range []string{"/runs", "/runs/abc", "/runs/abc/export"} {
		if rec := env.do(t, http.MethodGet, path, "", ""); rec.Code != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, rec.Code)
		}
	}
}

type countingObserver struct {
	items, batches int
}

func (o *countingObserver) ItemEvaluated(string, time.Duration)       { o.items++ }
func (o *countingObserver) ExpressionFailed()                         {}
func (o *countingObserver) BatchCompleted(string, int, time.Duration) { o.batches++ }

func TestPersistWithoutRunStoreSkipsSimulation(t *testing.T) {
	obs := &countingObserver{}
	env := &testEnv{server: NewServer(Options{
		Simulator: engine.NewSimulator(engine.Options{Workers: 1, Observer: obs}),
	})}

	rec := env.do(t, http.MethodPost, "/simulate", "application/json",
		`{"ruleset": `+bateriasJSON+`, "items": `+itemsJSON+`, "persist": true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
	var body errorResponse
	decodeBody(t, rec, &body)
	if body.Error.Code != "INPUT_ERROR" {
		t.Errorf("code = %s", body.Error.Code)
	}
	if obs.items != 0 || obs.batches != 0 {
		t.Errorf("batch was simulated before rejection: %d items, %d batches", obs.items, obs.batches)
	}
}

func TestListRunsBadParams(t *testing.T) {
	env := newTestServer(t, true)

	for _, q := range []string{"limit=abc", "offset=-1"} {
		if rec := env.do(t, http.MethodGet, "/runs?"+q, "", ""); rec.Code != http.StatusBadRequest {
			t.Errorf("GET /runs?%s = %d, want 400", q, rec.Code)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestServer(t, false)

	body := `{"ruleset": ` + bateriasJSON + `, "items": ` + itemsJSON + `}`
	if rec := env.do(t, http.MethodPost, "/simulate", "application/json", body); rec.Code != http.StatusOK {
		t.Fatalf("POST /simulate = %d", rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d", rec.Code)
	}
	out := rec.Body.String()
	for _, want := range []string{
		`battery_pricing_engine_batches_total{ruleset="baterias"} 1`,
		`battery_pricing_http_requests_total{code="200",method="POST",route="/simulate"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics missing %s", want)
		}
	}
}

func TestDiffRuns(t *testing.T) {
	env := newTestServer(t, true)

	simulate := func(rs string) string {
		t.Helper()
		rec := env.do(t, http.MethodPost, "/simulate", "application/json",
			`{"ruleset": `+rs+`, "items": `+itemsJSON+`, "persist": true}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("POST /simulate = %d: %s", rec.Code, rec.Body.String())
		}
		var resp SimulateResponse
		decodeBody(t, rec, &resp)
		return resp.RunID
	}

	doubled := `{"name": "baterias", "version": "2025.1", "steps": [{"var": "precio_publico", "expr": "base_price * 2"}]}`
	base, head := simulate(bateriasJSON), simulate(doubled)

	rec := env.do(t, http.MethodGet, "/runs/"+base+"/diff/"+head, "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET diff = %d: %s", rec.Code, rec.Body.String())
	}
	var resp DiffResponse
	decodeBody(t, rec, &resp)
	if resp.Result == nil || resp.BaseRunID != base || resp.HeadRunID != head {
		t.Fatalf("diff = %+v", resp)
	}
	if resp.ChangedCount != 2 || resp.AddedCount != 0 || resp.RemovedCount != 0 {
		t.Errorf("counts = %+v", resp.Result)
	}
	if got := resp.TotalDelta.String(); got != "43650" {
		t.Errorf("total delta = %s", got)
	}
	if resp.Before.RulesetVersion != "2024.1" || resp.After.RulesetVersion != "2025.1" {
		t.Errorf("sides = %+v / %+v", resp.Before, resp.After)
	}
	if !strings.Contains(resp.Summary, "increased by 43650.00") {
		t.Errorf("summary = %q", resp.Summary)
	}

	tests := []struct {
		name string
		path string
		want int
	}{
		{"self", "/runs/" + base + "/diff/" + base, http.StatusOK},
		{"missing head", "/runs/" + base + "/diff/nope", http.StatusNotFound},
		{"missing base", "/runs/nope/diff/" + head, http.StatusNotFound},
		{"bad threshold", "/runs/" + base + "/diff/" + head + "?threshold=abc", http.StatusBadRequest},
		{"negative threshold", "/runs/" + base + "/diff/" + head + "?threshold=-1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := env.do(t, http.MethodGet, tt.path, "", ""); rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

type recordingAudit struct {
	entries []AuditEntry
}

func (a *recordingAudit) Log(e AuditEntry) error {
	a.entries = append(a.entries, e)
	return nil
}

func TestSimulateAudit(t *testing.T) {
	audit := &recordingAudit{}
	server := NewServer(Options{Runs: storage.NewMemoryStore(), Audit: audit})
	env := &testEnv{server: server}

	rec := env.do(t, http.MethodPost, "/simulate", "application/json",
		`{"ruleset": `+bateriasJSON+`, "items": `+itemsJSON+`, "persist": true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /simulate = %d: %s", rec.Code, rec.Body.String())
	}
	rec = env.do(t, http.MethodPost, "/simulate", "application/json",
		`{"ruleset_ref": {"name": "missing"}, "items": `+itemsJSON+`}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("POST /simulate unknown ref = %d", rec.Code)
	}

	if len(audit.entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(audit.entries))
	}
	ok, failed := audit.entries[0], audit.entries[1]
	if !ok.Success || ok.RulesetName != "baterias" || ok.RulesetVersion != "2024.1" || ok.Items != 2 {
		t.Errorf("success entry = %+v", ok)
	}
	if ok.RunID == "" || len(ok.InputHash) != 64 || ok.RequestID == "" {
		t.Errorf("success entry missing ids: %+v", ok)
	}
	if failed.Success || failed.Error == "" || failed.RulesetName != "" {
		t.Errorf("failure entry = %+v", failed)
	}
}
