package api

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"battery-pricing/adapters/storage"
	"battery-pricing/core/output"
	"battery-pricing/core/ruleset"
	apperrors "battery-pricing/internal/errors"
	"battery-pricing/internal/logging"
)

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"status":   "healthy",
		"version":  s.version,
		"rulesets": len(s.rulesets.List()),
		"time":     time.Now().UTC().Format(time.RFC3339),
	}, http.StatusOK)
}

// handleVersion handles GET /version
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{
		"version": s.version,
		"engine":  "battery-pricing",
	}, http.StatusOK)
}

// handleValidateRuleset handles POST /rulesets/validate. Parse failures are
// reported as validation problems, not request errors.
func (s *Server) handleValidateRuleset(w http.ResponseWriter, r *http.Request) {
	rs, err := s.readRuleset(w, r)
	if err != nil {
		if apperrors.IsType(err, apperrors.TypeParsing) {
			s.writeJSON(w, ValidateResponse{Valid: false, Errors: []string{errorMessage(err)}}, http.StatusOK)
			return
		}
		s.writeError(w, err)
		return
	}

	problems := ruleset.Validate(rs)
	if problems == nil {
		problems = []string{}
	}
	s.writeJSON(w, ValidateResponse{Valid: len(problems) == 0, Errors: problems}, http.StatusOK)
}

// handlePutRuleset handles POST /rulesets
func (s *Server) handlePutRuleset(w http.ResponseWriter, r *http.Request) {
	rs, err := s.readRuleset(w, r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	entry, err := s.rulesets.Put(rs, "api")
	if err != nil {
		s.writeError(w, err)
		return
	}

	logging.Info("Ruleset stored", logging.Ruleset(rs.Name, rs.Version), zap.String("id", entry.ID))
	s.writeJSON(w, rulesetInfo(entry), http.StatusCreated)
}

// handleListRulesets handles GET /rulesets
func (s *Server) handleListRulesets(w http.ResponseWriter, r *http.Request) {
	entries := s.rulesets.List()
	infos := make([]RulesetInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, rulesetInfo(e))
	}
	s.writeJSON(w, map[string]interface{}{
		"rulesets": infos,
		"count":    len(infos),
	}, http.StatusOK)
}

// handleGetRuleset handles GET /rulesets/{name}?version=
func (s *Server) handleGetRuleset(w http.ResponseWriter, r *http.Request) {
	entry, err := s.lookupRuleset(chi.URLParam(r, "name"), r.URL.Query().Get("version"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, entry, http.StatusOK)
}

// handleSimulate handles POST /simulate
func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req SimulateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	entry := newAuditEntry(r, len(req.Items))
	resp, err := s.simulate(r, &req, start)
	if resp != nil {
		entry.RulesetName = resp.RulesetName
		entry.RulesetVersion = resp.RulesetVersion
		entry.RunID = resp.RunID
		entry.InputHash = resp.Metadata.InputHash
	}
	if err != nil {
		entry.MarkFailed(err)
	}
	entry.DurationMs = time.Since(start).Milliseconds()
	s.audit(entry)

	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, resp, http.StatusOK)
}

func (s *Server) simulate(r *http.Request, req *SimulateRequest, start time.Time) (*SimulateResponse, error) {
	ctx := r.Context()

	if req.Persist && s.runs == nil {
		return nil, apperrors.New(apperrors.TypeInput, "run storage is not configured")
	}

	rs, err := s.resolveRuleset(req)
	if err != nil {
		return nil, err
	}

	result, err := s.sim.Simulate(ctx, rs, req.Items, s.gates...)
	if err != nil {
		return nil, err
	}

	resp := &SimulateResponse{
		RulesetName:    result.RulesetName,
		RulesetVersion: result.RulesetVersion,
		Items:          result.Items,
		Summary:        result.Summary,
		Metadata: &ResponseMetadata{
			InputHash:     storage.InputHash(rs, req.Items),
			EngineVersion: s.version,
		},
	}

	if req.Persist {
		run := storage.NewRun(result, resp.Metadata.InputHash)
		if err := s.runs.Save(ctx, run); err != nil {
			return resp, err
		}
		resp.RunID = run.ID
	}

	resp.Metadata.DurationMs = time.Since(start).Milliseconds()
	return resp, nil
}

// handleListRuns handles GET /runs?ruleset=&version=&limit=&offset=
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if !s.requireRuns(w) {
		return
	}

	q := r.URL.Query()
	filter := &storage.ListFilter{
		RulesetName:    q.Get("ruleset"),
		RulesetVersion: q.Get("version"),
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		s.writeError(w, err)
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		s.writeError(w, err)
		return
	}

	runs, err := s.runs.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if runs == nil {
		runs = []*storage.Run{}
	}
	s.writeJSON(w, RunList{Runs: runs, Count: len(runs)}, http.StatusOK)
}

// handleGetRun handles GET /runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if !s.requireRuns(w) {
		return
	}
	run, err := s.runs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, run, http.StatusOK)
}

// handleDeleteRun handles DELETE /runs/{id}
func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if !s.requireRuns(w) {
		return
	}
	if err := s.runs.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleExportRun handles GET /runs/{id}/export?format=csv|json|table
func (s *Server) handleExportRun(w http.ResponseWriter, r *http.Request) {
	if !s.requireRuns(w) {
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = string(output.FormatCSV)
	}
	formatter, err := output.For(output.Format(format))
	if err != nil {
		s.writeError(w, apperrors.Wrap(apperrors.TypeInput, "invalid export format", err))
		return
	}

	id := chi.URLParam(r, "id")
	run, err := s.runs.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := formatter.Render(&buf, run.Result()); err != nil {
		s.writeError(w, apperrors.Internal("failed to render run", err))
		return
	}

	ext := string(formatter.Format())
	if formatter.Format() == output.FormatTable {
		ext = "txt"
	}
	w.Header().Set("Content-Type", formatter.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "run-"+id+"."+ext))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// readRuleset decodes a ruleset body. The format comes from the format
// query parameter, then the Content-Type, then defaults to JSON.
func (s *Server) readRuleset(w http.ResponseWriter, r *http.Request) (*ruleset.Ruleset, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.TypeInput, "failed to read body", err)
	}
	return ruleset.Decode(data, requestFormat(r))
}

func requestFormat(r *http.Request) ruleset.Format {
	if f := strings.ToLower(r.URL.Query().Get("format")); f != "" {
		if f == "yml" {
			return ruleset.FormatYAML
		}
		return ruleset.Format(f)
	}

	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mt {
	case "application/yaml", "application/x-yaml", "text/yaml":
		return ruleset.FormatYAML
	case "application/hcl", "text/hcl":
		return ruleset.FormatHCL
	default:
		return ruleset.FormatJSON
	}
}

// resolveRuleset returns the inline ruleset or the stored one referenced
func (s *Server) resolveRuleset(req *SimulateRequest) (*ruleset.Ruleset, error) {
	switch {
	case req.Ruleset != nil && req.RulesetRef != nil:
		return nil, apperrors.New(apperrors.TypeInput, "specify either ruleset or ruleset_ref, not both")
	case req.Ruleset != nil:
		if err := ruleset.Check(req.Ruleset); err != nil {
			return nil, err
		}
		return req.Ruleset, nil
	case req.RulesetRef != nil:
		entry, err := s.lookupRuleset(req.RulesetRef.Name, req.RulesetRef.Version)
		if err != nil {
			return nil, err
		}
		return entry.Ruleset, nil
	default:
		return nil, apperrors.New(apperrors.TypeInput, "ruleset or ruleset_ref is required")
	}
}

func (s *Server) lookupRuleset(name, version string) (*ruleset.Entry, error) {
	if name == "" {
		return nil, apperrors.New(apperrors.TypeInput, "ruleset name is required")
	}
	if version == "" {
		return s.rulesets.Latest(name)
	}
	return s.rulesets.Get(name, version)
}

func (s *Server) requireRuns(w http.ResponseWriter) bool {
	if s.runs == nil {
		s.writeError(w, apperrors.NotFound("run storage", "disabled"))
		return false
	}
	return true
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperrors.Newf(apperrors.TypeInput, "invalid integer parameter %q", v)
	}
	return n, nil
}
