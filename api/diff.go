package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"battery-pricing/core/diff"
	apperrors "battery-pricing/internal/errors"
)

// DiffResponse is the response for GET /runs/{id}/diff/{other}
type DiffResponse struct {
	BaseRunID string `json:"base_run_id"`
	HeadRunID string `json:"head_run_id"`
	Summary   string `json:"summary"`

	*diff.Result
}

// handleDiffRuns handles GET /runs/{id}/diff/{other}?output=&threshold=
// The run in the path is the base; other is compared against it.
func (s *Server) handleDiffRuns(w http.ResponseWriter, r *http.Request) {
	if !s.requireRuns(w) {
		return
	}

	q := r.URL.Query()
	threshold := 0.0
	if v := q.Get("threshold"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil || t < 0 {
			s.writeError(w, apperrors.Newf(apperrors.TypeInput, "invalid threshold %q", v))
			return
		}
		threshold = t
	}

	baseID, headID := chi.URLParam(r, "id"), chi.URLParam(r, "other")
	base, err := s.runs.Get(r.Context(), baseID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	head, err := s.runs.Get(r.Context(), headID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	result := diff.NewDiffer(q.Get("output"), threshold).Diff(base.Result(), head.Result())
	s.writeJSON(w, DiffResponse{
		BaseRunID: baseID,
		HeadRunID: headID,
		Summary:   result.Summary(),
		Result:    result,
	}, http.StatusOK)
}
