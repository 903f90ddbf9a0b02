// Package api - API types for pricing simulation
// These types define the contract of the HTTP endpoints.
package api

import (
	"time"

	"battery-pricing/adapters/storage"
	"battery-pricing/core/engine"
	"battery-pricing/core/ruleset"
)

// SimulateRequest is the input to POST /simulate
type SimulateRequest struct {
	// Ruleset inline (exclusive with RulesetRef)
	Ruleset *ruleset.Ruleset `json:"ruleset,omitempty"`

	// RulesetRef selects a stored ruleset
	RulesetRef *RulesetRef `json:"ruleset_ref,omitempty"`

	// Items to price
	Items []engine.Item `json:"items"`

	// Persist stores the run and returns its ID
	Persist bool `json:"persist,omitempty"`
}

// RulesetRef names a stored ruleset. An empty version means the latest.
type RulesetRef struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// SimulateResponse is the output of POST /simulate
type SimulateResponse struct {
	RunID          string             `json:"run_id,omitempty"`
	RulesetName    string             `json:"ruleset_name"`
	RulesetVersion string             `json:"ruleset_version"`
	Items          []engine.PriceItem `json:"items"`
	Summary        engine.RunSummary  `json:"summary"`
	Metadata       *ResponseMetadata  `json:"metadata"`
}

// ResponseMetadata contains run metadata
type ResponseMetadata struct {
	InputHash     string `json:"input_hash"`
	EngineVersion string `json:"engine_version"`
	DurationMs    int64  `json:"duration_ms"`
}

// ValidateResponse is the output of POST /rulesets/validate
type ValidateResponse struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// RulesetInfo describes a stored ruleset in listings
type RulesetInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Source    string    `json:"source,omitempty"`
	StoredAt  time.Time `json:"stored_at"`
	Steps     int       `json:"steps"`
	Overrides int       `json:"overrides"`
}

func rulesetInfo(e *ruleset.Entry) RulesetInfo {
	s := e.Ruleset.Summarize()
	return RulesetInfo{
		ID:        e.ID,
		Name:      s.Name,
		Version:   s.Version,
		Source:    e.Source,
		StoredAt:  e.StoredAt,
		Steps:     s.Steps,
		Overrides: s.Overrides,
	}
}

// RunList is the output of GET /runs
type RunList struct {
	Runs  []*storage.Run `json:"runs"`
	Count int            `json:"count"`
}

// ErrorBody is the payload of every error response
type ErrorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}
