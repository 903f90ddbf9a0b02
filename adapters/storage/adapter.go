// Package storage persists simulation runs.
// Supports an in-memory backend and SQLite.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"battery-pricing/core/engine"
	"battery-pricing/core/ruleset"
	apperrors "battery-pricing/internal/errors"
)

// Backend is a storage backend type
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendSQLite Backend = "sqlite"
)

// Store is the run storage interface
type Store interface {
	// Save stores a run, assigning its ID and timestamp when missing
	Save(ctx context.Context, run *Run) error

	// Get retrieves a run by ID
	Get(ctx context.Context, id string) (*Run, error)

	// List lists runs newest first. Items are not loaded.
	List(ctx context.Context, filter *ListFilter) ([]*Run, error)

	// Delete removes a run
	Delete(ctx context.Context, id string) error

	// Close closes the store
	Close() error
}

// Run is a stored simulation
type Run struct {
	// ID is unique identifier
	ID string `json:"id"`

	RulesetName    string `json:"ruleset_name"`
	RulesetVersion string `json:"ruleset_version"`

	// InputHash identifies the submitted batch
	InputHash string `json:"input_hash,omitempty"`

	// CreatedAt timestamp
	CreatedAt time.Time `json:"created_at"`

	Summary engine.RunSummary  `json:"summary"`
	Items   []engine.PriceItem `json:"items,omitempty"`
}

// NewRun wraps a simulation result for storage
func NewRun(result *engine.Result, inputHash string) *Run {
	return &Run{
		RulesetName:    result.RulesetName,
		RulesetVersion: result.RulesetVersion,
		InputHash:      inputHash,
		Summary:        result.Summary,
		Items:          result.Items,
	}
}

// InputHash identifies an item batch priced with a ruleset. The CLI and the
// HTTP API both key stored runs with it.
func InputHash(rs *ruleset.Ruleset, items []engine.Item) string {
	h := sha256.New()
	rsData, _ := json.Marshal(rs)
	itemData, _ := json.Marshal(items)
	h.Write(rsData)
	h.Write([]byte{0})
	h.Write(itemData)
	return hex.EncodeToString(h.Sum(nil))
}

// Result converts the run back into a simulation result
func (r *Run) Result() *engine.Result {
	return &engine.Result{
		RulesetName:    r.RulesetName,
		RulesetVersion: r.RulesetVersion,
		Items:          r.Items,
		Summary:        r.Summary,
	}
}

// ListFilter filters run listing
type ListFilter struct {
	RulesetName    string
	RulesetVersion string
	Since          time.Time
	Until          time.Time
	Limit          int
	Offset         int
}

func (f *ListFilter) matches(run *Run) bool {
	if f == nil {
		return true
	}
	if f.RulesetName != "" && run.RulesetName != f.RulesetName {
		return false
	}
	if f.RulesetVersion != "" && run.RulesetVersion != f.RulesetVersion {
		return false
	}
	if !f.Since.IsZero() && run.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && run.CreatedAt.After(f.Until) {
		return false
	}
	return true
}

// Open creates the store selected by backend
func Open(backend, path string) (Store, error) {
	switch Backend(backend) {
	case BackendMemory, "":
		return NewMemoryStore(), nil
	case BackendSQLite:
		s, err := NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, apperrors.Newf(apperrors.TypeConfig, "unknown storage backend %q", backend)
	}
}

func prepare(run *Run, now time.Time) error {
	if run == nil {
		return apperrors.New(apperrors.TypeInput, "run is required")
	}
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.CreatedAt = run.CreatedAt.UTC()
	return nil
}

// MemoryStore is an in-memory storage backend
type MemoryStore struct {
	runs map[string]*Run
	mu   sync.RWMutex
	now  func() time.Time
}

// NewMemoryStore creates a memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs: make(map[string]*Run),
		now:  time.Now,
	}
}

func (s *MemoryStore) Save(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := prepare(run, s.now()); err != nil {
		return err
	}
	if _, exists := s.runs[run.ID]; exists {
		return apperrors.Newf(apperrors.TypeStorage, "run already exists: %s", run.ID)
	}
	stored := *run
	stored.Items = append([]engine.PriceItem(nil), run.Items...)
	s.runs[run.ID] = &stored
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, apperrors.NotFound("run", id)
	}
	out := *run
	return &out, nil
}

func (s *MemoryStore) List(ctx context.Context, filter *ListFilter) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []*Run
	for _, run := range s.runs {
		if !filter.matches(run) {
			continue
		}
		header := *run
		header.Items = nil
		runs = append(runs, &header)
	}

	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].ID < runs[j].ID
	})

	if filter != nil {
		if filter.Offset > 0 {
			if filter.Offset >= len(runs) {
				return nil, nil
			}
			runs = runs[filter.Offset:]
		}
		if filter.Limit > 0 && filter.Limit < len(runs) {
			runs = runs[:filter.Limit]
		}
	}
	return runs, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[id]; !ok {
		return apperrors.NotFound("run", id)
	}
	delete(s.runs, id)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
