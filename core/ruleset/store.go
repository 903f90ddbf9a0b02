package ruleset

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "battery-pricing/internal/errors"
)

// Entry is a stored ruleset
type Entry struct {
	ID       string    `json:"id"`
	Source   string    `json:"source,omitempty"`
	StoredAt time.Time `json:"stored_at"`
	Ruleset  *Ruleset  `json:"ruleset"`
}

// Store holds rulesets by name and version
type Store interface {
	// Put stores a ruleset, replacing any entry with the same name and version
	Put(rs *Ruleset, source string) (*Entry, error)

	// Get returns one version of a ruleset
	Get(name, version string) (*Entry, error)

	// Latest returns the most recently stored version of a ruleset
	Latest(name string) (*Entry, error)

	// List returns every stored entry ordered by name, then storage time
	List() []*Entry

	// DeleteSource removes every version stored from source and returns the count
	DeleteSource(source string) int
}

// InMemoryStore is a Store backed by maps
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]map[string]*Entry // name -> version -> entry
	now     func() time.Time
}

// NewInMemoryStore creates an empty store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string]map[string]*Entry),
		now:     time.Now,
	}
}

// Put implements Store. Invalid rulesets are rejected.
func (s *InMemoryStore) Put(rs *Ruleset, source string) (*Entry, error) {
	if err := Check(rs); err != nil {
		return nil, err
	}

	entry := &Entry{
		ID:       uuid.New().String(),
		Source:   source,
		StoredAt: s.now(),
		Ruleset:  rs,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	versions, ok := s.entries[rs.Name]
	if !ok {
		versions = make(map[string]*Entry)
		s.entries[rs.Name] = versions
	}
	versions[rs.Version] = entry
	return entry, nil
}

// Get implements Store
func (s *InMemoryStore) Get(name, version string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.entries[name][version]; ok {
		return e, nil
	}
	return nil, apperrors.NotFound("ruleset", name+"@"+version)
}

// Latest implements Store
func (s *InMemoryStore) Latest(name string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Entry
	for _, e := range s.entries[name] {
		if latest == nil || e.StoredAt.After(latest.StoredAt) ||
			(e.StoredAt.Equal(latest.StoredAt) && e.Ruleset.Version > latest.Ruleset.Version) {
			latest = e
		}
	}
	if latest == nil {
		return nil, apperrors.NotFound("ruleset", name)
	}
	return latest, nil
}

// List implements Store
func (s *InMemoryStore) List() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Entry
	for _, versions := range s.entries {
		for _, e := range versions {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Ruleset.Name != b.Ruleset.Name {
			return a.Ruleset.Name < b.Ruleset.Name
		}
		if !a.StoredAt.Equal(b.StoredAt) {
			return a.StoredAt.Before(b.StoredAt)
		}
		return a.Ruleset.Version < b.Ruleset.Version
	})
	return out
}

// DeleteSource implements Store
func (s *InMemoryStore) DeleteSource(source string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for name, versions := range s.entries {
		for version, e := range versions {
			if e.Source == source {
				delete(versions, version)
				removed++
			}
		}
		if len(versions) == 0 {
			delete(s.entries, name)
		}
	}
	return removed
}
