package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/thehouseofbailey/personamapper/internal/crawl"
	"github.com/thehouseofbailey/personamapper/internal/persona"
)

// PersonaStore is an in-memory persona.Store seeded at startup.
type PersonaStore struct {
	mu   sync.RWMutex
	byID map[string]persona.Persona
}

// NewPersonaStore constructs a PersonaStore with the given snapshot.
func NewPersonaStore(personas []persona.Persona) *PersonaStore {
	byID := make(map[string]persona.Persona, len(personas))
	for _, p := range personas {
		byID[p.ID] = p
	}
	return &PersonaStore{byID: byID}
}

// ListActive returns active personas sorted by title.
func (s *PersonaStore) ListActive(_ context.Context) ([]persona.Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]persona.Persona, 0, len(s.byID))
	for _, p := range s.byID {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

// Get fetches one persona by ID, active or not.
func (s *PersonaStore) Get(_ context.Context, id string) (persona.Persona, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return persona.Persona{}, fmt.Errorf("persona %q: %w", id, crawl.ErrNotFound)
	}
	return p, nil
}

// Upsert adds or replaces a persona in the snapshot.
func (s *PersonaStore) Upsert(_ context.Context, p persona.Persona) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[p.ID] = p
	return nil
}
