package memory

import (
	"context"
	"sync"

	"github.com/thehouseofbailey/personamapper/internal/persona"
)

// MappingStore is an in-memory persona.MappingStore. History is kept:
// superseded mappings stay in the slice with Active false.
type MappingStore struct {
	mu     sync.RWMutex
	byPage map[string][]persona.ContentMapping
}

// NewMappingStore constructs a MappingStore.
func NewMappingStore() *MappingStore {
	return &MappingStore{byPage: make(map[string][]persona.ContentMapping)}
}

// Replace deactivates the page's current active set and appends the new
// mappings as the active set.
func (s *MappingStore) Replace(_ context.Context, pageID string, mappings []persona.ContentMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.byPage[pageID]
	for i := range history {
		history[i].Active = false
	}
	for _, m := range mappings {
		m.PageID = pageID
		m.Active = true
		history = append(history, m)
	}
	s.byPage[pageID] = history
	return nil
}

// ActiveForPage returns the page's active mappings.
func (s *MappingStore) ActiveForPage(_ context.Context, pageID string) ([]persona.ContentMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []persona.ContentMapping
	for _, m := range s.byPage[pageID] {
		if m.Active {
			out = append(out, m)
		}
	}
	return out, nil
}

// CountActiveForPersona counts active mappings across all pages for one
// persona.
func (s *MappingStore) CountActiveForPersona(_ context.Context, personaID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, history := range s.byPage {
		for _, m := range history {
			if m.Active && m.PersonaID == personaID {
				count++
			}
		}
	}
	return count, nil
}

// HistoryForPage returns every mapping ever written for a page, active or
// not, in insertion order.
func (s *MappingStore) HistoryForPage(_ context.Context, pageID string) ([]persona.ContentMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.byPage[pageID]
	out := make([]persona.ContentMapping, len(history))
	copy(out, history)
	return out, nil
}
