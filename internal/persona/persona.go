// Package persona holds the read-only persona snapshot used by all matchers
// and the mapping records the pipeline produces.
package persona

import (
	"context"
	"time"
)

// Persona is a target-audience profile. The pipeline never mutates personas;
// they are managed by an external surface and consumed here as a snapshot.
type Persona struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Keywords    []string  `json:"keywords"`
	Embedding   []float64 `json:"embedding,omitempty"`
	Active      bool      `json:"active"`
}

// Store exposes the persona snapshot.
type Store interface {
	ListActive(ctx context.Context) ([]Persona, error)
	Get(ctx context.Context, id string) (Persona, error)
}

// ContentMapping is a scored association between one page and one persona.
// At most one active mapping exists per (page, persona); re-analysis
// supersedes rather than duplicates.
type ContentMapping struct {
	PageID     string    `json:"page_id"`
	PersonaID  string    `json:"persona_id"`
	Confidence float64   `json:"confidence"`
	Method     string    `json:"method"`
	Reason     string    `json:"reason,omitempty"`
	Verified   bool      `json:"verified"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// MappingStore persists content mappings with supersede semantics: Replace
// deactivates the previous active set for a page before inserting the new
// one, preserving history.
type MappingStore interface {
	Replace(ctx context.Context, pageID string, mappings []ContentMapping) error
	ActiveForPage(ctx context.Context, pageID string) ([]ContentMapping, error)
	CountActiveForPersona(ctx context.Context, personaID string) (int, error)
}
