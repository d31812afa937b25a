package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/thehouseofbailey/personamapper/internal/crawl"
	"github.com/thehouseofbailey/personamapper/internal/persona"
)

// MappingStore is a Postgres-backed persona.MappingStore. Replace runs in
// one transaction so readers never observe a page with no active set
// mid-swap.
type MappingStore struct {
	pool Pool
}

// NewMappingStore constructs a MappingStore over an existing pool.
func NewMappingStore(pool Pool) *MappingStore {
	return &MappingStore{pool: pool}
}

// Replace deactivates the page's current active mappings and inserts the
// new set.
func (s *MappingStore) Replace(ctx context.Context, pageID string, mappings []persona.ContentMapping) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `UPDATE content_mappings SET active = FALSE WHERE page_id = $1 AND active`, pageID); err != nil {
		return fmt.Errorf("deactivate mappings: %w", err)
	}
	for _, m := range mappings {
		_, err := tx.Exec(ctx, `
INSERT INTO content_mappings (page_id, persona_id, confidence, method, reason, verified, active, created_at)
VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7)`,
			pageID, m.PersonaID, m.Confidence, m.Method, m.Reason, m.Verified, m.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert mapping: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

// ActiveForPage returns the page's active mappings.
func (s *MappingStore) ActiveForPage(ctx context.Context, pageID string) ([]persona.ContentMapping, error) {
	rows, err := s.pool.Query(ctx, `
SELECT page_id, persona_id, confidence, method, reason, verified, active, created_at
FROM content_mappings WHERE page_id = $1 AND active ORDER BY confidence DESC`, pageID)
	if err != nil {
		return nil, fmt.Errorf("query active mappings: %w", err)
	}
	defer rows.Close()

	var out []persona.ContentMapping
	for rows.Next() {
		var m persona.ContentMapping
		if err := rows.Scan(&m.PageID, &m.PersonaID, &m.Confidence, &m.Method, &m.Reason, &m.Verified, &m.Active, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mappings: %w", err)
	}
	return out, nil
}

// CountActiveForPersona counts active mappings for one persona.
func (s *MappingStore) CountActiveForPersona(ctx context.Context, personaID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
SELECT count(*) FROM content_mappings WHERE persona_id = $1 AND active`, personaID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count mappings: %w", err)
	}
	return count, nil
}

// PersonaStore is a Postgres-backed persona.Store.
type PersonaStore struct {
	pool Pool
}

// NewPersonaStore constructs a PersonaStore over an existing pool.
func NewPersonaStore(pool Pool) *PersonaStore {
	return &PersonaStore{pool: pool}
}

// ListActive returns active personas ordered by title.
func (s *PersonaStore) ListActive(ctx context.Context) ([]persona.Persona, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, title, description, keywords, embedding, active
FROM personas WHERE active ORDER BY title`)
	if err != nil {
		return nil, fmt.Errorf("query personas: %w", err)
	}
	defer rows.Close()

	var out []persona.Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate personas: %w", err)
	}
	return out, nil
}

// Get fetches one persona by ID.
func (s *PersonaStore) Get(ctx context.Context, id string) (persona.Persona, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, title, description, keywords, embedding, active
FROM personas WHERE id = $1`, id)
	p, err := scanPersona(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return persona.Persona{}, fmt.Errorf("persona %q: %w", id, crawl.ErrNotFound)
		}
		return persona.Persona{}, err
	}
	return p, nil
}

func scanPersona(row rowScanner) (persona.Persona, error) {
	var (
		p             persona.Persona
		keywordsJSON  []byte
		embeddingJSON []byte
	)
	if err := row.Scan(&p.ID, &p.Title, &p.Description, &keywordsJSON, &embeddingJSON, &p.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return persona.Persona{}, err
		}
		return persona.Persona{}, fmt.Errorf("scan persona: %w", err)
	}
	if len(keywordsJSON) > 0 {
		if err := json.Unmarshal(keywordsJSON, &p.Keywords); err != nil {
			return persona.Persona{}, fmt.Errorf("decode keywords: %w", err)
		}
	}
	if len(embeddingJSON) > 0 {
		if err := json.Unmarshal(embeddingJSON, &p.Embedding); err != nil {
			return persona.Persona{}, fmt.Errorf("decode embedding: %w", err)
		}
	}
	return p, nil
}
