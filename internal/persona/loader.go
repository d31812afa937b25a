package persona

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadFile reads a persona catalog from a JSON file: an array of Persona
// objects. Entries without an ID or title are rejected.
func LoadFile(path string) ([]Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona catalog: %w", err)
	}
	var personas []Persona
	if err := json.Unmarshal(data, &personas); err != nil {
		return nil, fmt.Errorf("parse persona catalog: %w", err)
	}
	seen := make(map[string]struct{}, len(personas))
	for i, p := range personas {
		if p.ID == "" || p.Title == "" {
			return nil, fmt.Errorf("persona at index %d: id and title are required", i)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("persona %q: duplicate id", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return personas, nil
}
