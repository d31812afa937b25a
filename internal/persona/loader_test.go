package persona

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "personas.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := writeCatalog(t, `[
		{"id": "p-eng", "title": "Platform Engineer", "keywords": ["kubernetes"], "active": true},
		{"id": "p-mgr", "title": "Engineering Manager", "active": true}
	]`)

	personas, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, personas, 2)
	require.Equal(t, "Platform Engineer", personas[0].Title)
	require.Equal(t, []string{"kubernetes"}, personas[0].Keywords)
}

func TestLoadFileRejectsBadCatalogs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		content string
	}{
		{"invalid json", `{not json`},
		{"missing id", `[{"title": "No ID"}]`},
		{"missing title", `[{"id": "p-1"}]`},
		{"duplicate id", `[{"id": "p-1", "title": "A"}, {"id": "p-1", "title": "B"}]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFile(writeCatalog(t, tc.content))
			require.Error(t, err)
		})
	}
}

func TestLoadFileMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}
