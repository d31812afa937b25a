package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thehouseofbailey/personamapper/internal/storage/local"
)

func TestPutObjectWritesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(),
		"pages/job-1/page-1.html", "text/html", strings.NewReader("<html>hi</html>"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(uri, "file://"))

	content, err := os.ReadFile(filepath.Join(dir, "pages", "job-1", "page-1.html"))
	require.NoError(t, err)
	require.Equal(t, "<html>hi</html>", string(content))
}

func TestPutObjectRejectsEscapingPaths(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	for _, path := range []string{"", "../outside.html", "/etc/passwd"} {
		_, err := store.PutObject(context.Background(), path, "text/html", strings.NewReader("x"))
		require.Error(t, err, "path %q must be rejected", path)
	}
}

func TestNewRequiresBaseDir(t *testing.T) {
	t.Parallel()

	_, err := local.New(local.Config{})
	require.Error(t, err)
}

func TestNewCreatesBaseDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "archive")
	_, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
