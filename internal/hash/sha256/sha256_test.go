package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashKnownDigest(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", got)
}

func TestHashDistinguishesContent(t *testing.T) {
	t.Parallel()

	h := New()
	a, err := h.Hash([]byte("page one"))
	require.NoError(t, err)
	b, err := h.Hash([]byte("page two"))
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	again, err := h.Hash([]byte("page one"))
	require.NoError(t, err)
	require.Equal(t, a, again)
}

func TestHashEmptyInput(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash(nil)
	require.NoError(t, err)
	require.Len(t, got, 64)
}
