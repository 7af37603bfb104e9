package guest_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/caffeineduck/gorex/guest"
	"github.com/caffeineduck/gorex/internal/guesttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromFile(t *testing.T) {
	wasm := guesttest.Article("x").Module()
	path := filepath.Join(t.TempDir(), "extractor.wasm")
	require.NoError(t, os.WriteFile(path, wasm, 0o644))

	m, err := guest.FromFile(path)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(m.Name(), "extractor@"))
	assert.Len(t, m.Digest(), 64)
	assert.Equal(t, wasm, m.Module())
}

func TestFromBytesDistinguishesBuilds(t *testing.T) {
	a, err := guest.FromBytes("extractor", guesttest.Article("a").Module())
	require.NoError(t, err)
	b, err := guest.FromBytes("extractor", guesttest.Article("b").Module())
	require.NoError(t, err)

	assert.NotEqual(t, a.Name(), b.Name())
}

func TestRejectsNonWasm(t *testing.T) {
	_, err := guest.FromBytes("page", []byte("<html><body>nope</body></html>"))
	assert.ErrorContains(t, err, "not a wasm module")

	_, err = guest.FromFile(filepath.Join(t.TempDir(), "missing.wasm"))
	assert.Error(t, err)

	assert.Panics(t, func() { guest.MustFromFile(filepath.Join(t.TempDir(), "missing.wasm")) })
}
