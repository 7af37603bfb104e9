package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.json")
	l, err := New(Config{Level: "info", OutputPaths: []string{path}})
	require.NoError(t, err)

	l.Debug("hidden")
	l.Info("pool ready")
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"pool ready"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestBadLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
	assert.NotNil(t, NewOrNop(Config{Level: "loud"}))
}
