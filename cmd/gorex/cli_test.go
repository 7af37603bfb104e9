package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/caffeineduck/gorex/internal/guesttest"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeCommand runs root with args and returns stdout. Flags are reset first
// since the command tree is shared by every test.
func executeCommand(root *cobra.Command, args ...string) (string, error) {
	resetFlags(root)
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func TestCLIHelp(t *testing.T) {
	tests := []struct {
		args    []string
		phrases []string
	}{
		{
			args:    []string{"--help"},
			phrases: []string{"gorex", "WASM sandbox", "extract", "info", "serve", "mcp", "--config", "--guest"},
		},
		{
			args:    []string{"extract", "--help"},
			phrases: []string{"--mode", "--field", "--glob", "--stats", "--url", "custom:sel1,sel2"},
		},
		{
			args:    []string{"serve", "--help"},
			phrases: []string{"--addr", "/v1/extract", "/v1/validate", "/metrics", "/health"},
		},
		{
			args:    []string{"mcp", "--help"},
			phrases: []string{"extract_html", "stdio"},
		},
		{
			args:    []string{"info", "--help"},
			phrases: []string{"supported modes", "pool metrics"},
		},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			output, err := executeCommand(rootCmd, tt.args...)
			require.NoError(t, err)
			for _, phrase := range tt.phrases {
				assert.Contains(t, output, phrase)
			}
		})
	}
}

// cliEnv writes an article guest and a few inputs into a temp dir and points
// the config at a small pool.
func cliEnv(t *testing.T) (dir, guestPath string) {
	t.Helper()
	t.Setenv("GOREX_MIN_WARM_INSTANCES", "1")
	t.Setenv("GOREX_MAX_INSTANCES", "2")
	t.Setenv("GOREX_HEALTH_CHECK_INTERVAL_MS", "0")
	t.Setenv("GOREX_LOG_LEVEL", "error")

	dir = t.TempDir()
	guestPath = filepath.Join(dir, "article.wasm")
	require.NoError(t, os.WriteFile(guestPath, guesttest.Article("Test").Module(), 0o644))

	pages := filepath.Join(dir, "pages", "2024")
	require.NoError(t, os.MkdirAll(pages, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pages", "a.html"), []byte(testPage), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(pages, "b.html"), []byte(testPage), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.html"), []byte("just some notes\n"), 0o644))
	return dir, guestPath
}

func decodeLines(t *testing.T, out string) []extractResult {
	t.Helper()
	var results []extractResult
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var r extractResult
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r), sc.Text())
		results = append(results, r)
	}
	return results
}

func TestCLIExtractGlob(t *testing.T) {
	dir, guestPath := cliEnv(t)

	out, err := executeCommand(rootCmd, "extract",
		"--guest", guestPath,
		"--glob", filepath.Join(dir, "pages", "**", "*.html"),
		"--url", "https://example.com/",
	)
	require.NoError(t, err)

	results := decodeLines(t, out)
	require.Len(t, results, 2)
	assert.Equal(t, filepath.Join(dir, "pages", "2024", "b.html"), results[0].File)
	assert.Equal(t, filepath.Join(dir, "pages", "a.html"), results[1].File)
	for _, r := range results {
		require.Nil(t, r.Error)
		assert.Equal(t, "Test", r.Content.Title)
		assert.Equal(t, "https://example.com/", r.Content.URL)
		assert.Nil(t, r.Stats)
	}
}

func TestCLIExtractRejectsNonHTML(t *testing.T) {
	dir, guestPath := cliEnv(t)

	out, err := executeCommand(rootCmd, "extract",
		"--guest", guestPath,
		filepath.Join(dir, "pages", "a.html"),
		filepath.Join(dir, "notes.html"),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 files failed")

	results := decodeLines(t, out)
	require.Len(t, results, 2)
	assert.Nil(t, results[0].Error)
	require.NotNil(t, results[1].Error)
	assert.Equal(t, "input", results[1].Error.Kind)
	assert.Contains(t, results[1].Error.Message, "not HTML")
}

func TestCLIExtractStdin(t *testing.T) {
	_, guestPath := cliEnv(t)

	resetFlags(rootCmd)
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(strings.NewReader(testPage))
	rootCmd.SetArgs([]string{"extract", "--guest", guestPath})
	require.NoError(t, rootCmd.Execute())

	results := decodeLines(t, buf.String())
	require.Len(t, results, 1)
	assert.Empty(t, results[0].File)
	assert.Equal(t, "Test", results[0].Content.Title)
	assert.Equal(t, "sandbox", results[0].Content.Source)
}

func TestCLIExtractBadInput(t *testing.T) {
	dir, guestPath := cliEnv(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown mode", []string{"--mode", "summary"}, "summary"},
		{"custom without fields", []string{"--mode", "custom"}, "selectors"},
		{"empty glob", []string{"--glob", filepath.Join(dir, "*.xml")}, "no files match"},
		{"missing guest", []string{"--guest", filepath.Join(dir, "missing.wasm")}, "read guest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"extract", "--guest", guestPath}, tt.args...)
			_, err := executeCommand(rootCmd, args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		fields  []string
		want    string
		wantErr bool
	}{
		{"default", "", nil, "article", false},
		{"full", "full", nil, "full", false},
		{"inline selectors", "custom:h1,.lead", nil, "custom:h1,.lead", false},
		{"field flags", "custom", []string{"h1", ".lead"}, "custom:h1,.lead", false},
		{"bare custom", "custom", nil, "", true},
		{"unknown", "summary", nil, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := parseMode(tt.mode, tt.fields)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.String())
		})
	}
}
