package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/caffeineduck/gorex/internal/guesttest"
	"github.com/caffeineduck/gorex/sandbox"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callTool(t *testing.T, svc *sandbox.Service, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Name = "extract_html"
	req.Params.Arguments = args
	res, err := handleExtractHTML(svc)(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	return res
}

func toolText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return text.Text
}

func TestMCPExtractHTML(t *testing.T) {
	s := newTestServer(t, guesttest.Article("Test"), testConfig())

	res := callTool(t, s.svc, map[string]any{"html": testPage, "url": "https://example.com/"})
	require.False(t, res.IsError, toolText(t, res))

	var out extractResult
	require.NoError(t, json.Unmarshal([]byte(toolText(t, res)), &out))
	assert.Equal(t, "Test", out.Content.Title)
	assert.Equal(t, "https://example.com/", out.Content.URL)
}

func TestMCPExtractHTMLErrors(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing html", map[string]any{"url": "https://example.com/"}, "html is required"},
		{"unknown mode", map[string]any{"html": testPage, "mode": "summary"}, "unknown mode"},
	}
	s := newTestServer(t, guesttest.Article("Test"), testConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := callTool(t, s.svc, tt.args)
			assert.True(t, res.IsError)
			assert.Contains(t, toolText(t, res), tt.want)
		})
	}

	t.Run("guest error keeps its kind", func(t *testing.T) {
		cfg := testConfig()
		cfg.MinWarmInstances = 0
		s := newTestServer(t, guesttest.Failing("invalid_html", "no body"), cfg, sandbox.WithWarmupProbe(false))
		res := callTool(t, s.svc, map[string]any{"html": "<"})
		assert.True(t, res.IsError)
		assert.Contains(t, toolText(t, res), "invalid_html")
	})
}

func TestMCPServerRegistersTool(t *testing.T) {
	s := newTestServer(t, guesttest.Article("Test"), testConfig())
	srv := newMCPServer(s.svc)
	ctx := context.Background()

	srv.HandleMessage(ctx, json.RawMessage(`{"jsonrpc":"2.0","id":0,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"0"}}}`))
	msg := srv.HandleMessage(ctx, json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	b, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"extract_html"`)
}
