package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/caffeineduck/gorex/hostfunc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, registry *hostfunc.Registry) (*protocolHandler, *bufio.Reader) {
	t.Helper()
	r, w := io.Pipe()
	t.Cleanup(func() { w.Close() })
	return newProtocolHandler(context.Background(), registry, w), bufio.NewReader(r)
}

func readResponse(t *testing.T, r *bufio.Reader) callResponse {
	t.Helper()
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	var resp callResponse
	require.NoError(t, json.Unmarshal([]byte(line), &resp))
	return resp
}

func TestProtocolDispatchesCall(t *testing.T) {
	registry := hostfunc.NewRegistry()
	registry.Register("echo", func(ctx context.Context, args map[string]any) (any, error) {
		return args["v"], nil
	})
	p, stdin := newTestHandler(t, registry)

	_, err := p.Write([]byte("before" + protocolPrefix + `{"fn":"echo","args":{"v":"hi"}}` + protocolSuffix + "after"))
	require.NoError(t, err)

	resp := readResponse(t, stdin)
	assert.Equal(t, "hi", resp.Data)
	assert.Empty(t, resp.Error)
	assert.Equal(t, "beforeafter", p.Stderr())
	assert.Equal(t, 1, p.Calls())
}

func TestProtocolMessageSplitAcrossWrites(t *testing.T) {
	registry := hostfunc.NewRegistry()
	registry.Register("ping", func(ctx context.Context, args map[string]any) (any, error) {
		return "pong", nil
	})
	p, stdin := newTestHandler(t, registry)

	msg := protocolPrefix + `{"fn":"ping","args":{}}` + protocolSuffix
	for _, chunk := range []string{msg[:3], msg[3:10], msg[10:]} {
		_, err := p.Write([]byte(chunk))
		require.NoError(t, err)
	}

	assert.Equal(t, "pong", readResponse(t, stdin).Data)
	assert.Empty(t, p.Stderr())
}

func TestProtocolErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"unknown function", `{"fn":"nope","args":{}}`, "unknown function: nope"},
		{"malformed json", `{"fn":`, "invalid call format"},
		{"function error", `{"fn":"fail","args":{}}`, "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := hostfunc.NewRegistry()
			registry.Register("fail", func(ctx context.Context, args map[string]any) (any, error) {
				return nil, errors.New("boom")
			})
			p, stdin := newTestHandler(t, registry)

			_, err := p.Write([]byte(protocolPrefix + tt.payload + protocolSuffix))
			require.NoError(t, err)
			assert.Equal(t, tt.want, readResponse(t, stdin).Error)
		})
	}
}

func TestProtocolStderrTailIsBounded(t *testing.T) {
	p, _ := newTestHandler(t, nil)

	_, err := p.Write([]byte(strings.Repeat("x", stderrTail*2) + "END"))
	require.NoError(t, err)

	tail := p.Stderr()
	assert.Len(t, tail, stderrTail)
	assert.True(t, strings.HasSuffix(tail, "END"))
}
