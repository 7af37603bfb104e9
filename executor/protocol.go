package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/caffeineduck/gorex/hostfunc"
)

// Host calls travel on stderr framed as \x00GOREX:{json}\x00; the response is
// written to the guest's stdin as one JSON line.
const (
	protocolPrefix = "\x00GOREX:"
	protocolSuffix = "\x00"

	// stderrTail bounds how much plain guest stderr is kept for diagnostics.
	stderrTail = 4096
)

type callRequest struct {
	Fn   string         `json:"fn"`
	Args map[string]any `json:"args"`
}

type callResponse struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// protocolHandler intercepts stderr to serve host function calls. Plain
// stderr output is kept (bounded) so failures can be reported with context.
type protocolHandler struct {
	ctx      context.Context
	registry *hostfunc.Registry
	stdin    *io.PipeWriter
	tail     []byte
	buf      bytes.Buffer
	calls    int
	mu       sync.Mutex
}

func newProtocolHandler(ctx context.Context, registry *hostfunc.Registry, stdin *io.PipeWriter) *protocolHandler {
	return &protocolHandler{
		ctx:      ctx,
		registry: registry,
		stdin:    stdin,
	}
}

func (p *protocolHandler) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf.Write(data)

	for {
		content := p.buf.String()
		startIdx := strings.Index(content, protocolPrefix)
		if startIdx == -1 {
			// Hold back a partial prefix split across writes.
			keep := partialPrefix(content)
			p.keep(content[:len(content)-keep])
			p.buf.Reset()
			p.buf.WriteString(content[len(content)-keep:])
			break
		}

		p.keep(content[:startIdx])

		body := content[startIdx+len(protocolPrefix):]
		endIdx := strings.Index(body, protocolSuffix)
		if endIdx == -1 {
			p.buf.Reset()
			p.buf.WriteString(content[startIdx:])
			break
		}

		payload := body[:endIdx]
		p.buf.Reset()
		p.buf.WriteString(body[endIdx+len(protocolSuffix):])

		var req callRequest
		if err := json.Unmarshal([]byte(payload), &req); err != nil {
			p.respond(callResponse{Error: "invalid call format"})
			continue
		}

		p.calls++
		p.respond(p.handleCall(req))
	}

	return len(data), nil
}

func partialPrefix(content string) int {
	for n := min(len(protocolPrefix)-1, len(content)); n > 0; n-- {
		if strings.HasSuffix(content, protocolPrefix[:n]) {
			return n
		}
	}
	return 0
}

func (p *protocolHandler) keep(s string) {
	if s == "" {
		return
	}
	p.tail = append(p.tail, s...)
	if over := len(p.tail) - stderrTail; over > 0 {
		p.tail = p.tail[over:]
	}
}

func (p *protocolHandler) respond(resp callResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		data, _ = json.Marshal(callResponse{Error: "unencodable result"})
	}
	go p.stdin.Write(append(data, '\n'))
}

func (p *protocolHandler) handleCall(req callRequest) callResponse {
	if p.registry == nil {
		return callResponse{Error: "unknown function: " + req.Fn}
	}
	fn, ok := p.registry.Get(req.Fn)
	if !ok {
		return callResponse{Error: "unknown function: " + req.Fn}
	}

	result, err := fn(p.ctx, req.Args)
	if err != nil {
		return callResponse{Error: err.Error()}
	}
	return callResponse{Data: result}
}

// Stderr returns the retained tail of plain guest stderr.
func (p *protocolHandler) Stderr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.tail)
}

func (p *protocolHandler) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
