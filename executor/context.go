package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/caffeineduck/gorex/extract"
	"github.com/caffeineduck/gorex/hostfunc"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"
)

var errContextUsed = errors.New("execution context already used")

// Result holds the outcome of one guest call.
type Result struct {
	Payload  json.RawMessage
	Usage    Usage
	Stderr   string
	Duration time.Duration
	Err      error
}

// Context is the isolation scope of exactly one guest call. Each call gets a
// fresh guest instantiation (new linear memory, new WASI state) and a fresh
// Governor; nothing survives into the next call.
type Context struct {
	inst *Instance
	gov  *Governor
	used atomic.Bool
}

type envelope struct {
	OK    json.RawMessage `json:"ok"`
	Error *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

type invocation struct {
	err         error
	instantiate bool
	panicked    any
}

// Call runs op with the JSON encoding of req as its argument. Every failure is
// returned as an *extract.Error in Result.Err.
func (c *Context) Call(ctx context.Context, op string, req any) Result {
	start := time.Now()
	if !c.used.CompareAndSwap(false, true) {
		return Result{Err: extract.Wrap(extract.KindInternalGuest, errContextUsed, "")}
	}

	arg := []byte("{}")
	if req != nil {
		var err error
		if arg, err = json.Marshal(req); err != nil {
			return Result{Err: extract.Wrap(extract.KindInternalGuest, err, "encode request")}
		}
	}

	m := c.inst.module
	limits := m.limits

	callCtx := ctx
	var cancel context.CancelFunc
	if limits.EpochTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, limits.EpochTimeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	callCtx = withGovernor(callCtx, c.gov)
	callCtx = experimental.WithMemoryAllocator(callCtx, governedAllocator{gov: c.gov})
	callCtx = hostfunc.WithInstanceID(callCtx, c.inst.id)

	stdout := &boundedBuffer{limit: m.exec.cfg.maxOutput}
	stdinReader, stdinWriter := io.Pipe()
	protocol := newProtocolHandler(callCtx, m.exec.registry, stdinWriter)

	cfg := c.inst.base.
		WithStdout(stdout).
		WithStderr(protocol).
		WithStdin(stdinReader).
		WithArgs(guestArgv0, op, string(arg))

	done := make(chan invocation, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- invocation{panicked: r}
			}
		}()
		done <- c.invoke(callCtx, cfg)
	}()

	var inv invocation
	select {
	case inv = <-done:
	case <-callCtx.Done():
		// Unblock a guest parked on stdin; the closed module stops it at
		// its next call or loop back-edge.
		stdinWriter.CloseWithError(io.EOF)
		inv = <-done
	}
	stdinWriter.Close()

	res := Result{
		Usage:    c.gov.Usage(),
		Stderr:   protocol.Stderr(),
		Duration: time.Since(start),
	}
	res.Payload, res.Err = c.classify(ctx, callCtx, inv, stdout.Bytes(), limits)
	if res.Err != nil {
		m.exec.log.Debug("guest call failed",
			zap.String("instance_id", c.inst.id),
			zap.String("op", op),
			zap.Duration("took", res.Duration),
			zap.Error(res.Err),
		)
	}
	return res
}

func (c *Context) invoke(ctx context.Context, cfg wazero.ModuleConfig) invocation {
	m := c.inst.module
	mod, err := m.exec.runtime.InstantiateModule(ctx, m.compiled, cfg)
	if err != nil {
		return invocation{err: err, instantiate: true}
	}
	defer mod.Close(context.Background())

	start := mod.ExportedFunction("_start")
	if start == nil {
		return invocation{err: errors.New("missing _start export"), instantiate: true}
	}
	_, err = start.Call(ctx)
	return invocation{err: err}
}

// classify maps a finished invocation onto the extraction taxonomy. Budget
// violations take precedence over whatever the guest managed to print.
func (c *Context) classify(parent, callCtx context.Context, inv invocation, stdout []byte, limits Limits) (json.RawMessage, error) {
	id := c.inst.id
	fail := func(kind extract.Kind, cause error, format string, args ...any) error {
		return &extract.Error{Kind: kind, Detail: fmt.Sprintf(format, args...), InstanceID: id, Cause: cause}
	}

	if c.gov.FuelExhausted() || errors.Is(inv.err, errFuelExhausted) || isPanic(inv.panicked, errFuelExhausted) {
		return nil, fail(extract.KindFuelExhausted, nil, "fuel budget of %d exhausted", limits.FuelBudget)
	}

	var exitErr *sys.ExitError
	if errors.As(inv.err, &exitErr) && exitErr.ExitCode() == 0 {
		inv.err = nil
	}

	var (
		env    envelope
		envErr error
	)
	out := bytes.TrimSpace(stdout)
	if len(out) == 0 {
		envErr = errEmptyResponse
	} else {
		envErr = json.Unmarshal(out, &env)
	}
	if inv.err == nil && inv.panicked == nil && envErr == nil && env.Error == nil && env.OK != nil {
		return env.OK, nil
	}

	if callCtx.Err() != nil {
		if parent.Err() != nil {
			return nil, fail(extract.KindTimeout, parent.Err(), "call aborted by caller")
		}
		return nil, fail(extract.KindTimeout, nil, "epoch deadline of %v exceeded", limits.EpochTimeout)
	}

	if inv.panicked != nil {
		if isPanic(inv.panicked, errMemoryReservation) {
			return nil, fail(extract.KindInstantiationFailure, errMemoryReservation, "")
		}
		return nil, fail(extract.KindInternalGuest, nil, "host panic: %v", inv.panicked)
	}
	if inv.instantiate {
		return nil, fail(extract.KindInstantiationFailure, inv.err, "")
	}

	if envErr == nil && env.Error != nil {
		e := extract.FromGuest(env.Error.Kind, env.Error.Message)
		e.InstanceID = id
		return nil, e
	}

	if inv.err != nil {
		if c.gov.Usage().GrowFailedCount > 0 {
			return nil, fail(extract.KindMemoryLimitExceeded, inv.err, "memory capped at %d pages", limits.MaxMemoryPages)
		}
		if errors.As(inv.err, &exitErr) {
			return nil, fail(extract.KindInternalGuest, nil, "guest exited with code %d", exitErr.ExitCode())
		}
		return nil, fail(extract.KindInternalGuest, inv.err, "guest trapped")
	}

	if errors.Is(envErr, errEmptyResponse) {
		return nil, fail(extract.KindInternalGuest, nil, "empty response")
	}
	if envErr != nil {
		return nil, fail(extract.KindInternalGuest, envErr, "malformed response")
	}
	return nil, fail(extract.KindInternalGuest, nil, "response carries neither ok nor error")
}

var errEmptyResponse = errors.New("empty response")

func isPanic(recovered any, target error) bool {
	err, ok := recovered.(error)
	return ok && errors.Is(err, target)
}

// boundedBuffer is a guest stdout sink that refuses writes past limit.
type boundedBuffer struct {
	buf   bytes.Buffer
	limit int
}

var errOutputLimit = errors.New("output limit exceeded")

func (b *boundedBuffer) Write(p []byte) (int, error) {
	if b.limit > 0 && b.buf.Len()+len(p) > b.limit {
		return 0, errOutputLimit
	}
	return b.buf.Write(p)
}

func (b *boundedBuffer) Bytes() []byte { return b.buf.Bytes() }
