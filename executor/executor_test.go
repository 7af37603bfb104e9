package executor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/caffeineduck/gorex/executor"
	"github.com/caffeineduck/gorex/extract"
	"github.com/caffeineduck/gorex/hostfunc"
	"github.com/caffeineduck/gorex/internal/guesttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var article = extract.Request{
	HTML: "<html><head><title>Test</title></head><body><p>Content</p></body></html>",
	URL:  "https://example.com/a",
	Mode: extract.Article(),
}

func newExecutor(t *testing.T, registry *hostfunc.Registry, opts ...executor.Option) *executor.Executor {
	t.Helper()
	exec, err := executor.New(registry, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { exec.Close() })
	return exec
}

func newInstance(t *testing.T, exec *executor.Executor, g executor.Guest) *executor.Instance {
	t.Helper()
	ctx := context.Background()
	m, err := exec.Load(ctx, g)
	require.NoError(t, err)
	inst, err := m.NewInstance(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { inst.Close(ctx) })
	return inst
}

func TestExtractSuccess(t *testing.T) {
	exec := newExecutor(t, nil)
	inst := newInstance(t, exec, guesttest.Article("Test"))

	content, usage, err := inst.Extract(context.Background(), article)
	require.NoError(t, err)

	assert.Equal(t, "Test", content.Title)
	assert.Positive(t, content.QualityScore)
	assert.Equal(t, extract.SourceSandbox, content.Source)
	assert.Equal(t, article.URL, content.URL)
	assert.Positive(t, usage.FuelConsumed)
	assert.Positive(t, usage.PeakMemoryPages)
	assert.Equal(t, uint64(1), inst.Calls())
}

func TestGuestErrorMapping(t *testing.T) {
	tests := []struct {
		kind string
		want extract.Kind
	}{
		{"invalid_html", extract.KindInvalidHTML},
		{"parse_error", extract.KindInvalidHTML},
		{"unsupported_mode", extract.KindUnsupportedMode},
		{"resource_limit", extract.KindMemoryLimitExceeded},
		{"internal", extract.KindInternalGuest},
		{"network_error", extract.KindInternalGuest},
		{"something_new", extract.KindInternalGuest},
	}

	exec := newExecutor(t, nil)
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			inst := newInstance(t, exec, guesttest.Failing(tt.kind, "boom"))

			_, _, err := inst.Extract(context.Background(), article)
			require.Error(t, err)
			assert.Equal(t, tt.want, extract.KindOf(err))
			assert.Contains(t, err.Error(), "boom")

			var e *extract.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, inst.ID(), e.InstanceID)
		})
	}
}

func TestHostObservedGuestFailures(t *testing.T) {
	tests := []struct {
		name   string
		guest  executor.Guest
		detail string
	}{
		{"trap", guesttest.Trapping(), "guest trapped"},
		{"non-zero exit", guesttest.ExitCode(3), "exited with code 3"},
		{"no output", guesttest.Silent(), "empty response"},
		{"malformed output", guesttest.Respond("garbage", "not json"), "malformed response"},
		{"whitespace only", guesttest.Respond("blank", "  \n"), "empty response"},
		{"bare envelope", guesttest.Respond("bare", "{}"), "neither ok nor error"},
	}

	exec := newExecutor(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := newInstance(t, exec, tt.guest)

			_, _, err := inst.Extract(context.Background(), article)
			assert.ErrorIs(t, err, extract.ErrInternalGuest)
			assert.Contains(t, err.Error(), tt.detail)
		})
	}
}

func TestOutputLimit(t *testing.T) {
	exec := newExecutor(t, nil, executor.WithMaxOutput(8))
	inst := newInstance(t, exec, guesttest.Article("too long for the limit"))

	_, _, err := inst.Extract(context.Background(), article)
	assert.ErrorIs(t, err, extract.ErrInternalGuest)
	assert.Contains(t, err.Error(), "empty response", "the oversized write is refused whole")
}

func TestFuelExhaustion(t *testing.T) {
	exec := newExecutor(t, nil,
		executor.WithFuelBudget(10_000),
		executor.WithEpochTimeout(30*time.Second),
	)
	inst := newInstance(t, exec, guesttest.FuelHog())

	start := time.Now()
	_, usage, err := inst.Extract(context.Background(), article)

	assert.ErrorIs(t, err, extract.ErrFuelExhausted)
	assert.True(t, extract.IsResourceLimit(err))
	assert.NotErrorIs(t, err, extract.ErrTimeout)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Zero(t, usage.RemainingFuel)
}

func TestExplicitFuelCharge(t *testing.T) {
	exec := newExecutor(t, nil, executor.WithFuelBudget(1_000))

	t.Run("within budget", func(t *testing.T) {
		inst := newInstance(t, exec, guesttest.BulkFuel(500))
		_, usage, err := inst.Extract(context.Background(), article)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, usage.FuelConsumed, int64(500))
	})

	t.Run("over budget", func(t *testing.T) {
		inst := newInstance(t, exec, guesttest.BulkFuel(5_000))
		_, _, err := inst.Extract(context.Background(), article)
		assert.ErrorIs(t, err, extract.ErrFuelExhausted)
	})
}

func TestDeadline(t *testing.T) {
	const epoch = 300 * time.Millisecond

	tests := []struct {
		name  string
		guest executor.Guest
	}{
		{"tight loop", guesttest.TightLoop()},
		{"stalled on stdin", guesttest.Stall()},
	}

	exec := newExecutor(t, nil, executor.WithEpochTimeout(epoch))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := newInstance(t, exec, tt.guest)

			start := time.Now()
			_, _, err := inst.Extract(context.Background(), article)
			took := time.Since(start)

			assert.ErrorIs(t, err, extract.ErrTimeout)
			assert.NotErrorIs(t, err, extract.ErrFuelExhausted)
			assert.GreaterOrEqual(t, took, epoch)
			assert.Less(t, took, epoch+5*time.Second)
		})
	}
}

func TestCallerCancellation(t *testing.T) {
	exec := newExecutor(t, nil, executor.WithEpochTimeout(30*time.Second))
	inst := newInstance(t, exec, guesttest.Stall())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, _, err := inst.Extract(ctx, article)
	assert.ErrorIs(t, err, extract.ErrTimeout)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryCap(t *testing.T) {
	const limit = 8
	exec := newExecutor(t, nil, executor.WithMemoryLimit(limit))

	t.Run("growth denied and survived", func(t *testing.T) {
		inst := newInstance(t, exec, guesttest.MemoryHog())

		_, usage, err := inst.Extract(context.Background(), article)
		require.NoError(t, err)
		assert.Equal(t, uint32(limit), usage.PeakMemoryPages)
		assert.LessOrEqual(t, usage.CurrentMemoryPages, usage.MaxMemoryPages)
		assert.GreaterOrEqual(t, usage.GrowFailedCount, uint64(1))
	})

	t.Run("trap after denied growth", func(t *testing.T) {
		inst := newInstance(t, exec, guesttest.MemoryHogTrap())

		_, usage, err := inst.Extract(context.Background(), article)
		assert.ErrorIs(t, err, extract.ErrMemoryLimitExceeded)
		assert.True(t, extract.IsResourceLimit(err))
		assert.LessOrEqual(t, usage.PeakMemoryPages, uint32(limit))
	})
}

func TestFreshContextPerCall(t *testing.T) {
	exec := newExecutor(t, nil, executor.WithMemoryLimit(8))
	inst := newInstance(t, exec, guesttest.MemoryHog())

	for range 3 {
		_, usage, err := inst.Extract(context.Background(), article)
		require.NoError(t, err)
		assert.Equal(t, uint32(8), usage.PeakMemoryPages, "every call starts from a fresh memory")
		assert.Equal(t, uint64(1), usage.GrowFailedCount)
	}
}

func TestContextIsSingleUse(t *testing.T) {
	exec := newExecutor(t, nil)
	inst := newInstance(t, exec, guesttest.Article("Once"))

	ectx := inst.NewContext()
	first := ectx.Call(context.Background(), executor.OpExtract, article)
	require.NoError(t, first.Err)

	second := ectx.Call(context.Background(), executor.OpExtract, article)
	assert.ErrorIs(t, second.Err, extract.ErrInternalGuest)
}

func TestHostCallProtocol(t *testing.T) {
	registry := hostfunc.NewRegistry()
	var seen string
	registry.Register("wait", func(ctx context.Context, args map[string]any) (any, error) {
		seen = hostfunc.InstanceID(ctx)
		return "done", nil
	})

	exec := newExecutor(t, registry)
	inst := newInstance(t, exec, guesttest.HostCall("wait"))

	content, _, err := inst.Extract(context.Background(), article)
	require.NoError(t, err)
	assert.Equal(t, "after wait", content.Title)
	assert.Equal(t, inst.ID(), seen)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		guest   executor.Guest
		wantErr string
	}{
		{"missing _start", guesttest.NoStart(), "missing _start"},
		{"foreign import", guesttest.ForeignImport(), "unsupported import env.consume_fuel"},
		{"memory over limit", guesttest.LargeMemory(16), "exceeds limit"},
	}

	exec := newExecutor(t, nil, executor.WithMemoryLimit(8))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := exec.Load(context.Background(), tt.guest)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := exec.Load(context.Background(), guesttest.LargeMemory(4))
	assert.NoError(t, err)
}

func TestLoadReturnsSharedModule(t *testing.T) {
	exec := newExecutor(t, nil)
	g := guesttest.Article("Shared")

	first, err := exec.Load(context.Background(), g)
	require.NoError(t, err)
	second, err := exec.Load(context.Background(), g)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, g.Name(), first.Name())
}

func TestModuleOutlivesCloseWhileReferenced(t *testing.T) {
	ctx := context.Background()
	exec := newExecutor(t, nil)

	m, err := exec.Load(ctx, guesttest.Article("Ref"))
	require.NoError(t, err)
	inst, err := m.NewInstance(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Close(ctx))

	_, err = m.NewInstance(ctx)
	assert.ErrorIs(t, err, executor.ErrModuleClosed)

	content, _, err := inst.Extract(ctx, article)
	require.NoError(t, err, "existing instances keep the compiled code alive")
	assert.Equal(t, "Ref", content.Title)

	require.NoError(t, inst.Close(ctx))
	_, _, err = inst.Extract(ctx, article)
	assert.ErrorIs(t, err, extract.ErrInstantiationFailure)
}

func TestWarmupProbe(t *testing.T) {
	ctx := context.Background()
	exec := newExecutor(t, nil, executor.WithWarmupProbe(true))

	m, err := exec.Load(ctx, guesttest.OK("healthy", map[string]any{"status": "healthy"}))
	require.NoError(t, err)
	inst, err := m.NewInstance(ctx)
	require.NoError(t, err)
	inst.Close(ctx)

	m, err = exec.Load(ctx, guesttest.OK("degraded", map[string]any{"status": "degraded"}))
	require.NoError(t, err)
	_, err = m.NewInstance(ctx)
	assert.ErrorIs(t, err, extract.ErrInstantiationFailure)
	assert.ErrorIs(t, err, extract.ErrInternalGuest)

	m, err = exec.Load(ctx, guesttest.Trapping())
	require.NoError(t, err)
	_, err = m.NewInstance(ctx)
	assert.ErrorIs(t, err, extract.ErrInstantiationFailure)
}

func TestAuxiliaryOperations(t *testing.T) {
	ctx := context.Background()
	exec := newExecutor(t, nil)

	modes := newInstance(t, exec, guesttest.OK("modes", []string{"article", "full"}))
	got, err := modes.Modes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"article", "full"}, got)

	valid := newInstance(t, exec, guesttest.OK("valid", true))
	ok, err := valid.ValidateHTML(ctx, "<p>x</p>")
	require.NoError(t, err)
	assert.True(t, ok)

	reset := newInstance(t, exec, guesttest.OK("reset", "state reset"))
	msg, err := reset.ResetState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "state reset", msg)

	info := newInstance(t, exec, guesttest.OK("info", map[string]any{"name": "x", "version": "1"}))
	i, err := info.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "x", i.Name)

	stats := newInstance(t, exec, guesttest.OK("stats", map[string]any{
		"content": map[string]any{"title": "S"},
		"stats":   map[string]any{"links_found": 2},
	}))
	content, st, usage, err := stats.ExtractWithStats(ctx, article)
	require.NoError(t, err)
	assert.Equal(t, "S", content.Title)
	assert.Equal(t, 2, st.LinksFound)
	assert.Equal(t, int64(usage.PeakMemoryPages), st.MemoryUsedPages)
}

func TestConcurrentCallsShareOneInstance(t *testing.T) {
	exec := newExecutor(t, nil)
	inst := newInstance(t, exec, guesttest.Article("Concurrent"))

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := inst.Extract(context.Background(), article)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, uint64(16), inst.Calls())
}

func TestClosedExecutor(t *testing.T) {
	exec, err := executor.New(nil)
	require.NoError(t, err)
	require.NoError(t, exec.Close())
	require.NoError(t, exec.Close())

	_, err = exec.Load(context.Background(), guesttest.Article("late"))
	assert.True(t, errors.Is(err, executor.ErrClosed))
}

func TestRegistryBuiltins(t *testing.T) {
	custom := hostfunc.NewRegistry()
	custom.Register("time_now", func(context.Context, map[string]any) (any, error) { return 1.0, nil })

	exec := newExecutor(t, custom)
	assert.Equal(t, []string{"log", "time_now"}, exec.Registry().List())
	assert.Equal(t, []string{"time_now"}, custom.List(), "caller registry is not mutated")

	fn, ok := exec.Registry().Get("time_now")
	require.True(t, ok)
	v, err := fn(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)
}
