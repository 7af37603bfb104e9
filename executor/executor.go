package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/caffeineduck/gorex/hostfunc"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("executor closed")

// Executor owns the wazero runtime, the host modules linked into it, and the
// compiled guest modules.
type Executor struct {
	runtime  wazero.Runtime
	cache    wazero.CompilationCache
	modules  map[string]*Module
	registry *hostfunc.Registry
	cfg      executorConfig
	log      *zap.Logger
	mu       sync.RWMutex
	closed   bool
}

// New creates an Executor. Functions in registry are callable by guests;
// "log" and "time_now" are added unless registry already defines them.
func New(registry *hostfunc.Registry, opts ...Option) (*Executor, error) {
	cfg := defaultExecutorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxMemoryPages == 0 {
		return nil, errors.New("memory limit must be at least one page")
	}

	ctx := context.Background()

	var cache wazero.CompilationCache
	var err error

	if cfg.diskCache {
		cacheDir := cfg.cacheDir
		if cacheDir == "" {
			cacheDir = defaultCacheDir()
		}
		cache, err = wazero.NewCompilationCacheWithDir(cacheDir)
		if err != nil {
			return nil, fmt.Errorf("create disk cache: %w", err)
		}
	}

	// Memory is capped per call by the governed allocator, not by the runtime
	// limit, so that denials are observable and counted.
	rtConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cache != nil {
		rtConfig = rtConfig.WithCompilationCache(cache)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		closeAll(ctx, rt, cache)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	_, err = rt.NewHostModuleBuilder(hostModuleName).
		NewFunctionBuilder().WithFunc(consumeFuel).Export("consume_fuel").
		NewFunctionBuilder().WithFunc(remainingFuel).Export("remaining_fuel").
		Instantiate(ctx)
	if err != nil {
		closeAll(ctx, rt, cache)
		return nil, fmt.Errorf("instantiate %s host module: %w", hostModuleName, err)
	}

	if registry == nil {
		registry = hostfunc.NewRegistry()
	} else {
		registry = registry.Clone()
	}
	registry.RegisterIfAbsent("log", hostfunc.NewLog(cfg.logger))
	registry.RegisterIfAbsent("time_now", hostfunc.TimeNow)

	return &Executor{
		runtime:  rt,
		cache:    cache,
		modules:  make(map[string]*Module),
		registry: registry,
		cfg:      cfg,
		log:      cfg.logger.Named("executor"),
	}, nil
}

// Load compiles and validates a guest, returning the shared compiled module.
// Loading the same guest name twice returns the same module.
func (e *Executor) Load(ctx context.Context, guest Guest) (*Module, error) {
	name := guest.Name()

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ErrClosed
	}
	if m, ok := e.modules[name]; ok && !m.isClosed() {
		e.mu.RUnlock()
		return m, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	if m, ok := e.modules[name]; ok && !m.isClosed() {
		return m, nil
	}

	start := time.Now()
	compileCtx := ctx
	if e.cfg.fuelBudget > 0 {
		compileCtx = experimental.WithFunctionListenerFactory(ctx, fuelListenerFactory{})
	}

	compiled, err := e.runtime.CompileModule(compileCtx, guest.Module())
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}

	m := &Module{
		name:     name,
		exec:     e,
		compiled: compiled,
		limits: Limits{
			MaxMemoryPages: e.cfg.maxMemoryPages,
			FuelBudget:     e.cfg.fuelBudget,
			EpochTimeout:   e.cfg.epochTimeout,
		},
	}
	if err := m.validate(); err != nil {
		compiled.Close(ctx)
		return nil, fmt.Errorf("validate %s: %w", name, err)
	}

	e.modules[name] = m
	e.log.Info("guest compiled",
		zap.String("guest", name),
		zap.Duration("took", time.Since(start)),
		zap.Uint32("max_memory_pages", m.limits.MaxMemoryPages),
		zap.Int64("fuel_budget", m.limits.FuelBudget),
	)
	return m, nil
}

// Registry returns the host functions guests can reach.
func (e *Executor) Registry() *hostfunc.Registry { return e.registry }

// Close releases all resources held by the Executor.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	ctx := context.Background()

	var errs []error
	for _, m := range e.modules {
		if err := m.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.runtime.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if e.cache != nil {
		if err := e.cache.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func closeAll(ctx context.Context, rt wazero.Runtime, cache wazero.CompilationCache) {
	rt.Close(ctx)
	if cache != nil {
		cache.Close(ctx)
	}
}

func defaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "gorex")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "gorex")
	}
	return filepath.Join(os.TempDir(), "gorex-cache")
}
