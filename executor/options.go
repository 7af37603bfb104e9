package executor

import (
	"time"

	"go.uber.org/zap"
)

// Option configures the Executor at creation time.
type Option func(*executorConfig)

type executorConfig struct {
	diskCache      bool
	cacheDir       string
	maxMemoryPages uint32
	fuelBudget     int64
	epochTimeout   time.Duration
	maxOutput      int
	warmupProbe    bool
	logger         *zap.Logger
}

func defaultExecutorConfig() executorConfig {
	return executorConfig{
		maxMemoryPages: MemoryLimit16MB,
		fuelBudget:     DefaultFuelBudget,
		epochTimeout:   30 * time.Second,
		maxOutput:      32 << 20,
		logger:         zap.NewNop(),
	}
}

// DefaultFuelBudget is the per-call fuel allowance, in guest function entries.
const DefaultFuelBudget int64 = 50_000_000

// WithDiskCache enables a persistent compilation cache for faster startup.
// Optionally provide a custom directory; otherwise uses ~/.cache/gorex or XDG_CACHE_HOME/gorex.
//
// Examples:
//
//	executor.New(registry, executor.WithDiskCache())            // default dir
//	executor.New(registry, executor.WithDiskCache("/tmp/cache")) // custom dir
func WithDiskCache(dir ...string) Option {
	return func(c *executorConfig) {
		c.diskCache = true
		if len(dir) > 0 && dir[0] != "" {
			c.cacheDir = dir[0]
		}
	}
}

// WithMemoryLimit caps the linear memory of every call. Each page is 64KB.
// Growth beyond the cap is denied (memory.grow returns -1) and counted.
func WithMemoryLimit(pages uint32) Option {
	return func(c *executorConfig) {
		c.maxMemoryPages = pages
	}
}

// WithFuelBudget sets the per-call compute budget. Zero disables metering.
func WithFuelBudget(units int64) Option {
	return func(c *executorConfig) {
		c.fuelBudget = units
	}
}

// WithEpochTimeout sets the per-call wall-clock deadline.
func WithEpochTimeout(d time.Duration) Option {
	return func(c *executorConfig) {
		c.epochTimeout = d
	}
}

// WithMaxOutput bounds how many bytes a guest may write to stdout per call.
func WithMaxOutput(n int) Option {
	return func(c *executorConfig) {
		c.maxOutput = n
	}
}

// WithWarmupProbe makes NewInstance run the guest's health_check before the
// instance is handed out. A failing probe is an instantiation failure.
func WithWarmupProbe(enabled bool) Option {
	return func(c *executorConfig) {
		c.warmupProbe = enabled
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *executorConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// MemoryLimit16MB is the default per-call memory cap, in 64KB pages.
const MemoryLimit16MB uint32 = 256
