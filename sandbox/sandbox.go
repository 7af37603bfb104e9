// Package sandbox is the extraction service: a circuit breaker in front of a
// pool of sandboxed extractor instances, with a non-sandboxed fallback used
// while the circuit keeps calls away from the pool.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/caffeineduck/gorex/breaker"
	"github.com/caffeineduck/gorex/config"
	"github.com/caffeineduck/gorex/executor"
	"github.com/caffeineduck/gorex/extract"
	"github.com/caffeineduck/gorex/fallback"
	"github.com/caffeineduck/gorex/hostfunc"
	"github.com/caffeineduck/gorex/metrics"
	"github.com/caffeineduck/gorex/pool"
	"go.uber.org/zap"
)

// Fallback serves requests while the circuit is open. It must return the same
// content and error shapes as the sandbox.
type Fallback interface {
	Extract(ctx context.Context, req extract.Request) (*extract.Content, error)
	ExtractWithStats(ctx context.Context, req extract.Request) (*extract.Content, extract.Stats, error)
}

type Option func(*options)

type options struct {
	logger      *zap.Logger
	sink        metrics.Sink
	fallback    Fallback
	registry    *hostfunc.Registry
	warmupProbe bool
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sends pool, call and circuit events to sink.
func WithMetrics(sink metrics.Sink) Option {
	return func(o *options) {
		if sink != nil {
			o.sink = sink
		}
	}
}

// WithFallback replaces the default readability-based fallback.
func WithFallback(fb Fallback) Option {
	return func(o *options) {
		o.fallback = fb
	}
}

// WithHostFunctions makes the functions in r callable by the guest.
func WithHostFunctions(r *hostfunc.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithWarmupProbe controls whether new instances must pass health_check
// before joining the pool. Enabled by default.
func WithWarmupProbe(enabled bool) Option {
	return func(o *options) {
		o.warmupProbe = enabled
	}
}

// Service is safe for concurrent use.
type Service struct {
	exec     *executor.Executor
	module   *executor.Module
	pool     *pool.Pool[*executor.Instance]
	breaker  *breaker.Breaker
	fallback Fallback
	sink     metrics.Sink
	log      *zap.Logger

	total     atomic.Uint64
	fallbacks atomic.Uint64
	growFails atomic.Uint64
	peakPages atomic.Uint32
	closed    atomic.Bool
}

// New compiles guest once, pre-warms the pool and starts with a closed
// circuit. A guest that cannot be compiled or instantiated aborts startup.
func New(ctx context.Context, guest executor.Guest, cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	o := options{logger: zap.NewNop(), sink: metrics.Nop{}, warmupProbe: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.fallback == nil {
		o.fallback = fallback.New(fallback.WithLogger(o.logger))
	}

	execOpts := []executor.Option{
		executor.WithMemoryLimit(cfg.MaxMemoryPages),
		executor.WithFuelBudget(cfg.FuelBudget),
		executor.WithEpochTimeout(cfg.EpochTimeout()),
		executor.WithMaxOutput(cfg.MaxOutputBytes),
		executor.WithWarmupProbe(o.warmupProbe),
		executor.WithLogger(o.logger),
	}
	if cfg.CacheDir != "" {
		execOpts = append(execOpts, executor.WithDiskCache(cfg.CacheDir))
	}
	exec, err := executor.New(o.registry, execOpts...)
	if err != nil {
		return nil, fmt.Errorf("create executor: %w", err)
	}

	module, err := exec.Load(ctx, guest)
	if err != nil {
		exec.Close()
		return nil, &extract.Error{Kind: extract.KindInstantiationFailure, Detail: "load guest", Cause: err}
	}

	s := &Service{
		exec:     exec,
		module:   module,
		fallback: o.fallback,
		sink:     o.sink,
		log:      o.logger.Named("sandbox"),
	}
	s.breaker = breaker.New(breaker.Config{
		Name:             module.Name(),
		FailureThreshold: cfg.Circuit.FailureThreshold,
		WindowSize:       cfg.Circuit.WindowSize,
		Cooldown:         cfg.Circuit.Cooldown(),
		HalfOpenTrials:   cfg.Circuit.HalfOpenTrials,
		Logger:           o.logger,
		OnStateChange: func(from, to breaker.State) {
			s.sink.CircuitStateChanged(string(from), string(to))
		},
	})

	s.pool, err = pool.New(ctx, pool.Config{
		MaxInstances:        cfg.MaxInstances,
		MaxConcurrency:      cfg.Concurrency(),
		MinWarmInstances:    cfg.MinWarmInstances,
		AdmissionTimeout:    cfg.AdmissionTimeout(),
		RotationUseCount:    cfg.RotationUseCount,
		EvictionFailures:    cfg.EvictionFailures,
		HealthCheckInterval: cfg.HealthCheckEvery(),
		MaxIdle:             cfg.MaxIdle(),
		Logger:              o.logger,
		Metrics:             o.sink,
	}, module.NewInstance)
	if err != nil {
		exec.Close()
		return nil, err
	}

	s.log.Info("extraction service ready",
		zap.String("guest", module.Name()),
		zap.Int("max_instances", cfg.MaxInstances),
		zap.Int("warm_instances", cfg.MinWarmInstances),
	)
	return s, nil
}

// Extract runs req in the sandbox, or through the fallback while the circuit
// is open. The caller cannot tell the paths apart except by Content.Source.
func (s *Service) Extract(ctx context.Context, req extract.Request) (*extract.Content, error) {
	s.total.Add(1)

	var out *extract.Content
	err := s.guarded(ctx, executor.OpExtract, func(ctx context.Context, inst *executor.Instance) (executor.Usage, error) {
		c, usage, err := inst.Extract(ctx, req)
		out = c
		return usage, err
	})
	if errors.Is(err, breaker.ErrOpen) {
		err = s.degrade(req, func() (err error) {
			out, err = s.fallback.Extract(ctx, req)
			return err
		})
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExtractWithStats is Extract plus processing statistics.
func (s *Service) ExtractWithStats(ctx context.Context, req extract.Request) (*extract.Content, extract.Stats, error) {
	s.total.Add(1)

	var (
		out   *extract.Content
		stats extract.Stats
	)
	err := s.guarded(ctx, executor.OpExtractWithStats, func(ctx context.Context, inst *executor.Instance) (executor.Usage, error) {
		c, st, usage, err := inst.ExtractWithStats(ctx, req)
		out, stats = c, st
		return usage, err
	})
	if errors.Is(err, breaker.ErrOpen) {
		err = s.degrade(req, func() (err error) {
			out, stats, err = s.fallback.ExtractWithStats(ctx, req)
			return err
		})
	}
	if err != nil {
		return nil, extract.Stats{}, err
	}
	return out, stats, nil
}

// guarded admits one call through the circuit and reports its outcome exactly
// once. It returns breaker.ErrOpen without touching the pool when rejected.
func (s *Service) guarded(ctx context.Context, op string, call callFunc) error {
	done, err := s.breaker.Allow()
	if err != nil {
		return err
	}
	err = s.leased(ctx, op, call)
	done(err == nil)
	return err
}

type callFunc func(ctx context.Context, inst *executor.Instance) (executor.Usage, error)

// leased runs call on a pooled instance. The lease is released on every path,
// with the call's outcome driving the instance's health counters.
func (s *Service) leased(ctx context.Context, op string, call callFunc) (err error) {
	if s.closed.Load() {
		return &extract.Error{Kind: extract.KindPoolExhausted, Cause: pool.ErrClosed}
	}
	start := time.Now()

	lease, err := s.pool.Acquire(ctx)
	if err != nil {
		s.record(op, err, time.Since(start), executor.Usage{})
		return err
	}
	defer func() { lease.Release(err) }()

	usage, err := call(ctx, lease.Instance())
	s.record(op, err, time.Since(start), usage)
	return err
}

func (s *Service) record(op string, err error, took time.Duration, usage executor.Usage) {
	kind := extract.KindOf(err)
	if err != nil && kind == "" {
		kind = extract.KindInternalGuest
	}
	s.sink.CallFinished(string(kind), took)

	if usage.PeakMemoryPages > 0 || usage.FuelConsumed > 0 {
		s.sink.Resources(usage.PeakMemoryPages, usage.GrowFailedCount, usage.FuelConsumed)
		s.growFails.Add(usage.GrowFailedCount)
		for {
			peak := s.peakPages.Load()
			if usage.PeakMemoryPages <= peak || s.peakPages.CompareAndSwap(peak, usage.PeakMemoryPages) {
				break
			}
		}
	}

	switch kind {
	case "":
	case extract.KindFuelExhausted, extract.KindTimeout, extract.KindMemoryLimitExceeded:
		s.log.Warn("call exceeded its budget",
			zap.String("op", op),
			zap.String("kind", string(kind)),
			zap.Duration("took", took),
			zap.Int64("fuel_consumed", usage.FuelConsumed),
			zap.Uint32("peak_memory_pages", usage.PeakMemoryPages),
		)
	default:
		s.log.Debug("call failed", zap.String("op", op), zap.Error(err))
	}
}

// degrade serves a request the circuit rejected. A fallback failure is
// composed with the open circuit into FallbackFailed.
func (s *Service) degrade(req extract.Request, serve func() error) error {
	s.fallbacks.Add(1)
	err := serve()
	s.sink.FallbackInvoked(err != nil)
	if err != nil {
		s.log.Warn("fallback failed while circuit open", zap.String("url", req.URL), zap.Error(err))
		return &extract.Error{Kind: extract.KindFallbackFailed, Detail: "circuit open", Cause: err}
	}
	s.log.Debug("served by fallback", zap.String("url", req.URL))
	return nil
}
