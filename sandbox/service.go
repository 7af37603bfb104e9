package sandbox

import (
	"context"
	"errors"

	"github.com/caffeineduck/gorex/executor"
	"github.com/caffeineduck/gorex/extract"
	"github.com/caffeineduck/gorex/metrics"
	"github.com/caffeineduck/gorex/pool"
	"go.uber.org/zap"
)

// Auxiliary operations run on a pooled instance like any call, and feed its
// health counters, but bypass the circuit and never fall back.

// ValidateHTML asks the guest whether html is structurally well formed.
func (s *Service) ValidateHTML(ctx context.Context, html string) (bool, error) {
	var ok bool
	err := s.leased(ctx, executor.OpValidateHTML, func(ctx context.Context, inst *executor.Instance) (executor.Usage, error) {
		var err error
		ok, err = inst.ValidateHTML(ctx, html)
		return executor.Usage{}, err
	})
	return ok, err
}

func (s *Service) Health(ctx context.Context) (extract.HealthStatus, error) {
	var status extract.HealthStatus
	err := s.leased(ctx, executor.OpHealthCheck, func(ctx context.Context, inst *executor.Instance) (executor.Usage, error) {
		var err error
		status, err = inst.Health(ctx)
		return executor.Usage{}, err
	})
	return status, err
}

func (s *Service) Info(ctx context.Context) (extract.Info, error) {
	var info extract.Info
	err := s.leased(ctx, executor.OpGetInfo, func(ctx context.Context, inst *executor.Instance) (executor.Usage, error) {
		var err error
		info, err = inst.Info(ctx)
		return executor.Usage{}, err
	})
	return info, err
}

func (s *Service) Modes(ctx context.Context) ([]string, error) {
	var modes []string
	err := s.leased(ctx, executor.OpGetModes, func(ctx context.Context, inst *executor.Instance) (executor.Usage, error) {
		var err error
		modes, err = inst.Modes(ctx)
		return executor.Usage{}, err
	})
	return modes, err
}

// ResetState is a passthrough to the guest. Every call already runs in a fresh
// execution context, so there is no host-side state to reset.
func (s *Service) ResetState(ctx context.Context) (string, error) {
	var msg string
	err := s.leased(ctx, executor.OpResetState, func(ctx context.Context, inst *executor.Instance) (executor.Usage, error) {
		var err error
		msg, err = inst.ResetState(ctx)
		return executor.Usage{}, err
	})
	return msg, err
}

// Metrics returns a snapshot of the pool, the circuit and the call counters.
func (s *Service) Metrics() metrics.PoolMetrics {
	total, idle, inUse := s.pool.Counts()
	return metrics.PoolMetrics{
		InstanceCount:       total,
		IdleCount:           idle,
		InUseCount:          inUse,
		PeakMemoryPages:     s.peakPages.Load(),
		GrowFailedCount:     s.growFails.Load(),
		CircuitState:        string(s.breaker.State()),
		FallbackInvocations: s.fallbacks.Load(),
		TotalExtractions:    s.total.Load(),
		CircuitTrips:        s.breaker.Trips(),
	}
}

// Instances returns per-instance health counters.
func (s *Service) Instances() []pool.InstanceStats { return s.pool.Stats() }

// Guest is the name of the loaded extractor module.
func (s *Service) Guest() string { return s.module.Name() }

// Close waits for in-flight calls, then releases the pool, the compiled
// module and the runtime.
func (s *Service) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if err := s.pool.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.module.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.exec.Close(); err != nil {
		errs = append(errs, err)
	}
	err := errors.Join(errs...)
	s.log.Info("extraction service closed", zap.Error(err))
	return err
}
