package pool

import (
	"context"
	"time"

	"go.uber.org/zap"
)

func (p *Pool[T]) maintain(every time.Duration) {
	defer close(p.done)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), every)
			checked, evicted := p.Maintain(ctx)
			cancel()
			if checked > 0 {
				p.log.Debug("maintenance pass", zap.Int("checked", checked), zap.Int("evicted", evicted))
			}
		}
	}
}

// Maintain makes one pass over the idle instances: stale ones are evicted
// without a probe, the rest are health checked. Each check holds an admission
// slot; when none is free the pass ends early.
func (p *Pool[T]) Maintain(ctx context.Context) (checked, evicted int) {
	n := len(p.idle)
	for range n {
		if !p.sem.TryAcquire(1) {
			return
		}
		var e *entry[T]
		select {
		case e = <-p.idle:
		default:
			p.sem.Release(1)
			return
		}
		p.checkout(e)

		reason := ""
		if p.cfg.MaxIdle > 0 && time.Since(e.lastUsed) > p.cfg.MaxIdle {
			reason = ReasonIdle
		} else if err := e.inst.Check(ctx); err != nil {
			p.log.Warn("health check failed", zap.String("instance_id", e.id), zap.Error(err))
			reason = ReasonHealthCheck
		}

		p.mu.Lock()
		e.lastCheck = time.Now()
		if reason == "" {
			e.state = StateIdle
		} else {
			e.state = StateUnhealthy
		}
		p.mu.Unlock()

		if reason != "" {
			p.evict(e, reason)
			evicted++
		} else {
			p.idle <- e
		}
		p.sem.Release(1)
		checked++
	}
	if checked > 0 {
		p.report()
	}
	return
}

// InstanceStats is a point-in-time view of one pooled instance.
type InstanceStats struct {
	ID              string    `json:"id"`
	State           State     `json:"state"`
	UseCount        int       `json:"use_count"`
	FailureCount    int       `json:"failure_count"`
	CreatedAt       time.Time `json:"created_at"`
	LastUsed        time.Time `json:"last_used"`
	LastHealthCheck time.Time `json:"last_health_check,omitzero"`
}

func (p *Pool[T]) Stats() []InstanceStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]InstanceStats, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, InstanceStats{
			ID:              e.id,
			State:           e.state,
			UseCount:        e.uses,
			FailureCount:    e.failures,
			CreatedAt:       e.created,
			LastUsed:        e.lastUsed,
			LastHealthCheck: e.lastCheck,
		})
	}
	return out
}
