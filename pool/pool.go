// Package pool keeps a bounded set of reusable instances behind an admission
// gate. Callers lease an instance for one call and release it on every exit
// path; the pool decides on release whether the instance is reused or evicted.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/caffeineduck/gorex/extract"
	"github.com/caffeineduck/gorex/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ErrClosed is the cause of the PoolExhausted error returned after Close.
var ErrClosed = errors.New("pool closed")

// Instance is the unit the pool hands out.
type Instance interface {
	ID() string
	// Check is the explicit health probe run by the maintenance loop.
	Check(ctx context.Context) error
	Close(ctx context.Context) error
}

// Factory creates a ready instance. Its errors are reported as
// InstantiationFailure.
type Factory[T Instance] func(ctx context.Context) (T, error)

type State string

const (
	StateIdle      State = "idle"
	StateInUse     State = "in_use"
	StateUnhealthy State = "unhealthy"
	StateEvicted   State = "evicted"
)

// Eviction reasons, as reported to logs and metrics.
const (
	ReasonFailures      = "failures"
	ReasonRotation      = "rotation"
	ReasonInstantiation = "instantiation_failure"
	ReasonHealthCheck   = "health_check"
	ReasonIdle          = "idle"
	ReasonShutdown      = "shutdown"
)

type Config struct {
	MaxInstances     int
	MaxConcurrency   int // defaults to MaxInstances
	MinWarmInstances int
	// AdmissionTimeout bounds the wait for a slot. Zero means try once.
	AdmissionTimeout    time.Duration
	RotationUseCount    int // 0 disables rotation
	EvictionFailures    int // 0 disables failure eviction
	HealthCheckInterval time.Duration
	MaxIdle             time.Duration
	Logger              *zap.Logger
	Metrics             metrics.Sink
}

type entry[T Instance] struct {
	inst      T
	id        string
	state     State
	uses      int
	failures  int
	created   time.Time
	lastUsed  time.Time
	lastCheck time.Time
}

// Pool is safe for concurrent use.
type Pool[T Instance] struct {
	id      string
	cfg     Config
	factory Factory[T]
	sem     *semaphore.Weighted
	idle    chan *entry[T]
	log     *zap.Logger
	sink    metrics.Sink

	mu      sync.Mutex
	entries map[string]*entry[T]
	total   int
	closed  bool
	// freed is closed and replaced whenever total drops, waking waiters that
	// may now create an instance.
	freed chan struct{}

	stop chan struct{}
	done chan struct{}
}

// New builds the pool and pre-warms MinWarmInstances instances concurrently.
// Any pre-warm failure aborts construction.
func New[T Instance](ctx context.Context, cfg Config, factory Factory[T]) (*Pool[T], error) {
	if cfg.MaxInstances <= 0 {
		return nil, errors.New("max instances must be positive")
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = cfg.MaxInstances
	}
	if cfg.MinWarmInstances > cfg.MaxInstances {
		return nil, fmt.Errorf("min warm instances (%d) exceeds max instances (%d)", cfg.MinWarmInstances, cfg.MaxInstances)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Nop{}
	}

	p := &Pool[T]{
		id:      uuid.NewString(),
		cfg:     cfg,
		factory: factory,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		idle:    make(chan *entry[T], cfg.MaxInstances),
		sink:    cfg.Metrics,
		entries: make(map[string]*entry[T]),
		freed:   make(chan struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	p.log = cfg.Logger.Named("pool").With(zap.String("pool_id", p.id))

	if err := p.prewarm(ctx); err != nil {
		return nil, err
	}

	if cfg.HealthCheckInterval > 0 {
		go p.maintain(cfg.HealthCheckInterval)
	} else {
		close(p.done)
	}
	return p, nil
}

func (p *Pool[T]) ID() string { return p.id }

func (p *Pool[T]) prewarm(ctx context.Context) error {
	n := p.cfg.MinWarmInstances
	if n <= 0 {
		return nil
	}
	start := time.Now()
	warm := make([]*entry[T], n)

	g, gctx := errgroup.WithContext(ctx)
	for i := range warm {
		g.Go(func() error {
			e, err := p.create(gctx)
			warm[i] = e
			return err
		})
	}
	p.mu.Lock()
	p.total = n
	p.mu.Unlock()

	if err := g.Wait(); err != nil {
		for _, e := range warm {
			if e != nil {
				e.inst.Close(context.Background())
			}
		}
		return fmt.Errorf("pre-warm: %w", err)
	}

	p.mu.Lock()
	for _, e := range warm {
		e.state = StateIdle
		p.entries[e.id] = e
	}
	p.mu.Unlock()
	for _, e := range warm {
		p.idle <- e
	}
	p.report()
	p.log.Info("pool pre-warmed", zap.Int("instances", n), zap.Duration("took", time.Since(start)))
	return nil
}

func (p *Pool[T]) create(ctx context.Context) (*entry[T], error) {
	inst, err := p.factory(ctx)
	if err != nil {
		p.log.Warn("instance creation failed", zap.Error(err))
		return nil, extract.Wrap(extract.KindInstantiationFailure, err, "create instance")
	}
	now := time.Now()
	p.sink.InstanceCreated()
	p.log.Debug("instance created", zap.String("instance_id", inst.ID()))
	return &entry[T]{
		inst:     inst,
		id:       inst.ID(),
		state:    StateInUse,
		created:  now,
		lastUsed: now,
	}, nil
}

// Acquire waits for an admission slot and an instance. It fails with
// PoolExhausted when no slot frees up within the admission timeout, and with
// InstantiationFailure when a lazily created instance cannot be built.
func (p *Pool[T]) Acquire(ctx context.Context) (*Lease[T], error) {
	start := time.Now()
	if p.isClosed() {
		return nil, p.closedErr()
	}

	waitCtx := ctx
	if p.cfg.AdmissionTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.cfg.AdmissionTimeout)
		defer cancel()
	}

	if p.cfg.AdmissionTimeout > 0 {
		if err := p.sem.Acquire(waitCtx, 1); err != nil {
			return nil, p.exhausted(ctx, start)
		}
	} else if !p.sem.TryAcquire(1) {
		return nil, p.exhausted(ctx, start)
	}

	if p.isClosed() {
		p.sem.Release(1)
		return nil, p.closedErr()
	}

	e, err := p.take(ctx, waitCtx, start)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	p.sink.AdmissionWait(time.Since(start), true)
	p.report()
	return &Lease[T]{pool: p, e: e}, nil
}

// take returns an idle instance, creates one when under the cap, or waits for
// a release or an eviction when every instance is leased (only possible when
// the admission limit exceeds the instance cap).
func (p *Pool[T]) take(ctx, waitCtx context.Context, start time.Time) (*entry[T], error) {
	for {
		select {
		case e := <-p.idle:
			p.checkout(e)
			return e, nil
		default:
		}

		p.mu.Lock()
		if p.total < p.cfg.MaxInstances {
			p.total++
			p.mu.Unlock()

			e, err := p.create(ctx)
			p.mu.Lock()
			if err != nil {
				p.dropSlotLocked()
				p.mu.Unlock()
				p.report()
				return nil, err
			}
			p.entries[e.id] = e
			p.mu.Unlock()
			return e, nil
		}
		freed := p.freed
		p.mu.Unlock()

		if p.cfg.AdmissionTimeout <= 0 {
			return nil, p.exhausted(ctx, start)
		}
		select {
		case e := <-p.idle:
			p.checkout(e)
			return e, nil
		case <-freed:
		case <-waitCtx.Done():
			return nil, p.exhausted(ctx, start)
		}
	}
}

func (p *Pool[T]) checkout(e *entry[T]) {
	p.mu.Lock()
	e.state = StateInUse
	p.mu.Unlock()
}

func (p *Pool[T]) exhausted(ctx context.Context, start time.Time) error {
	waited := time.Since(start)
	p.sink.AdmissionWait(waited, false)
	if err := ctx.Err(); err != nil {
		return &extract.Error{Kind: extract.KindTimeout, Detail: "canceled while waiting for a pool slot", Cause: err}
	}
	p.log.Debug("pool exhausted", zap.Duration("waited", waited))
	return &extract.Error{
		Kind:   extract.KindPoolExhausted,
		Detail: fmt.Sprintf("no slot of %d freed within %s", p.cfg.MaxConcurrency, p.cfg.AdmissionTimeout),
	}
}

func (p *Pool[T]) closedErr() error {
	return &extract.Error{Kind: extract.KindPoolExhausted, Cause: ErrClosed}
}

func (p *Pool[T]) release(e *entry[T], callErr error) {
	defer p.sem.Release(1)

	p.mu.Lock()
	e.uses++
	e.lastUsed = time.Now()
	if callErr != nil {
		e.failures++
	}
	reason := p.evictReason(e, callErr)
	if p.closed {
		reason = ReasonShutdown
	}
	if reason != "" {
		e.state = StateUnhealthy
	} else {
		e.state = StateIdle
	}
	p.mu.Unlock()

	if reason != "" {
		p.evict(e, reason)
	} else {
		p.idle <- e
	}
	p.report()
}

func (p *Pool[T]) evictReason(e *entry[T], callErr error) string {
	switch {
	case extract.KindOf(callErr) == extract.KindInstantiationFailure:
		return ReasonInstantiation
	case p.cfg.EvictionFailures > 0 && e.failures >= p.cfg.EvictionFailures:
		return ReasonFailures
	case p.cfg.RotationUseCount > 0 && e.uses >= p.cfg.RotationUseCount:
		return ReasonRotation
	}
	return ""
}

// evict discards an instance that is not in the idle queue. Its slot is
// refilled lazily by the next acquisition.
func (p *Pool[T]) evict(e *entry[T], reason string) {
	p.mu.Lock()
	e.state = StateEvicted
	delete(p.entries, e.id)
	p.dropSlotLocked()
	p.mu.Unlock()

	if err := e.inst.Close(context.Background()); err != nil {
		p.log.Warn("instance close failed", zap.String("instance_id", e.id), zap.Error(err))
	}
	p.sink.InstanceEvicted(reason)
	p.log.Info("instance evicted",
		zap.String("instance_id", e.id),
		zap.String("reason", reason),
		zap.Int("use_count", e.uses),
		zap.Int("failure_count", e.failures),
	)
}

func (p *Pool[T]) dropSlotLocked() {
	p.total--
	close(p.freed)
	p.freed = make(chan struct{})
}

// Counts returns the number of live, idle and leased instances.
func (p *Pool[T]) Counts() (total, idle, inUse int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		switch e.state {
		case StateIdle:
			idle++
		case StateInUse:
			inUse++
		}
	}
	return p.total, idle, inUse
}

func (p *Pool[T]) report() {
	p.sink.PoolState(p.Counts())
}

func (p *Pool[T]) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close stops maintenance, waits for in-flight leases to be released, and
// closes every instance. If ctx ends first, idle instances are still closed
// and ctx's error is returned.
func (p *Pool[T]) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	close(p.stop)
	<-p.done

	var errs []error
	if err := p.sem.Acquire(ctx, int64(p.cfg.MaxConcurrency)); err != nil {
		errs = append(errs, fmt.Errorf("drain in-flight calls: %w", err))
	}

	for {
		select {
		case e := <-p.idle:
			p.mu.Lock()
			e.state = StateEvicted
			delete(p.entries, e.id)
			p.dropSlotLocked()
			p.mu.Unlock()
			if err := e.inst.Close(context.Background()); err != nil {
				errs = append(errs, err)
			}
			p.sink.InstanceEvicted(ReasonShutdown)
		default:
			p.report()
			p.log.Info("pool closed")
			return errors.Join(errs...)
		}
	}
}

// Lease is exclusive use of one instance for one call.
type Lease[T Instance] struct {
	pool *Pool[T]
	e    *entry[T]
	once sync.Once
}

func (l *Lease[T]) Instance() T { return l.e.inst }

// Release returns the instance with the outcome of the call. Only the first
// call has an effect, so it is safe to defer alongside an explicit release.
func (l *Lease[T]) Release(err error) {
	l.once.Do(func() { l.pool.release(l.e, err) })
}
