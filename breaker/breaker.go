// Package breaker gates calls to the guest pool on the failure rate of the
// most recent calls.
//
// Closed admits everything. When failures among the last WindowSize outcomes
// reach FailureThreshold the breaker opens and rejects all calls for Cooldown.
// It then half-opens and admits HalfOpenTrials calls; that many consecutive
// successes close it, any failure reopens it.
package breaker

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// ErrOpen is returned by Allow while the breaker rejects calls, either because
// it is open or because every half-open trial slot is taken.
var ErrOpen = errors.New("circuit open")

// State of the breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config holds the trip policy.
type Config struct {
	Name             string
	FailureThreshold float64
	WindowSize       int
	Cooldown         time.Duration
	HalfOpenTrials   int

	Logger *zap.Logger
	// OnStateChange is called on every transition, under the breaker's lock.
	OnStateChange func(from, to State)
}

func DefaultConfig() Config {
	return Config{
		Name:             "gorex",
		FailureThreshold: 0.5,
		WindowSize:       10,
		Cooldown:         5 * time.Second,
		HalfOpenTrials:   1,
	}
}

// Breaker is safe for concurrent use.
type Breaker struct {
	cb     *gobreaker.TwoStepCircuitBreaker[struct{}]
	window *window
	cfg    Config
	log    *zap.Logger
	trips  atomic.Uint64
}

func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.FailureThreshold <= 0 || cfg.FailureThreshold > 1 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.HalfOpenTrials <= 0 {
		cfg.HalfOpenTrials = def.HalfOpenTrials
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	b := &Breaker{
		window: newWindow(cfg.WindowSize),
		cfg:    cfg,
		log:    cfg.Logger.Named("breaker"),
	}
	b.cb = gobreaker.NewTwoStepCircuitBreaker[struct{}](gobreaker.Settings{
		Name:          cfg.Name,
		MaxRequests:   uint32(cfg.HalfOpenTrials),
		Timeout:       cfg.Cooldown,
		ReadyToTrip:   b.readyToTrip,
		OnStateChange: b.onStateChange,
	})
	return b
}

// Allow asks to admit one call. On success the caller must report the outcome
// through done exactly once; extra calls are ignored.
//
// A call that outlives a state transition still reports to gobreaker, which
// ignores it, but it is kept out of the new rolling window.
func (b *Breaker) Allow() (done func(success bool), err error) {
	before := b.window.generation()
	report, err := b.cb.Allow()
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrOpen
		}
		return nil, err
	}

	gen := b.window.generation()
	if gen != before {
		// Transitioned while admitting; the generation this call belongs to is unknown.
		gen = ^uint64(0)
	}

	var once sync.Once
	return func(success bool) {
		once.Do(func() {
			b.window.record(gen, success)
			report(success)
		})
	}, nil
}

func (b *Breaker) State() State { return fromGobreaker(b.cb.State()) }

// Trips counts transitions into the open state.
func (b *Breaker) Trips() uint64 { return b.trips.Load() }

// Window returns the failures and samples in the current rolling window.
func (b *Breaker) Window() (failures, samples int) { return b.window.counts() }

func (b *Breaker) readyToTrip(gobreaker.Counts) bool {
	failures, _ := b.window.counts()
	return float64(failures)/float64(b.cfg.WindowSize) >= b.cfg.FailureThreshold
}

func (b *Breaker) onStateChange(_ string, from, to gobreaker.State) {
	f, t := fromGobreaker(from), fromGobreaker(to)
	b.window.reset()

	if t == StateOpen {
		b.trips.Add(1)
		b.log.Warn("circuit opened",
			zap.String("breaker", b.cfg.Name),
			zap.String("from", string(f)),
			zap.Duration("cooldown", b.cfg.Cooldown),
		)
	} else {
		b.log.Info("circuit state changed",
			zap.String("breaker", b.cfg.Name),
			zap.String("from", string(f)),
			zap.String("to", string(t)),
		)
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(f, t)
	}
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
