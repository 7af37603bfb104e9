package executor

import (
	"context"
	"sync/atomic"
)

// PageSize is the size of one wasm linear memory page.
const PageSize = 65536

// Governor holds the per-call budgets of one execution context. Every counter
// is atomic: metrics may read a snapshot while the guest is still running.
type Governor struct {
	maxPages   uint32
	fuelBudget int64

	currentPages atomic.Uint32
	peakPages    atomic.Uint32
	growFailed   atomic.Uint64
	fuel         atomic.Int64
	exhausted    atomic.Bool
}

// NewGovernor returns a governor capping linear memory at maxPages and
// compute at fuelBudget units. A budget <= 0 disables fuel accounting.
func NewGovernor(maxPages uint32, fuelBudget int64) *Governor {
	g := &Governor{maxPages: maxPages, fuelBudget: fuelBudget}
	g.fuel.Store(fuelBudget)
	return g
}

// MemoryGrowing decides whether a memory may grow from current to desired
// pages. A denial is counted and leaves the accounted total unchanged.
func (g *Governor) MemoryGrowing(current, desired uint32) bool {
	if desired <= current {
		return true
	}
	needed := desired - current

	for {
		total := g.currentPages.Load()
		if uint64(total)+uint64(needed) > uint64(g.maxPages) {
			g.growFailed.Add(1)
			return false
		}
		if g.currentPages.CompareAndSwap(total, total+needed) {
			g.raisePeak(total + needed)
			return true
		}
	}
}

func (g *Governor) raisePeak(pages uint32) {
	for {
		peak := g.peakPages.Load()
		if pages <= peak || g.peakPages.CompareAndSwap(peak, pages) {
			return
		}
	}
}

// releaseMemory returns pages to the budget when a memory is freed.
func (g *Governor) releaseMemory(pages uint32) {
	for {
		total := g.currentPages.Load()
		next := uint32(0)
		if total > pages {
			next = total - pages
		}
		if g.currentPages.CompareAndSwap(total, next) {
			return
		}
	}
}

// ConsumeFuel charges units against the budget and reports whether execution
// may continue. Once it returns false it keeps returning false.
func (g *Governor) ConsumeFuel(units int64) bool {
	if g.fuelBudget <= 0 {
		return true
	}
	if g.fuel.Add(-units) < 0 {
		g.exhausted.Store(true)
		return false
	}
	return true
}

func (g *Governor) FuelExhausted() bool { return g.exhausted.Load() }

func (g *Governor) RemainingFuel() int64 {
	if g.fuelBudget <= 0 {
		return -1
	}
	if rem := g.fuel.Load(); rem > 0 {
		return rem
	}
	return 0
}

func (g *Governor) MaxMemoryPages() uint32 { return g.maxPages }

// Usage is a point-in-time view of a governor.
type Usage struct {
	CurrentMemoryPages uint32 `json:"current_memory_pages"`
	PeakMemoryPages    uint32 `json:"peak_memory_pages"`
	MaxMemoryPages     uint32 `json:"max_memory_pages"`
	GrowFailedCount    uint64 `json:"grow_failed_count"`
	FuelConsumed       int64  `json:"fuel_consumed"`
	RemainingFuel      int64  `json:"remaining_fuel"`
}

func (g *Governor) Usage() Usage {
	u := Usage{
		CurrentMemoryPages: g.currentPages.Load(),
		PeakMemoryPages:    g.peakPages.Load(),
		MaxMemoryPages:     g.maxPages,
		GrowFailedCount:    g.growFailed.Load(),
		RemainingFuel:      g.RemainingFuel(),
	}
	if g.fuelBudget > 0 {
		u.FuelConsumed = g.fuelBudget - u.RemainingFuel
	}
	return u
}

type governorKey struct{}

func withGovernor(ctx context.Context, g *Governor) context.Context {
	return context.WithValue(ctx, governorKey{}, g)
}

func governorFrom(ctx context.Context) *Governor {
	g, _ := ctx.Value(governorKey{}).(*Governor)
	return g
}
