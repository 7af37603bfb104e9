package executor

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGovernorMemoryGrowing(t *testing.T) {
	tests := []struct {
		name    string
		start   uint32
		current uint32
		desired uint32
		allow   bool
	}{
		{"within budget", 1, 1, 4, true},
		{"exactly at cap", 1, 1, 8, true},
		{"past cap", 1, 1, 9, false},
		{"shrink is free", 4, 4, 2, true},
		{"cap already reached", 8, 8, 9, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGovernor(8, 0)
			require.True(t, g.MemoryGrowing(0, tt.start))

			assert.Equal(t, tt.allow, g.MemoryGrowing(tt.current, tt.desired))

			u := g.Usage()
			assert.LessOrEqual(t, u.CurrentMemoryPages, u.MaxMemoryPages)
			if tt.allow {
				assert.Zero(t, u.GrowFailedCount)
			} else {
				assert.Equal(t, uint64(1), u.GrowFailedCount)
				assert.Equal(t, tt.start, u.CurrentMemoryPages)
			}
		})
	}
}

func TestGovernorConcurrentGrowthNeverExceedsCap(t *testing.T) {
	g := NewGovernor(100, 0)

	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				g.MemoryGrowing(0, 1)
			}
		}()
	}
	wg.Wait()

	u := g.Usage()
	assert.Equal(t, uint32(100), u.CurrentMemoryPages)
	assert.Equal(t, uint32(100), u.PeakMemoryPages)
	assert.Equal(t, uint64(320-100), u.GrowFailedCount)
}

func TestGovernorPeakSurvivesRelease(t *testing.T) {
	g := NewGovernor(16, 0)
	require.True(t, g.MemoryGrowing(0, 10))
	g.releaseMemory(10)
	require.True(t, g.MemoryGrowing(0, 3))

	u := g.Usage()
	assert.Equal(t, uint32(3), u.CurrentMemoryPages)
	assert.Equal(t, uint32(10), u.PeakMemoryPages)
}

func TestGovernorFuel(t *testing.T) {
	g := NewGovernor(1, 100)

	assert.True(t, g.ConsumeFuel(60))
	assert.Equal(t, int64(40), g.RemainingFuel())
	assert.False(t, g.FuelExhausted())

	assert.False(t, g.ConsumeFuel(41))
	assert.True(t, g.FuelExhausted())
	assert.Zero(t, g.RemainingFuel())
	assert.False(t, g.ConsumeFuel(1), "exhaustion is sticky")

	assert.Equal(t, int64(100), g.Usage().FuelConsumed)
}

func TestGovernorUnlimitedFuel(t *testing.T) {
	g := NewGovernor(1, 0)
	assert.True(t, g.ConsumeFuel(1<<40))
	assert.Equal(t, int64(-1), g.RemainingFuel())
	assert.Zero(t, g.Usage().FuelConsumed)
}

func TestChargePanicsOnExhaustion(t *testing.T) {
	g := NewGovernor(1, 2)
	ctx := withGovernor(context.Background(), g)

	assert.NotPanics(t, func() { charge(ctx, 2) })
	assert.PanicsWithValue(t, errFuelExhausted, func() { charge(ctx, 1) })
	assert.Equal(t, int64(0), remainingFuel(ctx))
	assert.Equal(t, int64(-1), remainingFuel(context.Background()))
}

func TestGovernedMemory(t *testing.T) {
	g := NewGovernor(4, 0)
	mem := governedAllocator{gov: g}.Allocate(PageSize, 16*PageSize)

	buf := mem.Reallocate(PageSize)
	require.Len(t, buf, PageSize)

	buf[0] = 42
	buf = mem.Reallocate(4 * PageSize)
	require.Len(t, buf, 4*PageSize)
	assert.Equal(t, byte(42), buf[0], "growth preserves contents")

	assert.Nil(t, mem.Reallocate(5*PageSize))
	assert.Equal(t, uint64(1), g.Usage().GrowFailedCount)

	mem.Free()
	assert.Zero(t, g.Usage().CurrentMemoryPages)
	assert.Equal(t, uint32(4), g.Usage().PeakMemoryPages)
}

func TestGovernedMemoryInitialReservation(t *testing.T) {
	g := NewGovernor(2, 0)
	mem := governedAllocator{gov: g}.Allocate(0, 16*PageSize)

	assert.PanicsWithValue(t, errMemoryReservation, func() { mem.Reallocate(3 * PageSize) })
}

func TestBoundedBuffer(t *testing.T) {
	b := &boundedBuffer{limit: 4}
	n, err := b.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = b.Write([]byte("de"))
	assert.ErrorIs(t, err, errOutputLimit)
	assert.Equal(t, "abc", string(b.Bytes()))
}
