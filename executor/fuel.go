package executor

import (
	"context"
	"errors"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
)

// errFuelExhausted is panicked from inside guest execution when the budget
// runs out. wazero recovers it and returns it wrapped from the call.
var errFuelExhausted = errors.New("fuel exhausted")

// Fuel is metered in guest function entries: wazero has no instruction
// counter, so every call into a guest function costs one unit. Guests may
// charge bulk work explicitly through the gorex.consume_fuel import.
type fuelListenerFactory struct{}

func (fuelListenerFactory) NewFunctionListener(api.FunctionDefinition) experimental.FunctionListener {
	return fuelListener{}
}

type fuelListener struct{}

func (fuelListener) Before(ctx context.Context, _ api.Module, _ api.FunctionDefinition, _ []uint64, _ experimental.StackIterator) {
	charge(ctx, 1)
}

func (fuelListener) After(context.Context, api.Module, api.FunctionDefinition, []uint64) {}

func (fuelListener) Abort(context.Context, api.Module, api.FunctionDefinition, error) {}

func charge(ctx context.Context, units int64) {
	if g := governorFrom(ctx); g != nil && !g.ConsumeFuel(units) {
		panic(errFuelExhausted)
	}
}

// consumeFuel is exported to guests as gorex.consume_fuel(i64).
func consumeFuel(ctx context.Context, units int64) {
	if units > 0 {
		charge(ctx, units)
	}
}

// remainingFuel is exported to guests as gorex.remaining_fuel() -> i64.
func remainingFuel(ctx context.Context) int64 {
	if g := governorFrom(ctx); g != nil {
		return g.RemainingFuel()
	}
	return -1
}
