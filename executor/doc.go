// Package executor runs extraction guests compiled to WebAssembly under hard
// per-call budgets.
//
// # Overview
//
// A guest is compiled once into a [Module], which is immutable and shared.
// A Module produces [Instance] values: reusable realizations that the pool
// hands out to callers. Every call on an Instance happens inside a fresh
// [Context], a single-use scope with its own linear memory and its own
// [Governor]. Nothing a guest does in one call is visible to the next.
//
// # Basic Usage
//
//	exec, err := executor.New(hostfunc.NewRegistry(),
//	    executor.WithMemoryLimit(executor.MemoryLimit16MB),
//	    executor.WithFuelBudget(10_000_000),
//	    executor.WithEpochTimeout(5*time.Second),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer exec.Close()
//
//	mod, err := exec.Load(ctx, guest.MustFromFile("extractor.wasm"))
//	inst, err := mod.NewInstance(ctx)
//	content, usage, err := inst.Extract(ctx, extract.Request{HTML: html, URL: url, Mode: extract.Article()})
//
// # Budgets
//
// Memory: every linear memory is allocated through a governed allocator.
// Growth past the page limit is denied, so memory.grow returns -1 and
// the denial is counted.
//
// Fuel: each guest function entry costs one unit, and guests may charge
// more through the gorex.consume_fuel import. Running out aborts the call
// with [extract.ErrFuelExhausted].
//
// Deadline: each call runs under a wall-clock deadline that closes the guest
// even when it burns no fuel (tight loops, blocking reads). Expiry surfaces
// as [extract.ErrTimeout].
//
// # Calling Convention
//
// Guests are WASI commands. The host passes the operation and a JSON request
// as arguments, and the guest answers on stdout with {"ok": ...} or
// {"error": {"kind": ..., "message": ...}}. Host functions from the
// [hostfunc.Registry] are reachable through framed messages on stderr.
package executor
