// Package hostfunc provides the host functions an extraction guest may call.
//
// Guests have no implicit access to the outside world. The only channel back
// to the host is the call protocol carried on stderr (see the executor
// package), which dispatches by name through a [Registry].
//
// # Registry
//
//	registry := hostfunc.NewRegistry()
//	registry.Register("log", hostfunc.NewLog(logger))
//	registry.Register("time_now", hostfunc.TimeNow)
//
// The executor registers "log" and "time_now" itself unless the caller already
// provided functions with those names.
//
// Host functions run while the guest is blocked in a write, so they count
// against the call's wall-clock deadline but not against its fuel budget.
package hostfunc
