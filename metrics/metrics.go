// Package metrics is the observability sink of the extraction pool.
package metrics

import "time"

// Sink receives pool, breaker and call events. Implementations must be safe
// for concurrent use and must not block.
type Sink interface {
	InstanceCreated()
	InstanceEvicted(reason string)
	PoolState(total, idle, inUse int)
	// AdmissionWait records time spent waiting for a pool slot; admitted is
	// false when the wait ended in PoolExhausted.
	AdmissionWait(d time.Duration, admitted bool)
	// CallFinished records one sandboxed call. kind is the error kind, or
	// empty on success.
	CallFinished(kind string, d time.Duration)
	Resources(peakPages uint32, growFailed uint64, fuelConsumed int64)
	CircuitStateChanged(from, to string)
	FallbackInvoked(failed bool)
}

// PoolMetrics is a point-in-time view of the extraction service.
type PoolMetrics struct {
	InstanceCount       int    `json:"instance_count"`
	IdleCount           int    `json:"idle_count"`
	InUseCount          int    `json:"in_use_count"`
	PeakMemoryPages     uint32 `json:"peak_memory_pages"`
	GrowFailedCount     uint64 `json:"grow_failed_count"`
	CircuitState        string `json:"circuit_state"`
	FallbackInvocations uint64 `json:"fallback_invocations"`
	TotalExtractions    uint64 `json:"total_extractions"`
	CircuitTrips        uint64 `json:"circuit_trips"`
}

// Nop discards everything.
type Nop struct{}

func (Nop) InstanceCreated() {}
func (Nop) InstanceEvicted(string) {}
func (Nop) PoolState(int, int, int) {}
func (Nop) AdmissionWait(time.Duration, bool) {}
func (Nop) CallFinished(string, time.Duration) {}
func (Nop) Resources(uint32, uint64, int64) {}
func (Nop) CircuitStateChanged(string, string) {}
func (Nop) FallbackInvoked(bool) {}
