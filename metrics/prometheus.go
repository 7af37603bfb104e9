package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus exports the sink as gorex_* collectors.
type Prometheus struct {
	InstancesCreated  prometheus.Counter
	InstancesEvicted  *prometheus.CounterVec
	Instances         *prometheus.GaugeVec
	AdmissionDuration prometheus.Histogram
	PoolExhausted     prometheus.Counter
	Calls             *prometheus.CounterVec
	CallDuration      prometheus.Histogram
	PeakMemoryPages   prometheus.Histogram
	GrowFailed        prometheus.Counter
	FuelConsumed      prometheus.Histogram
	CircuitState      *prometheus.GaugeVec
	CircuitChanges    *prometheus.CounterVec
	Fallbacks         *prometheus.CounterVec
}

var circuitStates = []string{"closed", "open", "half_open"}

// NewPrometheus registers the collectors with reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	f := promauto.With(reg)
	p := &Prometheus{
		InstancesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "gorex_instances_created_total",
			Help: "Pooled instances created",
		}),
		InstancesEvicted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gorex_instances_evicted_total",
			Help: "Pooled instances evicted, by reason",
		}, []string{"reason"}),
		Instances: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gorex_instances",
			Help: "Pooled instances by state",
		}, []string{"state"}),
		AdmissionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gorex_admission_wait_seconds",
			Help:    "Time spent waiting for a pool slot",
			Buckets: []float64{.0001, .001, .005, .01, .05, .1, .5, 1, 5},
		}),
		PoolExhausted: f.NewCounter(prometheus.CounterOpts{
			Name: "gorex_pool_exhausted_total",
			Help: "Calls rejected because no pool slot freed up in time",
		}),
		Calls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gorex_calls_total",
			Help: "Sandboxed calls by outcome",
		}, []string{"outcome"}),
		CallDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gorex_call_duration_seconds",
			Help:    "Sandboxed call duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		PeakMemoryPages: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gorex_call_peak_memory_pages",
			Help:    "Peak linear memory per call, in 64KiB pages",
			Buckets: prometheus.ExponentialBuckets(1, 2, 15),
		}),
		GrowFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "gorex_memory_grow_denied_total",
			Help: "Memory growth requests denied by the governor",
		}),
		FuelConsumed: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gorex_call_fuel_consumed",
			Help:    "Fuel consumed per call",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		}),
		CircuitState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gorex_circuit_state",
			Help: "1 for the current circuit state, 0 otherwise",
		}, []string{"state"}),
		CircuitChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gorex_circuit_transitions_total",
			Help: "Circuit breaker transitions",
		}, []string{"from", "to"}),
		Fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gorex_fallback_invocations_total",
			Help: "Calls served by the fallback extractor",
		}, []string{"result"}),
	}
	p.setCircuit("closed")
	return p
}

func (p *Prometheus) InstanceCreated() { p.InstancesCreated.Inc() }

func (p *Prometheus) InstanceEvicted(reason string) {
	p.InstancesEvicted.WithLabelValues(reason).Inc()
}

func (p *Prometheus) PoolState(total, idle, inUse int) {
	p.Instances.WithLabelValues("total").Set(float64(total))
	p.Instances.WithLabelValues("idle").Set(float64(idle))
	p.Instances.WithLabelValues("in_use").Set(float64(inUse))
}

func (p *Prometheus) AdmissionWait(d time.Duration, admitted bool) {
	p.AdmissionDuration.Observe(d.Seconds())
	if !admitted {
		p.PoolExhausted.Inc()
	}
}

func (p *Prometheus) CallFinished(kind string, d time.Duration) {
	if kind == "" {
		kind = "success"
	}
	p.Calls.WithLabelValues(kind).Inc()
	p.CallDuration.Observe(d.Seconds())
}

func (p *Prometheus) Resources(peakPages uint32, growFailed uint64, fuelConsumed int64) {
	p.PeakMemoryPages.Observe(float64(peakPages))
	p.GrowFailed.Add(float64(growFailed))
	if fuelConsumed > 0 {
		p.FuelConsumed.Observe(float64(fuelConsumed))
	}
}

func (p *Prometheus) CircuitStateChanged(from, to string) {
	p.CircuitChanges.WithLabelValues(from, to).Inc()
	p.setCircuit(to)
}

func (p *Prometheus) setCircuit(current string) {
	for _, s := range circuitStates {
		v := 0.0
		if s == current {
			v = 1
		}
		p.CircuitState.WithLabelValues(s).Set(v)
	}
}

func (p *Prometheus) FallbackInvoked(failed bool) {
	result := "success"
	if failed {
		result = "failure"
	}
	p.Fallbacks.WithLabelValues(result).Inc()
}
