package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Engine metrics
	EngineEvalTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anvil_engine_eval_total",
			Help: "Total number of Engine.eval calls by outcome (match, reused, computed, error)",
		},
		[]string{"outcome"},
	)

	EngineEvalDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "anvil_engine_eval_duration_seconds",
			Help:    "Time taken to resolve a key via Engine.eval in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	EngineUserFunctionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "anvil_engine_user_function_duration_seconds",
			Help:    "Time taken executing a derived key's user function in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	EngineVersion = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "anvil_engine_version",
			Help: "Current engine version",
		},
	)

	// Gate metrics
	GateWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "anvil_gate_wait_duration_seconds",
			Help:    "Time a command waited in the ConcurrencyGate before admission",
			Buckets: prometheus.DefBuckets,
		},
	)

	GateAdmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anvil_gate_admitted_total",
			Help: "Total commands admitted by the ConcurrencyGate by path (idle, parallel, waited, error)",
		},
		[]string{"path"},
	)

	// SignalBus / critical-path metrics
	SignalBusQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "anvil_signalbus_queue_depth",
			Help: "Approximate number of signals buffered in the SignalBus channel",
		},
	)

	SignalsDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "anvil_signals_dropped_total",
			Help: "Total signals dropped because they arrived after BuildFinished",
		},
	)

	CriticalPathDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "anvil_critical_path_duration_seconds",
			Help:    "Total duration of the computed critical path in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Materializer metrics
	MaterializerEnsureDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "anvil_materializer_ensure_duration_seconds",
			Help:    "Time taken to materialize a single declared path",
			Buckets: prometheus.DefBuckets,
		},
	)

	MaterializerPathsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "anvil_materializer_paths_total",
			Help: "Number of paths tracked by the materializer by state",
		},
		[]string{"state"},
	)

	MaterializerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anvil_materializer_errors_total",
			Help: "Total materialization errors by subkind (not_found, io)",
		},
		[]string{"kind"},
	)

	SQLStoreWriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "anvil_sqlstore_write_duration_seconds",
			Help:    "Time taken to write a materialization record to the persistent store",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		EngineEvalTotal,
		EngineEvalDuration,
		EngineUserFunctionDuration,
		EngineVersion,
		GateWaitDuration,
		GateAdmittedTotal,
		SignalBusQueueDepth,
		SignalsDroppedTotal,
		CriticalPathDuration,
		MaterializerEnsureDuration,
		MaterializerPathsTotal,
		MaterializerErrorsTotal,
		SQLStoreWriteDuration,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
