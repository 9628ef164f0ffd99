/*
Package metrics provides Prometheus metrics collection and exposition for
anvil's core components.

Metrics are package-level prometheus.Collectors, registered at package init
against the default registry, and exposed over HTTP via Handler(). Components
(Engine, ConcurrencyGate, SignalBus, Materializer) observe their own metrics
directly rather than through a polling collector, since all of their state
transitions already happen on an explicit call path — there is no separate
background poll loop the way Warren's Collector periodically re-lists cluster
state.

# Usage

	http.Handle("/metrics", metrics.Handler())

	timer := metrics.NewTimer()
	v, err := engine.Eval(ctx, key, txn)
	timer.ObserveDuration(metrics.EngineEvalDuration)
*/
package metrics
