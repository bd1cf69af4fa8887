/*
Package observability turns engine lifecycle hooks into Prometheus metrics and
structured log records.

Both are plain domain.LifecycleHooks values; combine them with Merge and pass
the result to tether.WithLifecycleHooks:

	metrics := observability.NewMetrics()
	hooks := metrics.Hooks().Merge(observability.LogHooks(logger))
	app, err := tether.New(root, tether.WithLifecycleHooks(hooks))

Metrics.Handler serves the metrics in the Prometheus text format.
*/
package observability
