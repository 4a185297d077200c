// Package observability exports graph runs to Prometheus, OpenTelemetry and
// structured logs.
//
// Each integration is a set of graph callbacks:
//
//	m, _ := observability.NewMetrics(prometheus.DefaultRegisterer, "taskgraph")
//	t := observability.NewTracer(otel.GetTracerProvider())
//	g, _ := b.Compile(graph.WithCallbacks(append(m.Callbacks(), t.Callbacks()...)...))
package observability
