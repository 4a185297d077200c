package observability

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/taskgraph/graph"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Metrics holds the Prometheus collectors fed by graph callbacks.
type Metrics struct {
	RunsTotal      *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	NodeExecutions *prometheus.CounterVec
	NodeDuration   *prometheus.HistogramVec
	AttemptsTotal  *prometheus.CounterVec
	MergesTotal    prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of graph runs",
			},
			[]string{"status"},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Graph run duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),
		NodeExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_executions_total",
				Help:      "Total number of node executions",
			},
			[]string{"node", "status"},
		),
		NodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_duration_seconds",
				Help:      "Node execution duration in seconds",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"node"},
		),
		AttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Total number of resilient invoker attempts",
			},
			[]string{"node", "status"},
		),
		MergesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "merges_total",
				Help:      "Total number of fan-in merges",
			},
		),
	}

	var err error

	if m.RunsTotal, err = register(reg, m.RunsTotal); err != nil {
		return nil, err
	}

	if m.RunDuration, err = register(reg, m.RunDuration); err != nil {
		return nil, err
	}

	if m.NodeExecutions, err = register(reg, m.NodeExecutions); err != nil {
		return nil, err
	}

	if m.NodeDuration, err = register(reg, m.NodeDuration); err != nil {
		return nil, err
	}

	if m.AttemptsTotal, err = register(reg, m.AttemptsTotal); err != nil {
		return nil, err
	}

	if m.MergesTotal, err = register(reg, m.MergesTotal); err != nil {
		return nil, err
	}

	return m, nil
}

// register adds c to reg, reusing an identical collector registered earlier.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}

		return c, err
	}

	return c, nil
}

// Callbacks returns the graph callbacks that update the collectors.
func (m *Metrics) Callbacks() []graph.Callback {
	return []graph.Callback{
		graph.NewFunctionCallback(graph.CallbackAfterNode, m.afterNode),
		graph.NewFunctionCallback(graph.CallbackOnError, m.onError),
		graph.NewFunctionCallback(graph.CallbackOnAttempt, m.onAttempt),
		graph.NewFunctionCallback(graph.CallbackOnMerge, m.onMerge),
		graph.NewFunctionCallback(graph.CallbackAfterRun, m.afterRun),
	}
}

func (m *Metrics) afterNode(_ context.Context, cc *graph.CallbackContext) error {
	m.NodeExecutions.WithLabelValues(cc.NodeID, statusSuccess).Inc()
	m.NodeDuration.WithLabelValues(cc.NodeID).Observe(cc.Duration.Seconds())

	return nil
}

func (m *Metrics) onError(_ context.Context, cc *graph.CallbackContext) error {
	// run-level failures are counted in afterRun
	if cc.NodeID == "" || cc.Step == nil {
		return nil
	}

	m.NodeExecutions.WithLabelValues(cc.NodeID, statusError).Inc()
	m.NodeDuration.WithLabelValues(cc.NodeID).Observe(cc.Duration.Seconds())

	return nil
}

func (m *Metrics) onAttempt(_ context.Context, cc *graph.CallbackContext) error {
	status := statusSuccess
	if cc.Step != nil && cc.Step.Failed() {
		status = statusError
	}

	m.AttemptsTotal.WithLabelValues(cc.NodeID, status).Inc()

	return nil
}

func (m *Metrics) onMerge(context.Context, *graph.CallbackContext) error {
	m.MergesTotal.Inc()
	return nil
}

func (m *Metrics) afterRun(_ context.Context, cc *graph.CallbackContext) error {
	status := statusSuccess
	if cc.Err != nil {
		status = statusError
	}

	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(cc.Duration.Seconds())

	return nil
}
