package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hupe1980/taskgraph/core"
	"github.com/hupe1980/taskgraph/graph"
	tgtest "github.com/hupe1980/taskgraph/internal/testutil"
	"github.com/hupe1980/taskgraph/logging"
	"github.com/hupe1980/taskgraph/retry"
)

func fanOutGraph(t *testing.T, cbs ...graph.Callback) *graph.Graph {
	t.Helper()

	flaky := tgtest.NewFlakyTask(2, tgtest.SetTask("a", true))

	g, err := graph.NewBuilder().
		AddNode("a", retry.Wrap(flaky, retry.Immediate(3))).
		AddNode("b", tgtest.SetTask("b", true)).
		AddNode("c", tgtest.SetTask("c", true)).
		AddMergeNode("m", tgtest.Noop()).
		AddFanOut("a", "b", "c").
		AddEdge("b", "m").
		AddEdge("c", "m").
		SetEntry("a").
		SetTerminals("m").
		Compile(graph.WithCallbacks(cbs...))
	require.NoError(t, err)

	return g
}

func failingGraph(t *testing.T, cbs ...graph.Callback) *graph.Graph {
	t.Helper()

	g, err := graph.NewBuilder().
		AddNode("x", tgtest.FailTask(core.Fatal(assert.AnError))).
		SetEntry("x").
		SetTerminals("x").
		Compile(graph.WithCallbacks(cbs...))
	require.NoError(t, err)

	return g
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()

	m, err := NewMetrics(reg, "tg")
	require.NoError(t, err)

	_, _, err = fanOutGraph(t, m.Callbacks()...).Invoke(context.Background(), nil)
	require.NoError(t, err)

	_, _, err = failingGraph(t, m.Callbacks()...).Invoke(context.Background(), nil)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues(statusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues(statusError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NodeExecutions.WithLabelValues("a", statusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NodeExecutions.WithLabelValues("m", statusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NodeExecutions.WithLabelValues("x", statusError)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AttemptsTotal.WithLabelValues("a", statusError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AttemptsTotal.WithLabelValues("a", statusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MergesTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RunDuration))
	assert.Equal(t, uint64(2), histogramCount(t, reg, "tg_run_duration_seconds"))
}

func histogramCount(t *testing.T, g prometheus.Gatherer, name string) uint64 {
	t.Helper()

	families, err := g.Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}

		var n uint64
		for _, m := range mf.GetMetric() {
			n += m.GetHistogram().GetSampleCount()
		}

		return n
	}

	t.Fatalf("metric %s not gathered", name)

	return 0
}

func TestNewMetrics_AlreadyRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()

	m1, err := NewMetrics(reg, "tg")
	require.NoError(t, err)

	m2, err := NewMetrics(reg, "tg")
	require.NoError(t, err)

	m2.MergesTotal.Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(m1.MergesTotal), "second instance shares the collectors")
}

func newRecorder() (*sdktrace.TracerProvider, *tracetest.SpanRecorder) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	return tp, sr
}

func spansNamed(spans []sdktrace.ReadOnlySpan, name string) []sdktrace.ReadOnlySpan {
	var out []sdktrace.ReadOnlySpan

	for _, s := range spans {
		if s.Name() == name {
			out = append(out, s)
		}
	}

	return out
}

func TestTracer(t *testing.T) {
	tp, sr := newRecorder()
	tr := NewTracer(tp)

	_, _, err := fanOutGraph(t, tr.Callbacks()...).Invoke(context.Background(), nil, graph.RunID("r1"))
	require.NoError(t, err)

	ended := sr.Ended()

	runs := spansNamed(ended, "graph.run")
	require.Len(t, runs, 1)
	assert.Equal(t, codes.Ok, runs[0].Status().Code)
	require.Len(t, runs[0].Events(), 1)
	assert.Equal(t, "graph.merge", runs[0].Events()[0].Name)

	nodes := spansNamed(ended, "graph.node")
	require.Len(t, nodes, 4)

	for _, n := range nodes {
		assert.Equal(t, runs[0].SpanContext().SpanID(), n.Parent().SpanID())
	}

	var attempts int

	for _, n := range nodes {
		for _, ev := range n.Events() {
			if ev.Name == "retry.attempt" {
				attempts++
			}
		}
	}

	assert.Equal(t, 3, attempts)
	assert.Empty(t, tr.runs)
}

func TestTracer_Failure(t *testing.T) {
	tp, sr := newRecorder()
	tr := NewTracer(tp)

	_, _, err := failingGraph(t, tr.Callbacks()...).Invoke(context.Background(), nil)
	require.Error(t, err)

	ended := sr.Ended()

	nodes := spansNamed(ended, "graph.node")
	require.Len(t, nodes, 1)
	assert.Equal(t, codes.Error, nodes[0].Status().Code)

	runs := spansNamed(ended, "graph.run")
	require.Len(t, runs, 1)
	assert.Equal(t, codes.Error, runs[0].Status().Code)
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()

	var out []map[string]any

	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}

	return out
}

func countMsg(lines []map[string]any, msg string) int {
	n := 0

	for _, l := range lines {
		if l["msg"] == msg {
			n++
		}
	}

	return n
}

func TestRunLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	rl := NewRunLogger(logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.LogLevelDebug,
		Format: "json",
		Output: buf,
	}))

	_, trace, err := fanOutGraph(t, rl.Callbacks()...).Invoke(context.Background(), nil)
	require.NoError(t, err)

	lines := logLines(t, buf)
	assert.Equal(t, 4, countMsg(lines, "graph.node.completed"))
	assert.Equal(t, 2, countMsg(lines, "retry.attempt.failed"))
	require.Equal(t, 1, countMsg(lines, "graph.run.completed"))

	last := lines[len(lines)-1]
	assert.Equal(t, "graph.run.completed", last["msg"])
	assert.Equal(t, "graph", last["component"])
	assert.Equal(t, trace.RunID(), last["run_id"])
	assert.Equal(t, 4.0, last["step_count"])
}

func TestRunLogger_Failure(t *testing.T) {
	buf := &bytes.Buffer{}
	rl := NewRunLogger(logging.NewLogger(&logging.LoggerConfig{Format: "json", Output: buf}))

	_, _, err := failingGraph(t, rl.Callbacks()...).Invoke(context.Background(), nil)
	require.Error(t, err)

	lines := logLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "graph.node.failed", lines[0]["msg"])
	assert.Equal(t, "x", lines[0]["node"])
	assert.Equal(t, "graph.run.failed", lines[1]["msg"])
}
