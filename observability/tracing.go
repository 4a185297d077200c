package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/taskgraph/graph"
)

// TracerName is the instrumentation name used for spans.
const TracerName = "github.com/hupe1980/taskgraph"

// Tracer turns graph runs into OpenTelemetry spans: one "graph.run" span per
// run with a "graph.node" child per node execution. Retry attempts and merges
// become span events.
type Tracer struct {
	tracer trace.Tracer

	mu   sync.Mutex
	runs map[string]*runSpans
}

type runSpans struct {
	span  trace.Span
	ctx   context.Context
	nodes map[string]trace.Span
}

// NewTracer creates a Tracer from tp.
func NewTracer(tp trace.TracerProvider) *Tracer {
	return &Tracer{
		tracer: tp.Tracer(TracerName),
		runs:   make(map[string]*runSpans),
	}
}

// Callbacks returns the graph callbacks that record spans.
func (t *Tracer) Callbacks() []graph.Callback {
	return []graph.Callback{
		graph.NewFunctionCallback(graph.CallbackBeforeRun, t.beforeRun),
		graph.NewFunctionCallback(graph.CallbackBeforeNode, t.beforeNode),
		graph.NewFunctionCallback(graph.CallbackAfterNode, t.afterNode),
		graph.NewFunctionCallback(graph.CallbackOnAttempt, t.onAttempt),
		graph.NewFunctionCallback(graph.CallbackOnMerge, t.onMerge),
		graph.NewFunctionCallback(graph.CallbackOnError, t.onError),
		graph.NewFunctionCallback(graph.CallbackAfterRun, t.afterRun),
	}
}

func nodeKey(cc *graph.CallbackContext) string {
	return cc.Branch + "/" + cc.NodeID
}

func (t *Tracer) beforeRun(ctx context.Context, cc *graph.CallbackContext) error {
	spanCtx, span := t.tracer.Start(ctx, "graph.run", trace.WithAttributes(
		attribute.String("graph.run_id", cc.RunID),
	))

	t.mu.Lock()
	t.runs[cc.RunID] = &runSpans{span: span, ctx: spanCtx, nodes: map[string]trace.Span{}}
	t.mu.Unlock()

	return nil
}

func (t *Tracer) beforeNode(ctx context.Context, cc *graph.CallbackContext) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rs, ok := t.runs[cc.RunID]
	if ok {
		ctx = rs.ctx
	}

	attrs := []attribute.KeyValue{
		attribute.String("graph.run_id", cc.RunID),
		attribute.String("graph.node", cc.NodeID),
	}
	if cc.Branch != "" {
		attrs = append(attrs, attribute.String("graph.branch", cc.Branch))
	}

	_, span := t.tracer.Start(ctx, "graph.node", trace.WithAttributes(attrs...))

	if !ok {
		// run started before the tracer was attached
		rs = &runSpans{nodes: map[string]trace.Span{}}
		t.runs[cc.RunID] = rs
	}

	rs.nodes[nodeKey(cc)] = span

	return nil
}

func (t *Tracer) takeNode(cc *graph.CallbackContext) trace.Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	rs, ok := t.runs[cc.RunID]
	if !ok {
		return nil
	}

	key := nodeKey(cc)
	span := rs.nodes[key]
	delete(rs.nodes, key)

	return span
}

func (t *Tracer) afterNode(_ context.Context, cc *graph.CallbackContext) error {
	if span := t.takeNode(cc); span != nil {
		if cc.Step != nil && cc.Step.Retries > 0 {
			span.SetAttributes(attribute.Int("graph.retries", cc.Step.Retries))
		}

		span.SetStatus(codes.Ok, "")
		span.End()
	}

	return nil
}

func (t *Tracer) onAttempt(_ context.Context, cc *graph.CallbackContext) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rs, ok := t.runs[cc.RunID]
	if !ok || cc.Step == nil {
		return nil
	}

	span, ok := rs.nodes[nodeKey(cc)]
	if !ok {
		return nil
	}

	attrs := []attribute.KeyValue{attribute.Int("attempt", cc.Step.Attempt)}
	if cc.Step.Failed() {
		attrs = append(attrs, attribute.String("error", cc.Step.Err))
	}

	span.AddEvent("retry.attempt", trace.WithAttributes(attrs...))

	return nil
}

func (t *Tracer) onMerge(_ context.Context, cc *graph.CallbackContext) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rs, ok := t.runs[cc.RunID]; ok && rs.span != nil {
		rs.span.AddEvent("graph.merge", trace.WithAttributes(attribute.String("graph.node", cc.NodeID)))
	}

	return nil
}

func (t *Tracer) onError(_ context.Context, cc *graph.CallbackContext) error {
	if cc.NodeID == "" || cc.Err == nil {
		return nil
	}

	if span := t.takeNode(cc); span != nil {
		span.RecordError(cc.Err)
		span.SetStatus(codes.Error, cc.Err.Error())
		span.End()
	}

	return nil
}

func (t *Tracer) afterRun(_ context.Context, cc *graph.CallbackContext) error {
	t.mu.Lock()
	rs, ok := t.runs[cc.RunID]
	delete(t.runs, cc.RunID)
	t.mu.Unlock()

	if !ok {
		return nil
	}

	// node spans left open by a failing callback
	for _, span := range rs.nodes {
		span.End()
	}

	if rs.span == nil {
		return nil
	}

	if cc.Err != nil {
		rs.span.RecordError(cc.Err)
		rs.span.SetStatus(codes.Error, cc.Err.Error())
	} else {
		rs.span.SetStatus(codes.Ok, "")
	}

	rs.span.End()

	return nil
}
