package core

import (
	"context"
	"sync"
	"time"
)

// StepKind classifies a trace entry.
type StepKind string

const (
	// StepNode records one execution of a node's task.
	StepNode StepKind = "node"
	// StepAttempt records one call made by a resilient invoker.
	StepAttempt StepKind = "attempt"
	// StepRoute records the label chosen by a conditional edge.
	StepRoute StepKind = "route"
	// StepMerge records a fan-in merge.
	StepMerge StepKind = "merge"
)

// TraceStep is one immutable entry of an execution trace.
type TraceStep struct {
	Seq      int            `json:"seq"`
	Kind     StepKind       `json:"kind"`
	NodeID   string         `json:"node_id"`
	Branch   string         `json:"branch,omitempty"`
	Attempt  int            `json:"attempt,omitempty"`
	Retries  int            `json:"retries,omitempty"`
	Route    string         `json:"route,omitempty"`
	Target   string         `json:"target,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
	Output   map[string]any `json:"output,omitempty"`
	Start    time.Time      `json:"start"`
	Duration time.Duration  `json:"duration"`
	Err      string         `json:"error,omitempty"`
}

// Failed reports whether the step recorded an error.
func (s TraceStep) Failed() bool { return s.Err != "" }

// Trace is the append-only record of a run. Appends are safe from concurrent
// branches; recorded steps are never modified.
type Trace struct {
	mu    sync.Mutex
	runID string
	steps []TraceStep
}

// NewTrace creates an empty trace for the given run.
func NewTrace(runID string) *Trace {
	return &Trace{runID: runID}
}

// RunID returns the id of the run this trace belongs to.
func (t *Trace) RunID() string { return t.runID }

// Append adds a step, assigning its sequence number, and returns the stored copy.
func (t *Trace) Append(step TraceStep) TraceStep {
	t.mu.Lock()
	defer t.mu.Unlock()

	step.Seq = len(t.steps) + 1
	t.steps = append(t.steps, step)

	return step
}

// Steps returns a copy of all recorded steps.
func (t *Trace) Steps() []TraceStep {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]TraceStep, len(t.steps))
	copy(out, t.steps)

	return out
}

// Len returns the number of recorded steps.
func (t *Trace) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.steps)
}

// Filter returns the steps of the given kind.
func (t *Trace) Filter(kind StepKind) []TraceStep {
	var out []TraceStep

	for _, s := range t.Steps() {
		if s.Kind == kind {
			out = append(out, s)
		}
	}

	return out
}

// Nodes returns the ids of executed nodes in execution order.
func (t *Trace) Nodes() []string {
	var out []string
	for _, s := range t.Filter(StepNode) {
		out = append(out, s.NodeID)
	}

	return out
}

// Attempts returns the attempt steps recorded for node.
func (t *Trace) Attempts(node string) []TraceStep {
	var out []TraceStep

	for _, s := range t.Filter(StepAttempt) {
		if s.NodeID == node {
			out = append(out, s)
		}
	}

	return out
}

// NodeInfo identifies the node execution a task runs in.
type NodeInfo struct {
	RunID  string
	NodeID string
	Branch string
}

// Recorder receives attempt steps from code running inside a node.
type Recorder interface {
	RecordAttempt(ctx context.Context, step TraceStep)
}

type nodeInfoKey struct{}

type recorderKey struct{}

// WithNodeInfo returns a context carrying info.
func WithNodeInfo(ctx context.Context, info NodeInfo) context.Context {
	return context.WithValue(ctx, nodeInfoKey{}, info)
}

// NodeInfoFromContext returns the node execution the context belongs to.
func NodeInfoFromContext(ctx context.Context) (NodeInfo, bool) {
	info, ok := ctx.Value(nodeInfoKey{}).(NodeInfo)
	return info, ok
}

// WithRecorder returns a context carrying rec.
func WithRecorder(ctx context.Context, rec Recorder) context.Context {
	return context.WithValue(ctx, recorderKey{}, rec)
}

// RecorderFromContext returns the recorder of the current node execution, if any.
func RecorderFromContext(ctx context.Context) Recorder {
	rec, _ := ctx.Value(recorderKey{}).(Recorder)
	return rec
}
