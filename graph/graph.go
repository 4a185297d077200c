package graph

import (
	"context"
	"time"

	"github.com/hupe1980/taskgraph/core"
	"github.com/hupe1980/taskgraph/logging"
)

// End is the reserved target that finishes a run after the routing node.
const End = "__end__"

// DefaultMaxSteps bounds the node executions of a run unless overridden.
const DefaultMaxSteps = 25

// RouteFunc selects the label of the next edge from the post-node state.
type RouteFunc func(state *core.State) string

// Node is a registered unit of work.
type Node struct {
	ID   string
	Task core.Task
	// Requires lists the state fields that must be present on entry.
	Requires []string
	// Merge marks the fan-in node of a fan-out.
	Merge bool
	// PartialFailure lets the node fail with RetryExhausted without failing
	// the run; its writes are dropped (see WithPartialFailure).
	PartialFailure bool
}

// Edge connects nodes. A static edge sets To; a conditional edge sets Route
// and Targets (label to node id or End).
type Edge struct {
	From    string
	To      string
	Route   RouteFunc
	Targets map[string]string
}

// StaticEdge returns an unconditional edge.
func StaticEdge(from, to string) Edge {
	return Edge{From: from, To: to}
}

// ConditionalEdge returns an edge whose successor is chosen by route.
func ConditionalEdge(from string, route RouteFunc, targets map[string]string) Edge {
	return Edge{From: from, Route: route, Targets: targets}
}

// TraceSink receives the trace of every finished run.
type TraceSink interface {
	SaveTrace(ctx context.Context, trace *core.Trace) error
}

// Options configures a compiled graph.
type Options struct {
	Logger    logging.Logger
	Callbacks []Callback
	// MaxSteps is the default step bound for Invoke.
	MaxSteps int
	// MaxConcurrency limits simultaneously running fan-out branches; 0 means
	// no limit.
	MaxConcurrency int
	TraceSink      TraceSink
	// RecordSnapshots stores input and output state snapshots in node steps.
	RecordSnapshots bool
}

// DefaultOptions are applied before user options.
var DefaultOptions = Options{
	Logger:          logging.NoOpLogger{},
	MaxSteps:        DefaultMaxSteps,
	RecordSnapshots: true,
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// WithCallbacks registers lifecycle callbacks.
func WithCallbacks(cbs ...Callback) func(o *Options) {
	return func(o *Options) { o.Callbacks = append(o.Callbacks, cbs...) }
}

// WithMaxSteps sets the default step bound.
func WithMaxSteps(n int) func(o *Options) {
	return func(o *Options) { o.MaxSteps = n }
}

// WithMaxConcurrency limits concurrently running branches.
func WithMaxConcurrency(n int) func(o *Options) {
	return func(o *Options) { o.MaxConcurrency = n }
}

// WithTraceSink persists every run's trace.
func WithTraceSink(s TraceSink) func(o *Options) {
	return func(o *Options) { o.TraceSink = s }
}

// InvokeOptions configure a single run.
type InvokeOptions struct {
	MaxSteps int
	Timeout  time.Duration
	Deadline time.Time
	RunID    string
}

// MaxSteps overrides the step bound for one run.
func MaxSteps(n int) func(o *InvokeOptions) {
	return func(o *InvokeOptions) { o.MaxSteps = n }
}

// Timeout bounds the wall-clock duration of one run.
func Timeout(d time.Duration) func(o *InvokeOptions) {
	return func(o *InvokeOptions) { o.Timeout = d }
}

// Deadline sets an absolute deadline for one run.
func Deadline(t time.Time) func(o *InvokeOptions) {
	return func(o *InvokeOptions) { o.Deadline = t }
}

// RunID sets the run identifier instead of generating one.
func RunID(id string) func(o *InvokeOptions) {
	return func(o *InvokeOptions) { o.RunID = id }
}

type conditional struct {
	route   RouteFunc
	targets map[string]string
	labels  []string
}

type fanOut struct {
	merge    string
	branches []branchSpec
}

type branchSpec struct {
	head string
	tail string
	path []string
}

// Graph is a compiled, immutable workflow. A Graph may be invoked
// concurrently.
type Graph struct {
	*core.LoggerAdapter
	nodes     map[string]*Node
	order     []string
	static    map[string][]string
	cond      map[string]*conditional
	entry     string
	terminals map[string]bool
	fanOuts   map[string]*fanOut
	callbacks *CallbackManager
	opts      Options
}

// Entry returns the entry node id.
func (g *Graph) Entry() string { return g.entry }

// Nodes returns the node ids in registration order.
func (g *Graph) Nodes() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)

	return out
}

// Successors returns the static successors of id, or the conditional
// targets in label order.
func (g *Graph) Successors(id string) []string {
	if c, ok := g.cond[id]; ok {
		out := make([]string, 0, len(c.labels))
		for _, l := range c.labels {
			out = append(out, c.targets[l])
		}

		return out
	}

	out := make([]string, len(g.static[id]))
	copy(out, g.static[id])

	return out
}

// IsTerminal reports whether id is a terminal node.
func (g *Graph) IsTerminal(id string) bool { return g.terminals[id] }
