package coordinator

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/taskgraph/core"
	"github.com/hupe1980/taskgraph/graph"
	"github.com/hupe1980/taskgraph/logging"
	"github.com/hupe1980/taskgraph/memory"
	"github.com/hupe1980/taskgraph/retry"
)

// State fields written by the planner graph.
const (
	FieldRequest   = "request"
	FieldPlan      = "plan"
	FieldItinerary = "itinerary"
)

// Node ids of the planner graph.
const (
	NodeCoordinator = "coordinator"
	NodeDelegator   = "delegator"
	NodeAssemble    = "assemble"
)

// Options configures a Planner.
type Options struct {
	Parser Parser
	// Selectors map categories to selection policies.
	Selectors map[string]Selector
	// Policy is used by workers that declare none.
	Policy retry.Policy
	// Limiter, when set, paces every collaborator call.
	Limiter        *rate.Limiter
	MaxConcurrency int
	Timeout        time.Duration
	// MaxSteps overrides the engine step bound when positive.
	MaxSteps int
	// Memory, when set, records requests and itineraries as interactions.
	Memory    *memory.Store
	Callbacks []graph.Callback
	TraceSink graph.TraceSink
	Logger    logging.Logger
}

// Planner turns travel requests into itineraries: a coordinator parses the
// request into a Plan, a delegator fans it out to the workers and an
// assemble node applies the selection policies.
type Planner struct {
	*core.LoggerAdapter
	workers    []Worker
	categories []string
	graph      *graph.Graph
	opts       Options
}

// New compiles the planner graph for workers.
func New(workers []Worker, optFns ...func(o *Options)) (*Planner, error) {
	if len(workers) == 0 {
		return nil, fmt.Errorf("coordinator: at least one worker is required")
	}

	opts := Options{
		Parser:    NewRuleParser(),
		Selectors: DefaultSelectors(),
		Policy:    retry.DefaultPolicy,
		Logger:    logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	p := &Planner{
		LoggerAdapter: core.NewLoggerAdapter(opts.Logger),
		opts:          opts,
	}

	names := map[string]bool{}
	cats := map[string]bool{}

	for _, w := range workers {
		if err := w.validate(); err != nil {
			return nil, err
		}

		switch w.Category {
		case FieldRequest, FieldPlan, FieldItinerary:
			return nil, fmt.Errorf("coordinator: category %q is reserved", w.Category)
		}

		if names[w.Name] || cats[w.Category] {
			return nil, fmt.Errorf("coordinator: duplicate worker %q or category %q", w.Name, w.Category)
		}

		names[w.Name], cats[w.Category] = true, true

		if w.Policy.MaxAttempts == 0 {
			w.Policy = opts.Policy
		}

		p.workers = append(p.workers, w)
		p.categories = append(p.categories, w.Category)
	}

	b := graph.NewBuilder().
		AddNode(NodeCoordinator, core.TaskFunc(p.coordinate), graph.WithRequires(FieldRequest)).
		AddNode(NodeDelegator, core.TaskFunc(delegate), graph.WithRequires(FieldPlan)).
		AddEdge(NodeCoordinator, NodeDelegator)

	// a single worker is a plain chain; fan-in needs at least two branches
	var assembleOpts []graph.NodeOption
	if len(p.workers) > 1 {
		assembleOpts = append(assembleOpts, graph.AsMerge())
	}

	b.AddNode(NodeAssemble, core.TaskFunc(p.assemble), append(assembleOpts, graph.WithRequires(FieldPlan))...)

	for _, w := range p.workers {
		b.AddNode(w.Name, w.task(opts.Logger, opts.Limiter), graph.WithPartialFailure()).
			AddEdge(NodeDelegator, w.Name).
			AddEdge(w.Name, NodeAssemble)
	}

	graphOpts := []func(o *graph.Options){
		graph.WithLogger(opts.Logger),
		graph.WithCallbacks(opts.Callbacks...),
		graph.WithMaxConcurrency(opts.MaxConcurrency),
	}
	if opts.MaxSteps > 0 {
		graphOpts = append(graphOpts, graph.WithMaxSteps(opts.MaxSteps))
	}
	if opts.TraceSink != nil {
		graphOpts = append(graphOpts, graph.WithTraceSink(opts.TraceSink))
	}

	g, err := b.SetEntry(NodeCoordinator).SetTerminals(NodeAssemble).Compile(graphOpts...)
	if err != nil {
		return nil, err
	}

	p.graph = g

	return p, nil
}

// Graph returns the compiled planner graph.
func (p *Planner) Graph() *graph.Graph { return p.graph }

// Run plans request. The trace is returned even when the run fails.
func (p *Planner) Run(ctx context.Context, request string) (*Itinerary, *core.Trace, error) {
	if p.opts.Memory != nil {
		p.opts.Memory.AddInteraction("user", request)
	}

	var invokeOpts []func(o *graph.InvokeOptions)
	if p.opts.Timeout > 0 {
		invokeOpts = append(invokeOpts, graph.Timeout(p.opts.Timeout))
	}

	initial := core.NewState()
	if strings.TrimSpace(request) != "" {
		initial.Set(FieldRequest, request)
	}

	final, trace, err := p.graph.Invoke(ctx, initial, invokeOpts...)
	if err != nil {
		return nil, trace, err
	}

	it, ok := core.Get[*Itinerary](final, FieldItinerary)
	if !ok {
		return nil, trace, fmt.Errorf("coordinator: run produced no itinerary")
	}

	if p.opts.Memory != nil {
		p.opts.Memory.AddInteraction("assistant", it.Summary())
	}

	p.LogInfo("coordinator.planned", "destination", it.Plan.Destination, "missing", len(it.Missing))

	return it, trace, nil
}

func (p *Planner) coordinate(_ context.Context, s *core.State) (*core.State, error) {
	plan := p.opts.Parser.Parse(core.GetString(s, FieldRequest))
	s.Set(FieldPlan, plan)

	p.LogDebug("coordinator.plan", "origin", plan.Origin, "destination", plan.Destination, "max_price", plan.MaxPrice, "preference", plan.Preference)

	return s, nil
}

func delegate(_ context.Context, s *core.State) (*core.State, error) {
	return s, nil
}

func (p *Planner) assemble(_ context.Context, s *core.State) (*core.State, error) {
	plan, ok := core.Get[Plan](s, FieldPlan)
	if !ok {
		return nil, core.Fatal(&core.StateContractError{Node: NodeAssemble, Missing: []string{FieldPlan}})
	}

	results := make(map[string][]Option, len(p.categories))

	for _, cat := range p.categories {
		if options, ok := core.Get[[]Option](s, cat); ok {
			results[cat] = options
		}
	}

	s.Set(FieldItinerary, assemble(plan, p.categories, results, p.opts.Selectors))

	return s, nil
}

// Summary renders a one-line description of the itinerary.
func (it *Itinerary) Summary() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s -> %s:", it.Plan.Origin, it.Plan.Destination)

	for _, cat := range slices.Sorted(maps.Keys(it.Selected)) {
		fmt.Fprintf(&sb, " %s=%s;", cat, label(it.Selected[cat]))
	}

	for _, cat := range slices.Sorted(maps.Keys(it.Collections)) {
		fmt.Fprintf(&sb, " %s=%d;", cat, len(it.Collections[cat]))
	}

	if len(it.Missing) > 0 {
		fmt.Fprintf(&sb, " missing=%s", strings.Join(it.Missing, ","))
	}

	return strings.TrimSuffix(sb.String(), ";")
}

func label(o Option) string {
	for _, f := range []string{"name", "airline", "id"} {
		if s := o.String(f); s != "" {
			return s
		}
	}

	return fmt.Sprintf("%v", map[string]any(o))
}
