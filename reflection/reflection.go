package reflection

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/taskgraph/core"
	"github.com/hupe1980/taskgraph/graph"
	"github.com/hupe1980/taskgraph/logging"
	"github.com/hupe1980/taskgraph/memory"
	"github.com/hupe1980/taskgraph/retry"
)

// State fields used by the loop.
const (
	FieldTask      = "task"
	FieldDraft     = "draft"
	FieldCritique  = "critique"
	FieldScore     = "score"
	FieldIteration = "iteration"
	FieldHistory   = "history"
	FieldOutput    = "output"
)

// Node ids of the loop graph.
const (
	NodeGenerate = "generate"
	NodeCritique = "critique"
	NodeFinalize = "finalize"
)

const (
	routeRevise = "revise"
	routeDone   = "done"
)

// Options configures a Controller.
type Options struct {
	// Threshold is the score at which a draft is accepted.
	Threshold float64
	// MaxIterations caps generate/critique passes.
	MaxIterations int
	// Policy governs retries of the generator.
	Policy retry.Policy
	// MaxSteps raises the engine step bound above 2*MaxIterations+1.
	MaxSteps int
	Timeout  time.Duration
	// Memory, when set, receives the task and the final output.
	Memory    *memory.Store
	Callbacks []graph.Callback
	// TraceSink, when set, persists the trace of every run.
	TraceSink graph.TraceSink
	Logger    logging.Logger
}

// DefaultOptions are applied before user options.
var DefaultOptions = Options{
	Threshold:     8,
	MaxIterations: 3,
	Policy:        retry.DefaultPolicy,
	Logger:        logging.NoOpLogger{},
}

// Result summarizes a finished loop.
type Result struct {
	Output     string
	Iterations int
	Score      float64
	Critique   string
	History    []string
	State      *core.State
	Trace      *core.Trace
}

// Controller runs a generate, critique and route cycle until the draft
// scores at least the threshold or the iteration cap is reached.
type Controller struct {
	*core.LoggerAdapter
	gen    Generator
	critic Critic
	graph  *graph.Graph
	opts   Options
}

// New compiles the loop graph.
func New(gen Generator, critic Critic, optFns ...func(o *Options)) (*Controller, error) {
	if gen == nil || critic == nil {
		return nil, fmt.Errorf("reflection: generator and critic are required")
	}

	opts := DefaultOptions
	opts.Callbacks = nil

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxIterations <= 0 {
		return nil, fmt.Errorf("reflection: max iterations must be positive, got %d", opts.MaxIterations)
	}

	if opts.Threshold < 0 || opts.Threshold > MaxScore {
		return nil, fmt.Errorf("reflection: threshold %.2f outside [0, %.0f]", opts.Threshold, MaxScore)
	}

	c := &Controller{
		LoggerAdapter: core.NewLoggerAdapter(opts.Logger),
		gen:           gen,
		critic:        critic,
		opts:          opts,
	}

	generate := retry.Wrap(core.TaskFunc(c.generate), opts.Policy, func(o *retry.Options) {
		o.Logger = opts.Logger
		o.Name = NodeGenerate
	})

	g, err := graph.NewBuilder().
		AddNode(NodeGenerate, generate, graph.WithRequires(FieldTask)).
		AddNode(NodeCritique, core.TaskFunc(c.critique), graph.WithRequires(FieldDraft)).
		AddNode(NodeFinalize, core.TaskFunc(c.finalize), graph.WithRequires(FieldDraft)).
		AddEdge(NodeGenerate, NodeCritique).
		AddConditionalEdges(NodeCritique, c.route, map[string]string{
			routeRevise: NodeGenerate,
			routeDone:   NodeFinalize,
		}).
		SetEntry(NodeGenerate).
		SetTerminals(NodeFinalize).
		Compile(
			graph.WithLogger(opts.Logger),
			graph.WithCallbacks(opts.Callbacks...),
			graph.WithMaxSteps(c.maxSteps()),
			graph.WithTraceSink(opts.TraceSink),
		)
	if err != nil {
		return nil, err
	}

	c.graph = g

	return c, nil
}

func (c *Controller) maxSteps() int {
	return max(2*c.opts.MaxIterations+1, c.opts.MaxSteps)
}

// Graph returns the compiled loop graph.
func (c *Controller) Graph() *graph.Graph { return c.graph }

// Run executes the loop for task. On failure the returned Result still
// carries the partial state and trace.
func (c *Controller) Run(ctx context.Context, task string) (*Result, error) {
	if c.opts.Memory != nil {
		c.opts.Memory.AddInteraction("user", task)
	}

	initial := core.NewState()
	if task != "" {
		initial.Set(FieldTask, task)
	}

	initial.Set(FieldIteration, 0)

	invokeOpts := []func(o *graph.InvokeOptions){graph.MaxSteps(c.maxSteps())}
	if c.opts.Timeout > 0 {
		invokeOpts = append(invokeOpts, graph.Timeout(c.opts.Timeout))
	}

	final, trace, err := c.graph.Invoke(ctx, initial, invokeOpts...)

	res := &Result{
		Output:     core.GetString(final, FieldOutput),
		Iterations: core.GetInt(final, FieldIteration),
		Score:      core.GetFloat(final, FieldScore),
		Critique:   core.GetString(final, FieldCritique),
		History:    history(final),
		State:      final,
		Trace:      trace,
	}

	if err != nil {
		return res, err
	}

	c.LogInfo("reflection.completed", "iterations", res.Iterations, "score", res.Score)

	return res, nil
}

func (c *Controller) generate(ctx context.Context, s *core.State) (*core.State, error) {
	in := GenerateInput{
		Task:      core.GetString(s, FieldTask),
		Draft:     core.GetString(s, FieldDraft),
		Critique:  core.GetString(s, FieldCritique),
		Iteration: core.GetInt(s, FieldIteration) + 1,
	}

	draft, err := c.gen.Generate(ctx, in)
	if err != nil {
		if core.IsFatal(err) {
			return nil, fmt.Errorf("generate: %w", err)
		}

		return nil, core.Transient(fmt.Errorf("generate: %w", err))
	}

	s.Set(FieldDraft, draft)
	s.Set(FieldIteration, in.Iteration)

	return s, nil
}

func (c *Controller) critique(ctx context.Context, s *core.State) (*core.State, error) {
	draft := core.GetString(s, FieldDraft)
	iteration := core.GetInt(s, FieldIteration)

	v, err := c.critic.Critique(ctx, core.GetString(s, FieldTask), draft)
	if err != nil {
		return nil, core.Fatal(fmt.Errorf("critique: %w", err))
	}

	score := min(max(v.Score, 0), MaxScore)

	s.Set(FieldScore, score)
	s.Set(FieldCritique, v.Critique)

	entry := fmt.Sprintf("Iter %d: proposed %q (score=%.2f)", iteration, abbreviate(draft, 60), score)
	s.Set(FieldHistory, append(history(s), entry))

	c.LogDebug("reflection.critique", "iteration", iteration, "score", score)

	return s, nil
}

func (c *Controller) route(s *core.State) string {
	if core.GetFloat(s, FieldScore) >= c.opts.Threshold || core.GetInt(s, FieldIteration) >= c.opts.MaxIterations {
		return routeDone
	}

	return routeRevise
}

func (c *Controller) finalize(ctx context.Context, s *core.State) (*core.State, error) {
	output := core.GetString(s, FieldDraft)
	s.Set(FieldOutput, output)

	if c.opts.Memory == nil {
		return s, nil
	}

	c.opts.Memory.AddInteraction("assistant", output)

	if strings.TrimSpace(output) == "" {
		c.LogWarn("reflection.output.empty", "task", core.GetString(s, FieldTask))
		return s, nil
	}

	if _, err := c.opts.Memory.Remember(ctx, output,
		memory.WithMetadata("kind", "reflection"),
		memory.WithMetadata(FieldTask, core.GetString(s, FieldTask)),
	); err != nil {
		return nil, core.Fatal(fmt.Errorf("remember output: %w", err))
	}

	return s, nil
}

// history returns a copy of the history field so appends never share the
// backing array of an earlier state.
func history(s *core.State) []string {
	h, _ := core.Get[[]string](s, FieldHistory)
	return append([]string(nil), h...)
}

func abbreviate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}

	return string(r[:n]) + "..."
}
