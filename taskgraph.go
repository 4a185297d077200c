// Package taskgraph provides a high-level façade over the graph engine and
// the services built on it (memory, reflection loops, travel planning,
// persistence & observability). Most applications interact with this
// package by:
//  1. Creating a TaskGraph via New() (optionally supplying configuration, an
//     embedder, a persistence backend and callbacks)
//  2. Building a reflection Controller or a travel Planner from it
//  3. Running them, with the shared memory store recording the interactions
//
// All defaults are safe for local development and testing: memory lives in
// process, embeddings are hashed locally and nothing is persisted.
package taskgraph

import (
	"context"
	"fmt"

	"github.com/hupe1980/taskgraph/config"
	"github.com/hupe1980/taskgraph/coordinator"
	"github.com/hupe1980/taskgraph/core"
	"github.com/hupe1980/taskgraph/graph"
	"github.com/hupe1980/taskgraph/logging"
	"github.com/hupe1980/taskgraph/memory"
	"github.com/hupe1980/taskgraph/reflection"
)

// Options configures the TaskGraph instance.
type Options struct {
	// Config supplies retry, graph, memory and reflection settings
	// (defaults to config.Default()).
	Config *config.Config

	// Embedder indexes long-term memory (defaults to the local hash embedder).
	Embedder core.Embedder

	// Snapshotter persists long-term memory across processes.
	Snapshotter memory.Snapshotter

	// TraceSink persists the trace of every run.
	TraceSink graph.TraceSink

	// Callbacks observe every graph built through the façade.
	Callbacks []graph.Callback

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// TaskGraph aggregates the configuration and services shared by the graphs
// it builds.
type TaskGraph struct {
	opts   Options
	memory *memory.Store
}

// New creates a TaskGraph. It fails when the configuration is invalid.
func New(optFns ...func(o *Options)) (*TaskGraph, error) {
	opts := Options{
		Config: config.Default(),
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Config == nil {
		opts.Config = config.Default()
	}

	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}

	mem, err := memory.New(opts.Config.MemoryOptions(), func(o *memory.Options) {
		if opts.Embedder != nil {
			o.Embedder = opts.Embedder
		}

		o.Snapshotter = opts.Snapshotter
		o.Logger = opts.Logger
	})
	if err != nil {
		return nil, fmt.Errorf("taskgraph: memory: %w", err)
	}

	return &TaskGraph{opts: opts, memory: mem}, nil
}

// Memory returns the shared memory store.
func (t *TaskGraph) Memory() *memory.Store { return t.memory }

// Config returns the active configuration.
func (t *TaskGraph) Config() *config.Config { return t.opts.Config }

// GraphOptions returns compile options carrying the configured step bound,
// concurrency limit, callbacks, trace sink and logger.
func (t *TaskGraph) GraphOptions() []func(o *graph.Options) {
	cfg := t.opts.Config

	fns := []func(o *graph.Options){
		graph.WithLogger(t.opts.Logger),
		graph.WithCallbacks(t.opts.Callbacks...),
		graph.WithMaxSteps(cfg.Graph.MaxSteps),
		graph.WithMaxConcurrency(cfg.Graph.MaxConcurrency),
	}

	if t.opts.TraceSink != nil {
		fns = append(fns, graph.WithTraceSink(t.opts.TraceSink))
	}

	return fns
}

// NewReflection builds a reflection controller wired to the shared memory.
func (t *TaskGraph) NewReflection(gen reflection.Generator, critic reflection.Critic, optFns ...func(o *reflection.Options)) (*reflection.Controller, error) {
	base := func(o *reflection.Options) {
		t.opts.Config.ReflectionOptions()(o)
		o.Memory = t.memory
		o.Callbacks = append(o.Callbacks, t.opts.Callbacks...)
		o.TraceSink = t.opts.TraceSink
		o.Logger = t.opts.Logger
	}

	return reflection.New(gen, critic, append([]func(o *reflection.Options){base}, optFns...)...)
}

// NewPlanner builds a travel planner wired to the shared memory.
func (t *TaskGraph) NewPlanner(workers []coordinator.Worker, optFns ...func(o *coordinator.Options)) (*coordinator.Planner, error) {
	base := func(o *coordinator.Options) {
		t.opts.Config.PlannerOptions()(o)
		o.Memory = t.memory
		o.Callbacks = append(o.Callbacks, t.opts.Callbacks...)
		o.TraceSink = t.opts.TraceSink
		o.Logger = t.opts.Logger
	}

	return coordinator.New(workers, append([]func(o *coordinator.Options){base}, optFns...)...)
}

// Load restores long-term memory from the snapshotter, if any.
func (t *TaskGraph) Load(ctx context.Context) error {
	if t.opts.Snapshotter == nil {
		return nil
	}

	return t.memory.Load(ctx)
}

// Save persists long-term memory through the snapshotter, if any.
func (t *TaskGraph) Save(ctx context.Context) error {
	if t.opts.Snapshotter == nil {
		return nil
	}

	return t.memory.Save(ctx)
}
