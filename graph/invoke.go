package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/taskgraph/core"
)

type mergeKey struct{}

// mergeInput is what a fan-in node sees of its branches.
type mergeInput struct {
	writes map[string]map[string]any
	failed []string
}

// BranchWrites returns, inside a merge node's task, the fields each branch
// wrote keyed by the branch's last node id.
func BranchWrites(ctx context.Context) (map[string]map[string]any, bool) {
	in, ok := ctx.Value(mergeKey{}).(*mergeInput)
	if !ok {
		return nil, false
	}

	return in.writes, true
}

// FailedBranches returns, inside a merge node's task, the last node ids of
// branches that were dropped after exhausting their retries.
func FailedBranches(ctx context.Context) []string {
	in, ok := ctx.Value(mergeKey{}).(*mergeInput)
	if !ok {
		return nil
	}

	return in.failed
}

type run struct {
	g        *Graph
	log      *core.LoggerAdapter
	id       string
	trace    *core.Trace
	maxSteps int
	steps    *atomic.Int64

	// prefix qualifies branch names when the run is nested inside a
	// subgraph node of a parent run.
	prefix string
}

type runKey struct{}

// qualify prefixes a branch name with the subgraph path of the run.
func (r *run) qualify(branch string) string {
	switch {
	case r.prefix == "":
		return branch
	case branch == "":
		return r.prefix
	default:
		return r.prefix + "/" + branch
	}
}

// Invoke executes the graph from its entry node. It returns the final state
// and the execution trace. On failure it returns the last state committed by
// the main walk together with the partial trace and a typed error from the
// core taxonomy. The initial state is cloned and never mutated.
func (g *Graph) Invoke(ctx context.Context, initial *core.State, optFns ...func(o *InvokeOptions)) (*core.State, *core.Trace, error) {
	opts := InvokeOptions{MaxSteps: g.opts.MaxSteps}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxSteps <= 0 {
		opts.MaxSteps = g.opts.MaxSteps
	}

	if opts.RunID == "" {
		opts.RunID = ulid.Make().String()
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)

		defer cancel()
	}

	if !opts.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, opts.Deadline)

		defer cancel()
	}

	r := &run{
		g:        g,
		log:      g.With("run_id", opts.RunID),
		id:       opts.RunID,
		trace:    core.NewTrace(opts.RunID),
		maxSteps: opts.MaxSteps,
		steps:    new(atomic.Int64),
	}

	state := core.NewState()
	if initial != nil {
		state = initial.Clone()
	}

	start := time.Now()

	r.log.LogInfo("graph.run.start", "entry", g.entry, "max_steps", r.maxSteps)
	g.notify(ctx, CallbackBeforeRun, &CallbackContext{RunID: r.id, State: state})

	final, err := r.walk(ctx, state)
	dur := time.Since(start)

	if err != nil {
		r.log.LogError("graph.run.failed", "steps", r.steps.Load(), "duration", dur, "error", err.Error())
		g.notify(ctx, CallbackOnError, &CallbackContext{RunID: r.id, State: final, Err: err, Duration: dur})
	} else {
		r.log.LogInfo("graph.run.completed", "steps", r.steps.Load(), "duration", dur)
	}

	g.notify(ctx, CallbackAfterRun, &CallbackContext{
		RunID:    r.id,
		State:    final,
		Err:      err,
		Duration: dur,
		Metadata: map[string]any{MetadataSteps: int(r.steps.Load())},
	})

	if g.opts.TraceSink != nil {
		if serr := g.opts.TraceSink.SaveTrace(context.WithoutCancel(ctx), r.trace); serr != nil {
			r.log.LogWarn("graph.trace.save_failed", "error", serr.Error())
		}
	}

	return final, r.trace, err
}

func (r *run) walk(ctx context.Context, committed *core.State) (*core.State, error) {
	current := r.g.entry

	var merge *mergeInput

	for {
		out, err := r.execNode(ctx, current, committed, r.prefix, merge)
		if err != nil {
			if !r.tolerated(ctx, current, err) {
				return committed, err
			}

			r.log.LogWarn("graph.node.skipped", "node", current, "error", err.Error())
			out = committed
		}

		committed = out
		merge = nil

		if r.g.terminals[current] {
			return committed, nil
		}

		if fo, ok := r.g.fanOuts[current]; ok {
			merged, in, err := r.fanOut(ctx, current, fo, committed)
			if err != nil {
				return committed, err
			}

			committed, merge, current = merged, in, fo.merge

			continue
		}

		next, err := r.next(current, committed)
		if err != nil {
			return committed, err
		}

		if next == End {
			return committed, nil
		}

		current = next
	}
}

// tolerated reports whether a failure of node id may be skipped: the node
// opted into partial failure and its retries ran out.
func (r *run) tolerated(ctx context.Context, id string, err error) bool {
	return r.g.nodes[id].PartialFailure && errors.Is(err, core.ErrRetryExhausted) && ctx.Err() == nil
}

func (r *run) next(id string, state *core.State) (string, error) {
	c, ok := r.g.cond[id]
	if !ok {
		return r.g.static[id][0], nil
	}

	label := c.route(state)
	target, ok := c.targets[label]

	r.trace.Append(core.TraceStep{
		Kind:   core.StepRoute,
		NodeID: id,
		Branch: r.prefix,
		Route:  label,
		Target: target,
		Start:  time.Now(),
	})

	if !ok {
		return "", &core.RoutingError{Node: id, Label: label, Allowed: append([]string(nil), c.labels...)}
	}

	r.log.LogDebug("graph.route", "node", id, "label", label, "target", target)

	return target, nil
}

type attemptRecorder struct {
	r     *run
	count atomic.Int32
}

func (a *attemptRecorder) RecordAttempt(ctx context.Context, step core.TraceStep) {
	a.count.Add(1)

	if info, ok := core.NodeInfoFromContext(ctx); ok {
		if step.NodeID == "" {
			step.NodeID = info.NodeID
		}

		if step.Branch == "" {
			step.Branch = info.Branch
		}
	}

	stored := a.r.trace.Append(step)

	a.r.g.notify(ctx, CallbackOnAttempt, &CallbackContext{
		RunID:    a.r.id,
		NodeID:   stored.NodeID,
		Branch:   stored.Branch,
		Step:     &stored,
		Duration: stored.Duration,
	})
}

func (r *run) execNode(ctx context.Context, id string, in *core.State, branch string, merge *mergeInput) (*core.State, error) {
	node := r.g.nodes[id]

	if err := ctx.Err(); err != nil {
		return nil, &core.DeadlineExceededError{Node: id, Cause: err}
	}

	if n := r.steps.Add(1); int(n) > r.maxSteps {
		return nil, &core.MaxIterationsError{Limit: r.maxSteps, Node: id}
	}

	start := time.Now()
	step := core.TraceStep{Kind: core.StepNode, NodeID: id, Branch: branch, Start: start}

	if r.g.opts.RecordSnapshots {
		step.Input = in.Snapshot()
	}

	if len(node.Requires) > 0 {
		if err := in.Require(node.Requires...); err != nil {
			var sce *core.StateContractError
			if errors.As(err, &sce) {
				sce.Node = id
			}

			return nil, r.failNode(ctx, step, err)
		}
	}

	rec := &attemptRecorder{r: r}
	nodeCtx := core.WithRecorder(core.WithNodeInfo(ctx, core.NodeInfo{RunID: r.id, NodeID: id, Branch: branch}), rec)
	nodeCtx = context.WithValue(nodeCtx, runKey{}, &parentRun{run: r, node: id, branch: branch})

	if merge != nil {
		nodeCtx = context.WithValue(nodeCtx, mergeKey{}, merge)
	}

	cc := &CallbackContext{RunID: r.id, NodeID: id, Branch: branch, State: in}
	if err := r.g.callbacks.ExecuteCallbacks(nodeCtx, CallbackBeforeNode, cc); err != nil {
		return nil, r.failNode(ctx, step, &core.NodeError{Node: id, Branch: branch, Err: fmt.Errorf("before_node callback: %w", err)})
	}

	work := in.Clone()

	out, err := node.Task.Run(nodeCtx, work)
	step.Duration = time.Since(start)

	if n := int(rec.count.Load()); n > 1 {
		step.Retries = n - 1
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if !errors.Is(err, core.ErrDeadlineExceeded) {
				err = &core.DeadlineExceededError{Node: id, Cause: ctxErr}
			}
		} else {
			err = &core.NodeError{Node: id, Branch: branch, Err: err}
		}

		return nil, r.failNode(ctx, step, err)
	}

	if out == nil {
		out = work
	}

	if r.g.opts.RecordSnapshots {
		step.Output = out.Snapshot()
	}

	stored := r.trace.Append(step)

	cc = &CallbackContext{RunID: r.id, NodeID: id, Branch: branch, State: out, Step: &stored, Duration: stored.Duration}
	if err := r.g.callbacks.ExecuteCallbacks(nodeCtx, CallbackAfterNode, cc); err != nil {
		return nil, &core.NodeError{Node: id, Branch: branch, Err: fmt.Errorf("after_node callback: %w", err)}
	}

	r.log.LogDebug("graph.node.completed", "node", id, "branch", branch, "duration", stored.Duration, "retries", stored.Retries)

	return out, nil
}

func (r *run) failNode(ctx context.Context, step core.TraceStep, err error) error {
	if step.Duration == 0 {
		step.Duration = time.Since(step.Start)
	}

	step.Err = err.Error()
	stored := r.trace.Append(step)

	r.log.LogWarn("graph.node.failed", "node", step.NodeID, "branch", step.Branch, "error", step.Err)
	r.g.notify(ctx, CallbackOnError, &CallbackContext{
		RunID:    r.id,
		NodeID:   step.NodeID,
		Branch:   step.Branch,
		Step:     &stored,
		Err:      err,
		Duration: stored.Duration,
	})

	return err
}

type branchResult struct {
	tail    string
	state   *core.State
	skipped bool
	err     error
}

func (r *run) fanOut(ctx context.Context, from string, fo *fanOut, base *core.State) (*core.State, *mergeInput, error) {
	results := make([]branchResult, len(fo.branches))

	var eg errgroup.Group
	if r.g.opts.MaxConcurrency > 0 {
		eg.SetLimit(r.g.opts.MaxConcurrency)
	}

	for i, br := range fo.branches {
		eg.Go(func() error {
			results[i] = r.runBranch(ctx, from, br, base.Fork())
			return results[i].err
		})
	}

	if err := eg.Wait(); err != nil {
		// report the first failure in branch declaration order
		for _, res := range results {
			if res.err != nil {
				return nil, nil, res.err
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, &core.DeadlineExceededError{Node: fo.merge, Cause: err}
	}

	return r.merge(ctx, fo.merge, base, results)
}

func (r *run) runBranch(ctx context.Context, from string, br branchSpec, st *core.State) branchResult {
	name := r.qualify(from + "." + br.head)
	res := branchResult{tail: br.tail}

	for _, id := range br.path {
		out, err := r.execNode(ctx, id, st, name, nil)
		if err != nil {
			if r.tolerated(ctx, id, err) {
				r.log.LogWarn("graph.branch.dropped", "branch", name, "node", id, "error", err.Error())
				res.skipped = true

				return res
			}

			res.err = err

			return res
		}

		st = out
	}

	res.state = st

	return res
}

// merge unions branch writes into a clone of the fan-out state. Branches are
// visited in sorted tail order so the result does not depend on completion
// order; a field written by two branches is a conflict.
func (r *run) merge(ctx context.Context, mergeID string, base *core.State, results []branchResult) (*core.State, *mergeInput, error) {
	sorted := append([]branchResult(nil), results...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].tail < sorted[j].tail })

	start := time.Now()
	in := &mergeInput{writes: make(map[string]map[string]any, len(sorted))}
	owner := map[string]string{}
	merged := base.Clone()

	for _, res := range sorted {
		if res.skipped {
			in.failed = append(in.failed, res.tail)
			continue
		}

		writes := map[string]any{}

		for _, f := range res.state.Written() {
			if prev, ok := owner[f]; ok {
				err := &core.MergeConflictError{Node: mergeID, Field: f, Predecessors: []string{prev, res.tail}}
				r.trace.Append(core.TraceStep{Kind: core.StepMerge, NodeID: mergeID, Branch: r.prefix, Start: start, Duration: time.Since(start), Err: err.Error()})

				return nil, nil, err
			}

			owner[f] = res.tail
			v, _ := res.state.Get(f)
			writes[f] = v
			merged.Set(f, v)
		}

		in.writes[res.tail] = writes
	}

	step := core.TraceStep{Kind: core.StepMerge, NodeID: mergeID, Branch: r.prefix, Start: start, Duration: time.Since(start)}
	if r.g.opts.RecordSnapshots {
		step.Output = merged.Snapshot()
	}

	stored := r.trace.Append(step)
	r.g.notify(ctx, CallbackOnMerge, &CallbackContext{RunID: r.id, NodeID: mergeID, State: merged, Step: &stored})

	return merged, in, nil
}

func (g *Graph) notify(ctx context.Context, t CallbackType, cc *CallbackContext) {
	if !g.callbacks.Has(t) {
		return
	}

	if err := g.callbacks.ExecuteCallbacks(ctx, t, cc); err != nil {
		g.LogWarn("graph.callback.failed", "type", string(t), "error", err.Error())
	}
}
