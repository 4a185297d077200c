package graph

import (
	"context"

	"github.com/hupe1980/taskgraph/core"
)

// parentRun links a node task to the run executing it.
type parentRun struct {
	run    *run
	node   string
	branch string
}

// AsTask wraps the graph as a task so it can run as a single node of another
// graph. See Subgraph.
func (g *Graph) AsTask() core.Task {
	return Subgraph(g)
}

// Subgraph returns a task that runs child on the node's state. Fields written
// by the child are written to the node's state.
//
// Inside a parent run the child shares the parent's run id, trace and step
// bound: its steps are appended to the parent trace with branch names
// prefixed by the parent node id, and every child node counts toward the
// parent's MaxSteps. Parent invoke options such as Timeout apply through the
// context. Outside a run the child is invoked on its own.
func Subgraph(child *Graph) core.Task {
	return core.TaskFunc(func(ctx context.Context, s *core.State) (*core.State, error) {
		parent, ok := ctx.Value(runKey{}).(*parentRun)
		if !ok {
			final, _, err := child.Invoke(ctx, s.Fork())
			if err != nil {
				return nil, err
			}

			return copyWrites(s, final), nil
		}

		r := &run{
			g:        child,
			id:       parent.run.id,
			trace:    parent.run.trace,
			maxSteps: parent.run.maxSteps,
			steps:    parent.run.steps,
			prefix:   parent.node,
		}

		if parent.branch != "" {
			r.prefix = parent.branch + "/" + parent.node
		}

		r.log = child.With("run_id", r.id, "subgraph", r.prefix)
		r.log.LogDebug("graph.subgraph.start", "entry", child.entry)

		final, err := r.walk(ctx, s.Fork())
		if err != nil {
			return nil, err
		}

		return copyWrites(s, final), nil
	})
}

func copyWrites(dst, src *core.State) *core.State {
	for _, f := range src.Written() {
		v, _ := src.Get(f)
		dst.Set(f, v)
	}

	return dst
}
