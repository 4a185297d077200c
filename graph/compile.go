package graph

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/hupe1980/taskgraph/core"
)

func buildErr(format string, args ...any) error {
	return &core.GraphBuildError{Reason: fmt.Sprintf(format, args...)}
}

// Compile validates the structure and returns an executable graph, or a
// *core.GraphBuildError describing the first problem found.
func Compile(nodes []Node, edges []Edge, entry string, terminals []string, optFns ...func(o *Options)) (*Graph, error) {
	opts := DefaultOptions
	opts.Callbacks = nil

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}

	g := &Graph{
		LoggerAdapter: core.NewLoggerAdapter(opts.Logger),
		nodes:         make(map[string]*Node, len(nodes)),
		static:        make(map[string][]string),
		cond:          make(map[string]*conditional),
		terminals:     make(map[string]bool, len(terminals)),
		fanOuts:       make(map[string]*fanOut),
		callbacks:     NewCallbackManager(opts.Callbacks...),
		opts:          opts,
	}

	if err := g.registerNodes(nodes); err != nil {
		return nil, err
	}

	if entry == "" {
		return nil, buildErr("entry node not set")
	}

	if _, ok := g.nodes[entry]; !ok {
		return nil, buildErr("entry node %q is not registered", entry)
	}

	g.entry = entry

	if len(terminals) == 0 {
		return nil, buildErr("no terminal nodes declared")
	}

	for _, t := range terminals {
		if _, ok := g.nodes[t]; !ok {
			return nil, buildErr("terminal node %q is not registered", t)
		}

		g.terminals[t] = true
	}

	if err := g.registerEdges(edges); err != nil {
		return nil, err
	}

	steps := []func() error{
		g.checkSinks,
		g.checkReachable,
		g.checkCanFinish,
		g.checkStaticCycles,
		g.analyzeFanOuts,
	}

	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}

	g.LogDebug("graph.compiled", "nodes", len(g.nodes), "entry", g.entry, "fan_outs", len(g.fanOuts))

	return g, nil
}

func (g *Graph) registerNodes(nodes []Node) error {
	if len(nodes) == 0 {
		return buildErr("graph has no nodes")
	}

	for _, n := range nodes {
		switch {
		case n.ID == "":
			return buildErr("node with empty id")
		case n.ID == End:
			return buildErr("node id %q is reserved", End)
		case n.Task == nil:
			return buildErr("node %q has no task", n.ID)
		}

		if _, dup := g.nodes[n.ID]; dup {
			return buildErr("duplicate node %q", n.ID)
		}

		nc := n
		nc.Requires = append([]string(nil), n.Requires...)
		g.nodes[n.ID] = &nc
		g.order = append(g.order, n.ID)
	}

	return nil
}

func (g *Graph) known(id string) bool {
	if id == End {
		return true
	}

	_, ok := g.nodes[id]

	return ok
}

func (g *Graph) registerEdges(edges []Edge) error {
	for _, e := range edges {
		if _, ok := g.nodes[e.From]; !ok {
			return buildErr("edge from unregistered node %q", e.From)
		}

		if e.Route != nil {
			if e.To != "" {
				return buildErr("edge from %q sets both a static target and a routing function", e.From)
			}

			if _, dup := g.cond[e.From]; dup {
				return buildErr("node %q declares more than one routing function", e.From)
			}

			if len(e.Targets) == 0 {
				return buildErr("conditional edge from %q has no targets", e.From)
			}

			c := &conditional{route: e.Route, targets: make(map[string]string, len(e.Targets))}

			for label, target := range e.Targets {
				if label == "" {
					return buildErr("conditional edge from %q has an empty label", e.From)
				}

				if !g.known(target) {
					return buildErr("conditional edge %q -[%s]-> %q targets an unregistered node", e.From, label, target)
				}

				c.targets[label] = target
				c.labels = append(c.labels, label)
			}

			sort.Strings(c.labels)
			g.cond[e.From] = c

			continue
		}

		if e.To == "" {
			return buildErr("static edge from %q has no target", e.From)
		}

		if !g.known(e.To) {
			return buildErr("edge %q -> %q targets an unregistered node", e.From, e.To)
		}

		for _, existing := range g.static[e.From] {
			if existing == e.To {
				return buildErr("duplicate edge %q -> %q", e.From, e.To)
			}
		}

		g.static[e.From] = append(g.static[e.From], e.To)
	}

	for id := range g.cond {
		if len(g.static[id]) > 0 {
			return buildErr("node %q mixes static and conditional edges", id)
		}
	}

	return nil
}

func (g *Graph) hasOutgoing(id string) bool {
	_, c := g.cond[id]
	return c || len(g.static[id]) > 0
}

func (g *Graph) checkSinks() error {
	for _, id := range g.order {
		switch {
		case g.terminals[id] && g.hasOutgoing(id):
			return buildErr("terminal node %q has outgoing edges", id)
		case !g.terminals[id] && !g.hasOutgoing(id):
			return buildErr("node %q has no outgoing edges and is not terminal", id)
		}

		if succ := g.static[id]; len(succ) > 1 {
			for _, s := range succ {
				if s == End {
					return buildErr("fan-out node %q cannot target %s", id, End)
				}
			}
		}
	}

	return nil
}

func (g *Graph) checkReachable() error {
	seen := map[string]bool{g.entry: true}
	queue := []string{g.entry}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		for _, next := range g.Successors(id) {
			if next == End || seen[next] {
				continue
			}

			seen[next] = true
			queue = append(queue, next)
		}
	}

	var unreachable []string

	for _, id := range g.order {
		if !seen[id] {
			unreachable = append(unreachable, id)
		}
	}

	if len(unreachable) > 0 {
		return buildErr("unreachable nodes: %s", strings.Join(unreachable, ", "))
	}

	return nil
}

// checkCanFinish rejects nodes from which no terminal and no End can be
// reached: runs entering them could only stop at the step bound.
func (g *Graph) checkCanFinish() error {
	preds := make(map[string][]string, len(g.nodes))
	done := make(map[string]bool, len(g.nodes))

	var queue []string

	for _, id := range g.order {
		succ := g.Successors(id)
		if g.terminals[id] || slices.Contains(succ, End) {
			done[id] = true
			queue = append(queue, id)
		}

		for _, next := range succ {
			if next != End {
				preds[next] = append(preds[next], id)
			}
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		for _, p := range preds[id] {
			if !done[p] {
				done[p] = true
				queue = append(queue, p)
			}
		}
	}

	var stuck []string

	for _, id := range g.order {
		if !done[id] {
			stuck = append(stuck, id)
		}
	}

	if len(stuck) > 0 {
		return buildErr("nodes cannot reach a terminal: %s", strings.Join(stuck, ", "))
	}

	return nil
}

// checkStaticCycles rejects cycles made only of static edges: nothing could
// ever leave them.
func (g *Graph) checkStaticCycles() error {
	const (
		white = iota
		grey
		black
	)

	color := make(map[string]int, len(g.nodes))

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		color[id] = grey
		path = append(path, id)

		for _, next := range g.static[id] {
			if next == End {
				continue
			}

			switch color[next] {
			case grey:
				return buildErr("static cycle %s -> %s", strings.Join(path, " -> "), next)
			case white:
				if err := visit(next, path); err != nil {
					return err
				}
			}
		}

		color[id] = black

		return nil
	}

	for _, id := range g.order {
		if color[id] == white {
			if err := visit(id, nil); err != nil {
				return err
			}
		}
	}

	return nil
}

// analyzeFanOuts checks that every fan-out's branches are chains of single
// static edges converging on one merge node whose predecessors are exactly
// the branch tails.
func (g *Graph) analyzeFanOuts() error {
	inDegree := make(map[string]int, len(g.nodes))
	staticPreds := make(map[string][]string)

	for _, id := range g.order {
		for _, next := range g.static[id] {
			inDegree[next]++
			staticPreds[next] = append(staticPreds[next], id)
		}

		if c, ok := g.cond[id]; ok {
			seen := map[string]bool{}

			for _, next := range c.targets {
				if !seen[next] {
					seen[next] = true
					inDegree[next]++
				}
			}
		}
	}

	owner := map[string]string{}

	for _, id := range g.order {
		succ := g.static[id]
		if len(succ) < 2 {
			continue
		}

		fo := &fanOut{}

		for _, head := range succ {
			br, merge, err := g.walkBranch(id, head, inDegree)
			if err != nil {
				return err
			}

			if fo.merge == "" {
				fo.merge = merge
			} else if fo.merge != merge {
				return buildErr("fan-out %q does not converge: branches reach %q and %q", id, fo.merge, merge)
			}

			fo.branches = append(fo.branches, br)
		}

		if prev, ok := owner[fo.merge]; ok {
			return buildErr("merge node %q is shared by fan-outs %q and %q", fo.merge, prev, id)
		}

		owner[fo.merge] = id

		tails := make([]string, len(fo.branches))
		for i, b := range fo.branches {
			tails[i] = b.tail
		}

		preds := append([]string(nil), staticPreds[fo.merge]...)
		sort.Strings(tails)
		sort.Strings(preds)

		if strings.Join(tails, ",") != strings.Join(preds, ",") || inDegree[fo.merge] != len(tails) {
			return buildErr("merge node %q must be entered only from the branches of %q", fo.merge, id)
		}

		g.fanOuts[id] = fo
	}

	for _, id := range g.order {
		if g.nodes[id].Merge {
			if _, ok := owner[id]; !ok {
				return buildErr("merge node %q is not the fan-in of any fan-out", id)
			}
		}
	}

	return nil
}

func (g *Graph) walkBranch(from, head string, inDegree map[string]int) (branchSpec, string, error) {
	br := branchSpec{head: head}
	cur := head

	for {
		n := g.nodes[cur]

		if n.Merge {
			if len(br.path) == 0 {
				return br, "", buildErr("fan-out %q: branch %q needs at least one node before merge", from, head)
			}

			br.tail = br.path[len(br.path)-1]

			return br, cur, nil
		}

		switch {
		case g.terminals[cur]:
			return br, "", buildErr("fan-out %q: branch node %q is terminal", from, cur)
		case g.cond[cur] != nil:
			return br, "", buildErr("fan-out %q: branch node %q routes conditionally", from, cur)
		case inDegree[cur] != 1:
			return br, "", buildErr("fan-out %q: branch node %q has %d predecessors", from, cur, inDegree[cur])
		case len(g.static[cur]) != 1 || g.static[cur][0] == End:
			return br, "", buildErr("fan-out %q: branch node %q must have exactly one successor", from, cur)
		}

		br.path = append(br.path, cur)
		cur = g.static[cur][0]
	}
}
