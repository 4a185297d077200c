// Package graph compiles and executes stateful task graphs.
//
// A graph is a set of nodes (each running a core.Task) joined by static or
// conditional edges, with one entry and one or more terminal nodes. Compile
// rejects malformed structures up front (unknown targets, unreachable nodes,
// implicit sinks, nodes that can never reach a terminal, cycles that only static edges could form, fan-outs that do
// not converge) with a *core.GraphBuildError.
//
// Invoke walks the graph with an explicit loop:
//
//   - a static edge moves to its successor; a node with several static
//     successors fans out, running every branch concurrently on its own
//     fork of the state
//   - a merge node runs once all branches of its fan-out completed, on the
//     union of the branch writes; a field written by two branches is a
//     *core.MergeConflictError
//   - a conditional edge asks its RouteFunc for a label; labels outside the
//     declared set raise *core.RoutingError, and the End target finishes
//     the run
//   - every node execution counts toward a step bound (DefaultMaxSteps unless
//     overridden), so conditional cycles always terminate
//
// A compiled graph can itself be a node of another graph (see Subgraph). The
// nested run shares the parent's trace and step bound.
//
// Every run produces a core.Trace. Lifecycle callbacks (see CallbackType)
// observe node executions, retry attempts and merges; observability
// integrations are built on them.
package graph
