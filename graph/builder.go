package graph

import "github.com/hupe1980/taskgraph/core"

// NodeOption customizes a node registered through a Builder.
type NodeOption func(n *Node)

// WithRequires declares the state fields the node needs on entry.
func WithRequires(fields ...string) NodeOption {
	return func(n *Node) { n.Requires = append(n.Requires, fields...) }
}

// AsMerge marks the node as the fan-in of a fan-out.
func AsMerge() NodeOption {
	return func(n *Node) { n.Merge = true }
}

// WithPartialFailure lets the node fail with RetryExhausted without failing
// the run. Inside a fan-out the branch contributes no writes to the merge;
// on the main walk the node's writes are dropped and the run continues with
// its successor (a terminal node ends the run with the previous state).
func WithPartialFailure() NodeOption {
	return func(n *Node) { n.PartialFailure = true }
}

// Builder assembles nodes and edges fluently. Errors surface at Compile.
//
//	g, err := graph.NewBuilder().
//	    AddNode("generate", gen).
//	    AddNode("critique", critic).
//	    AddNode("finalize", fin).
//	    AddEdge("generate", "critique").
//	    AddConditionalEdges("critique", route, map[string]string{"revise": "generate", "done": "finalize"}).
//	    SetEntry("generate").
//	    SetTerminals("finalize").
//	    Compile()
type Builder struct {
	nodes     []Node
	edges     []Edge
	entry     string
	terminals []string
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddNode registers a node.
func (b *Builder) AddNode(id string, task core.Task, opts ...NodeOption) *Builder {
	n := Node{ID: id, Task: task}
	for _, o := range opts {
		o(&n)
	}

	b.nodes = append(b.nodes, n)

	return b
}

// AddMergeNode registers a fan-in node.
func (b *Builder) AddMergeNode(id string, task core.Task, opts ...NodeOption) *Builder {
	return b.AddNode(id, task, append(opts, AsMerge())...)
}

// AddEdge adds a static edge.
func (b *Builder) AddEdge(from, to string) *Builder {
	b.edges = append(b.edges, StaticEdge(from, to))
	return b
}

// AddFanOut adds a static edge from from to each of to.
func (b *Builder) AddFanOut(from string, to ...string) *Builder {
	for _, t := range to {
		b.AddEdge(from, t)
	}

	return b
}

// AddConditionalEdges routes from's successor through route.
func (b *Builder) AddConditionalEdges(from string, route RouteFunc, targets map[string]string) *Builder {
	b.edges = append(b.edges, ConditionalEdge(from, route, targets))
	return b
}

// SetEntry sets the entry node.
func (b *Builder) SetEntry(id string) *Builder {
	b.entry = id
	return b
}

// SetTerminals sets the terminal nodes.
func (b *Builder) SetTerminals(ids ...string) *Builder {
	b.terminals = append(b.terminals, ids...)
	return b
}

// Compile validates and compiles the graph.
func (b *Builder) Compile(optFns ...func(o *Options)) (*Graph, error) {
	return Compile(b.nodes, b.edges, b.entry, b.terminals, optFns...)
}
