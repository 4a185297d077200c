// Package core provides the foundational types shared by every taskgraph
// component:
//
//   - State (the open, ordered field mapping passed between nodes)
//   - Task / TaskFunc (the unit of work executed by a node)
//   - Embedder (text to vector, used by the memory store)
//   - Trace / TraceStep (the append-only execution record)
//   - the error taxonomy (GraphBuildError, RoutingError, MergeConflictError,
//     RetryExhaustedError, MaxIterationsError, DeadlineExceededError,
//     EmbeddingError, StateContractError) plus Transient/Fatal markers
//
// The package has no knowledge of graph compilation, retries or memory; those
// live in the graph, retry and memory packages and depend on core.
package core
