// Package logging provides a minimal logging interface and adapters for taskgraph.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the graph engine, retry invoker and memory store use for observability.
// This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - GraphLogger with run/component context and domain helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	g, err := graph.Compile(nodes, edges, "start", []string{"done"}, graph.WithLogger(logger))
//
// The design keeps the interface minimal to avoid vendor lock-in while
// supporting structured logging where available.
package logging
