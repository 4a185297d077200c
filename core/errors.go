package core

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels matched with errors.Is against the typed errors below.
var (
	ErrGraphBuild       = errors.New("graph build failed")
	ErrRouting          = errors.New("routing failed")
	ErrMergeConflict    = errors.New("merge conflict")
	ErrRetryExhausted   = errors.New("retry exhausted")
	ErrMaxIterations    = errors.New("max iterations exceeded")
	ErrDeadlineExceeded = errors.New("deadline exceeded")
	ErrEmbedding        = errors.New("embedding failed")
	ErrStateContract    = errors.New("state contract violated")
)

// GraphBuildError reports a structural problem found while compiling a graph.
type GraphBuildError struct {
	Reason string
}

func (e *GraphBuildError) Error() string { return "graph build: " + e.Reason }

// Is matches ErrGraphBuild.
func (e *GraphBuildError) Is(target error) bool { return target == ErrGraphBuild }

// RoutingError is raised when a routing function returns a label outside the
// declared label set of its node.
type RoutingError struct {
	Node    string
	Label   string
	Allowed []string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("routing: node %q returned unknown label %q (allowed: %s)", e.Node, e.Label, strings.Join(e.Allowed, ", "))
}

// Is matches ErrRouting.
func (e *RoutingError) Is(target error) bool { return target == ErrRouting }

// MergeConflictError is raised when two parallel branches wrote the same field.
type MergeConflictError struct {
	Node         string
	Field        string
	Predecessors []string
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge conflict at %q: field %q written by %s", e.Node, e.Field, strings.Join(e.Predecessors, " and "))
}

// Is matches ErrMergeConflict.
func (e *MergeConflictError) Is(target error) bool { return target == ErrMergeConflict }

// RetryExhaustedError is returned when every attempt allowed by a retry policy
// failed with a transient error.
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Last)
}

// Is matches ErrRetryExhausted.
func (e *RetryExhaustedError) Is(target error) bool { return target == ErrRetryExhausted }

// Unwrap returns the error of the final attempt.
func (e *RetryExhaustedError) Unwrap() error { return e.Last }

// MaxIterationsError is returned when a run executes more node steps than
// allowed.
type MaxIterationsError struct {
	Limit int
	Node  string
}

func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("max iterations exceeded: limit %d reached before node %q", e.Limit, e.Node)
}

// Is matches ErrMaxIterations.
func (e *MaxIterationsError) Is(target error) bool { return target == ErrMaxIterations }

// DeadlineExceededError is returned when the caller's deadline expires or the
// run is cancelled.
type DeadlineExceededError struct {
	Node  string
	Cause error
}

func (e *DeadlineExceededError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("deadline exceeded: %v", e.Cause)
	}

	return fmt.Sprintf("deadline exceeded at node %q: %v", e.Node, e.Cause)
}

// Is matches ErrDeadlineExceeded.
func (e *DeadlineExceededError) Is(target error) bool { return target == ErrDeadlineExceeded }

// Unwrap returns the context error.
func (e *DeadlineExceededError) Unwrap() error { return e.Cause }

// EmbeddingError wraps a failure of the configured embedder.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string { return "embedding: " + e.Err.Error() }

// Is matches ErrEmbedding.
func (e *EmbeddingError) Is(target error) bool { return target == ErrEmbedding }

// Unwrap returns the embedder error.
func (e *EmbeddingError) Unwrap() error { return e.Err }

// StateContractError is returned when a node is entered without the fields it
// declared as required.
type StateContractError struct {
	Node    string
	Missing []string
}

func (e *StateContractError) Error() string {
	if e.Node == "" {
		return "state contract: missing " + strings.Join(e.Missing, ", ")
	}

	return fmt.Sprintf("state contract: node %q missing %s", e.Node, strings.Join(e.Missing, ", "))
}

// Is matches ErrStateContract.
func (e *StateContractError) Is(target error) bool { return target == ErrStateContract }

// NodeError attributes a task failure to the node (and branch) that raised it.
type NodeError struct {
	Node   string
	Branch string
	Err    error
}

func (e *NodeError) Error() string {
	if e.Branch != "" {
		return fmt.Sprintf("node %q (branch %s): %v", e.Node, e.Branch, e.Err)
	}

	return fmt.Sprintf("node %q: %v", e.Node, e.Err)
}

// Unwrap returns the task error.
func (e *NodeError) Unwrap() error { return e.Err }

type classifiedError struct {
	err       error
	transient bool
}

func (e *classifiedError) Error() string { return e.err.Error() }

func (e *classifiedError) Unwrap() error { return e.err }

// Transient marks err as recoverable by retrying.
func Transient(err error) error {
	if err == nil {
		return nil
	}

	return &classifiedError{err: err, transient: true}
}

// Fatal marks err as not worth retrying.
func Fatal(err error) error {
	if err == nil {
		return nil
	}

	return &classifiedError{err: err, transient: false}
}

// IsTransient reports whether err was marked with Transient.
func IsTransient(err error) bool {
	var ce *classifiedError
	return errors.As(err, &ce) && ce.transient
}

// IsFatal reports whether err was marked with Fatal.
func IsFatal(err error) bool {
	var ce *classifiedError
	return errors.As(err, &ce) && !ce.transient
}

// IsEngineError reports whether err belongs to the engine's own taxonomy.
// Such errors are never retried.
func IsEngineError(err error) bool {
	for _, target := range []error{
		ErrGraphBuild, ErrRouting, ErrMergeConflict, ErrRetryExhausted,
		ErrMaxIterations, ErrDeadlineExceeded, ErrEmbedding, ErrStateContract,
	} {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}
