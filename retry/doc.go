// Package retry implements the resilient invoker: bounded retry of unreliable
// operations with fixed or exponential backoff.
//
// Errors are classified before retrying. By default every error is retried
// except context errors, errors marked with core.Fatal and the engine's own
// error taxonomy; a custom Classifier can narrow that (see TransientOnly).
// When the attempt budget is used up the invoker returns a
// *core.RetryExhaustedError carrying the final error.
//
// Inside a graph node the invoker records every attempt, successful or not,
// into the run's execution trace with a 1-based attempt index:
//
//	search := retry.Wrap(core.TaskFunc(searchFlights), retry.Fixed(3, time.Second))
//	b.AddNode("flights", search, graph.WithPartialFailure())
//
// Backoff waits honor context cancellation, so a run deadline interrupts a
// retry loop between attempts.
package retry
