package retry

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/taskgraph/core"
	"github.com/hupe1980/taskgraph/logging"
)

// Options configures an Invoker.
type Options struct {
	// Logger receives one warning per failed attempt that will be retried.
	Logger logging.Logger
	// Limiter, when set, is waited on before every attempt.
	Limiter *rate.Limiter
	// Name identifies the invoker in logs and trace steps when it runs
	// outside a graph node.
	Name string
}

// Invoker calls an operation under a retry policy, recording every attempt
// into the trace of the surrounding node execution.
type Invoker struct {
	*core.LoggerAdapter
	policy  Policy
	limiter *rate.Limiter
	name    string
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates an Invoker for policy.
func New(policy Policy, optFns ...func(o *Options)) *Invoker {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Invoker{
		LoggerAdapter: core.NewLoggerAdapter(opts.Logger),
		policy:        policy,
		limiter:       opts.Limiter,
		name:          opts.Name,
		sleep:         sleepContext,
	}
}

// Policy returns the policy the invoker applies.
func (iv *Invoker) Policy() Policy { return iv.policy }

// Do calls op until it succeeds, fails with a non-retryable error, or the
// attempt budget is used. Exhaustion yields a *core.RetryExhaustedError; a
// cancelled or expired context yields a *core.DeadlineExceededError.
func (iv *Invoker) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	info, _ := core.NodeInfoFromContext(ctx)
	if info.NodeID == "" {
		info.NodeID = iv.name
	}

	rec := core.RecorderFromContext(ctx)
	schedule := iv.policy.newBackOff()
	maxAttempts := iv.policy.attempts()

	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return &core.DeadlineExceededError{Node: info.NodeID, Cause: err}
		}

		if iv.limiter != nil {
			if err := iv.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return &core.DeadlineExceededError{Node: info.NodeID, Cause: ctx.Err()}
				}

				return fmt.Errorf("rate limiter: %w", err)
			}
		}

		start := time.Now()
		err := op(ctx, attempt)

		if rec != nil {
			step := core.TraceStep{
				Kind:     core.StepAttempt,
				NodeID:   info.NodeID,
				Branch:   info.Branch,
				Attempt:  attempt,
				Start:    start,
				Duration: time.Since(start),
			}
			if err != nil {
				step.Err = err.Error()
			}

			rec.RecordAttempt(ctx, step)
		}

		if err == nil {
			return nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return &core.DeadlineExceededError{Node: info.NodeID, Cause: ctx.Err()}
		}

		if !iv.policy.retryable(err) {
			return err
		}

		if attempt == maxAttempts {
			break
		}

		delay := schedule.NextBackOff()
		iv.LogWarn("retry.attempt.failed", "node", info.NodeID, "attempt", attempt, "next_delay", delay, "error", err.Error())

		if err := iv.sleep(ctx, delay); err != nil {
			return &core.DeadlineExceededError{Node: info.NodeID, Cause: err}
		}
	}

	iv.LogError("retry.exhausted", "node", info.NodeID, "attempts", maxAttempts, "error", lastErr.Error())

	return &core.RetryExhaustedError{Attempts: maxAttempts, Last: lastErr}
}

// Wrap returns a Task that runs task under the invoker. Every attempt works
// on its own clone of the input state so a failed attempt leaves no writes
// behind.
func (iv *Invoker) Wrap(task core.Task) core.Task {
	return core.TaskFunc(func(ctx context.Context, state *core.State) (*core.State, error) {
		var out *core.State

		err := iv.Do(ctx, func(ctx context.Context, _ int) error {
			work := state.Clone()

			res, err := task.Run(ctx, work)
			if err != nil {
				return err
			}

			if res == nil {
				res = work
			}

			out = res

			return nil
		})
		if err != nil {
			return nil, err
		}

		return out, nil
	})
}

// Wrap is shorthand for New(policy, optFns...).Wrap(task).
func Wrap(task core.Task, policy Policy, optFns ...func(o *Options)) core.Task {
	return New(policy, optFns...).Wrap(task)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
