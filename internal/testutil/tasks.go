package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/taskgraph/core"
)

// ErrFlaky is the default error returned by FlakyTask.
var ErrFlaky = errors.New("temporarily unavailable")

// SetTask returns a task writing the given key/value pairs.
func SetTask(kv ...any) core.Task {
	return core.TaskFunc(func(_ context.Context, s *core.State) (*core.State, error) {
		for i := 0; i+1 < len(kv); i += 2 {
			s.Set(kv[i].(string), kv[i+1])
		}

		return s, nil
	})
}

// Noop returns a task that leaves the state unchanged.
func Noop() core.Task {
	return core.TaskFunc(func(_ context.Context, s *core.State) (*core.State, error) {
		return s, nil
	})
}

// FailTask returns a task that always fails with err.
func FailTask(err error) core.Task {
	return core.TaskFunc(func(context.Context, *core.State) (*core.State, error) {
		return nil, err
	})
}

// SleepTask waits for d or until the context is done.
func SleepTask(d time.Duration) core.Task {
	return core.TaskFunc(func(ctx context.Context, s *core.State) (*core.State, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d):
			return s, nil
		}
	})
}

// FlakyTask fails its first failures calls with ErrFlaky and then delegates
// to next. It is safe for concurrent use.
type FlakyTask struct {
	failures int
	next     core.Task
	calls    atomic.Int64
}

// NewFlakyTask creates a FlakyTask.
func NewFlakyTask(failures int, next core.Task) *FlakyTask {
	return &FlakyTask{failures: failures, next: next}
}

// Run implements core.Task.
func (f *FlakyTask) Run(ctx context.Context, s *core.State) (*core.State, error) {
	if n := f.calls.Add(1); int(n) <= f.failures {
		return nil, core.Transient(ErrFlaky)
	}

	return f.next.Run(ctx, s)
}

// Calls returns how often Run was invoked.
func (f *FlakyTask) Calls() int { return int(f.calls.Load()) }

// Recorder collects strings from concurrent tasks, e.g. execution order.
type Recorder struct {
	mu     sync.Mutex
	values []string
}

// Add appends v.
func (r *Recorder) Add(v string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.values = append(r.values, v)
}

// Values returns a copy of the collected values.
func (r *Recorder) Values() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.values...)
}

// Tracking wraps task so every run appends name to rec.
func Tracking(rec *Recorder, name string, task core.Task) core.Task {
	return core.TaskFunc(func(ctx context.Context, s *core.State) (*core.State, error) {
		rec.Add(name)
		return task.Run(ctx, s)
	})
}
