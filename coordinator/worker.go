package coordinator

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/hupe1980/taskgraph/core"
	"github.com/hupe1980/taskgraph/logging"
	"github.com/hupe1980/taskgraph/retry"
)

// Option is one search result, e.g. a flight or a hotel.
type Option map[string]any

// Number returns a numeric field.
func (o Option) Number(field string) (float64, bool) {
	switch v := o[field].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// String returns a string field or "".
func (o Option) String(field string) string {
	s, _ := o[field].(string)
	return s
}

// Collaborator searches one category for a plan, typically by calling an
// external service.
type Collaborator interface {
	Search(ctx context.Context, plan Plan) ([]Option, error)
}

// CollaboratorFunc adapts a function to Collaborator.
type CollaboratorFunc func(ctx context.Context, plan Plan) ([]Option, error)

// Search implements Collaborator.
func (f CollaboratorFunc) Search(ctx context.Context, plan Plan) ([]Option, error) {
	return f(ctx, plan)
}

// Static returns a collaborator answering every plan with options.
func Static(options ...Option) Collaborator {
	return CollaboratorFunc(func(ctx context.Context, _ Plan) ([]Option, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out := make([]Option, len(options))
		copy(out, options)

		return out, nil
	})
}

// Worker runs one collaborator under a retry policy and writes the results
// into the state field named by Category.
type Worker struct {
	// Name is the worker's node id.
	Name     string
	Category string
	Search   Collaborator
	// Policy governs retries; the zero value uses the planner's default.
	Policy retry.Policy
}

func (w Worker) validate() error {
	switch {
	case w.Name == "":
		return fmt.Errorf("coordinator: worker without name")
	case w.Category == "":
		return fmt.Errorf("coordinator: worker %q without category", w.Name)
	case w.Search == nil:
		return fmt.Errorf("coordinator: worker %q without collaborator", w.Name)
	}

	return nil
}

func (w Worker) task(logger logging.Logger, limiter *rate.Limiter) core.Task {
	call := core.TaskFunc(func(ctx context.Context, s *core.State) (*core.State, error) {
		plan, ok := core.Get[Plan](s, FieldPlan)
		if !ok {
			return nil, core.Fatal(&core.StateContractError{Node: w.Name, Missing: []string{FieldPlan}})
		}

		options, err := w.Search.Search(ctx, plan)
		if err != nil {
			return nil, fmt.Errorf("%s search: %w", w.Category, err)
		}

		s.Set(w.Category, options)

		return s, nil
	})

	return retry.Wrap(call, w.Policy, func(o *retry.Options) {
		o.Logger = logger
		o.Limiter = limiter
		o.Name = w.Name
	})
}
