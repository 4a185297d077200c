package coordinator

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/hupe1980/taskgraph/core"
	"github.com/hupe1980/taskgraph/retry"
)

// ErrUnavailable is returned by Flaky collaborators while failing.
var ErrUnavailable = errors.New("service temporarily unavailable")

// Flaky fails the first failures searches with a transient ErrUnavailable
// and then delegates to next.
func Flaky(failures int, next Collaborator) Collaborator {
	var calls atomic.Int64

	return CollaboratorFunc(func(ctx context.Context, plan Plan) ([]Option, error) {
		if int(calls.Add(1)) <= failures {
			return nil, core.Transient(ErrUnavailable)
		}

		return next.Search(ctx, plan)
	})
}

// DemoWorkers returns flight, hotel and activity workers backed by canned
// data. Activities are filtered by the plan's preference unless it is
// "mixed".
func DemoWorkers(policy retry.Policy) []Worker {
	flights := Static(
		Option{"airline": "BudgetAir", "price": 320.0},
		Option{"airline": "ComfortJet", "price": 480.0},
		Option{"airline": "SkyLux", "price": 720.0},
	)

	hotels := Static(
		Option{"name": "City Hotel", "price": 150.0, "rating": 3.8},
		Option{"name": "Luxury Palace", "price": 380.0, "rating": 4.5},
		Option{"name": "Hostel Central", "price": 45.0, "rating": 3.1},
	)

	catalog := []Option{
		{"name": "Museum Tour", "price": 60.0, "kind": "culture"},
		{"name": "Food Crawl", "price": 90.0, "kind": "food"},
		{"name": "River Kayak", "price": 75.0, "kind": "adventure"},
		{"name": "Spa Afternoon", "price": 120.0, "kind": "relax"},
	}

	activities := CollaboratorFunc(func(ctx context.Context, plan Plan) ([]Option, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var out []Option

		for _, a := range catalog {
			if plan.Preference == DefaultPlan.Preference || a.String("kind") == plan.Preference {
				out = append(out, a)
			}
		}

		return out, nil
	})

	return []Worker{
		{Name: "search_flights", Category: "flights", Search: flights, Policy: policy},
		{Name: "search_hotels", Category: "hotels", Search: hotels, Policy: policy},
		{Name: "search_activities", Category: "activities", Search: activities, Policy: policy},
	}
}
