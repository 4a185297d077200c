// Package coordinator implements the coordinator, delegator and worker
// pattern as a fan-out graph.
//
// The coordinator node parses a free-form request into a Plan, falling back
// to DefaultPlan values for anything it cannot determine. The delegator fans
// the plan out unchanged to every Worker; each worker calls one Collaborator
// under its retry policy and writes the results under its category. Workers
// tolerate exhausted retries: their category is simply missing from the
// itinerary. The assemble node applies a Selector per category (MinBy,
// MaxBy, All, WithinBudget) and produces the Itinerary.
//
//	p, _ := coordinator.New(coordinator.DemoWorkers(retry.Fixed(3, time.Second)))
//	it, trace, err := p.Run(ctx, "Fly from London to Paris under $400, museums please")
package coordinator
