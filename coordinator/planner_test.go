package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/taskgraph/core"
	"github.com/hupe1980/taskgraph/memory"
	"github.com/hupe1980/taskgraph/retry"
)

func scenarioWorkers(flights Collaborator) []Worker {
	return []Worker{
		{Name: "search_flights", Category: "flights", Search: flights, Policy: retry.Immediate(3)},
		{Name: "search_hotels", Category: "hotels", Search: Static(Option{"rating": 3.8}, Option{"rating": 4.5}), Policy: retry.Immediate(3)},
		{Name: "search_activities", Category: "activities", Search: Static(Option{"name": "Tour"}), Policy: retry.Immediate(3)},
	}
}

const londonParis = `{"origin":"London","destination":"Paris","max_price":400}`

func TestPlanner_LondonParisScenario(t *testing.T) {
	p, err := New(scenarioWorkers(Static(Option{"price": 350.0}, Option{"price": 720.0})))
	require.NoError(t, err)

	it, trace, err := p.Run(context.Background(), londonParis)
	require.NoError(t, err)

	assert.Equal(t, "London", it.Plan.Origin)
	assert.Equal(t, "Paris", it.Plan.Destination)
	assert.Equal(t, 400.0, it.Plan.MaxPrice)

	assert.Equal(t, Option{"price": 350.0}, it.Selected["flights"])
	assert.Equal(t, Option{"rating": 4.5}, it.Selected["hotels"])
	assert.Equal(t, []Option{{"name": "Tour"}}, it.Collections["activities"])
	assert.True(t, it.Complete())

	nodes := trace.Nodes()
	assert.Equal(t, NodeCoordinator, nodes[0])
	assert.Equal(t, NodeDelegator, nodes[1])
	assert.Equal(t, NodeAssemble, nodes[len(nodes)-1])
	assert.ElementsMatch(t, []string{"search_flights", "search_hotels", "search_activities"}, nodes[2:5])
	assert.Len(t, trace.Filter(core.StepMerge), 1)
}

func TestPlanner_FlakyWorkerRecovers(t *testing.T) {
	flights := Flaky(2, Static(Option{"price": 350.0}))

	p, err := New(scenarioWorkers(flights))
	require.NoError(t, err)

	it, trace, err := p.Run(context.Background(), londonParis)
	require.NoError(t, err)

	assert.Equal(t, Option{"price": 350.0}, it.Selected["flights"])

	attempts := trace.Attempts("search_flights")
	require.Len(t, attempts, 3)
	assert.True(t, attempts[0].Failed())
	assert.True(t, attempts[1].Failed())
	assert.False(t, attempts[2].Failed())
}

func TestPlanner_ExhaustedWorkerIsMissing(t *testing.T) {
	flights := Flaky(10, Static(Option{"price": 350.0}))

	p, err := New(scenarioWorkers(flights))
	require.NoError(t, err)

	it, trace, err := p.Run(context.Background(), londonParis)
	require.NoError(t, err)

	assert.Equal(t, []string{"flights"}, it.Missing)
	assert.NotContains(t, it.Selected, "flights")
	assert.Equal(t, Option{"rating": 4.5}, it.Selected["hotels"])
	assert.Len(t, trace.Attempts("search_flights"), 3)
}

func TestPlanner_FatalWorkerFailsRun(t *testing.T) {
	broken := CollaboratorFunc(func(context.Context, Plan) ([]Option, error) {
		return nil, core.Fatal(errors.New("invalid api key"))
	})

	p, err := New(scenarioWorkers(broken))
	require.NoError(t, err)

	it, trace, err := p.Run(context.Background(), londonParis)
	require.Error(t, err)
	assert.Nil(t, it)
	assert.NotNil(t, trace)
	assert.Contains(t, err.Error(), "invalid api key")
	assert.Len(t, trace.Attempts("search_flights"), 1)
}

func TestPlanner_AmbiguousRequestUsesDefaults(t *testing.T) {
	var seen Plan

	flights := CollaboratorFunc(func(_ context.Context, plan Plan) ([]Option, error) {
		seen = plan
		return []Option{{"price": 999.0}}, nil
	})

	p, err := New(scenarioWorkers(flights))
	require.NoError(t, err)

	it, _, err := p.Run(context.Background(), "surprise me")
	require.NoError(t, err)

	assert.Equal(t, AnyLocation, seen.Origin)
	assert.Equal(t, AnyLocation, seen.Destination)
	assert.Equal(t, "mixed", seen.Preference)
	assert.Equal(t, Option{"price": 999.0}, it.Selected["flights"], "no budget means no filtering")
}

func TestPlanner_EmptyRequest(t *testing.T) {
	p, err := New(DemoWorkers(retry.Immediate(1)))
	require.NoError(t, err)

	_, _, err = p.Run(context.Background(), "  ")
	require.ErrorIs(t, err, core.ErrStateContract)
}

func TestPlanner_SingleWorker(t *testing.T) {
	p, err := New([]Worker{{Name: "w", Category: "hotels", Search: Static(Option{"rating": 4.0})}})
	require.NoError(t, err)

	it, _, err := p.Run(context.Background(), "to Paris")
	require.NoError(t, err)
	assert.Equal(t, Option{"rating": 4.0}, it.Selected["hotels"])
}

func TestPlanner_Timeout(t *testing.T) {
	slow := CollaboratorFunc(func(ctx context.Context, _ Plan) ([]Option, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return nil, nil
		}
	})

	p, err := New(scenarioWorkers(slow), func(o *Options) { o.Timeout = 20 * time.Millisecond })
	require.NoError(t, err)

	_, _, err = p.Run(context.Background(), londonParis)
	require.ErrorIs(t, err, core.ErrDeadlineExceeded)
}

func TestPlanner_RecordsInteractions(t *testing.T) {
	store, err := memory.New()
	require.NoError(t, err)

	p, err := New(DemoWorkers(retry.Immediate(1)), func(o *Options) { o.Memory = store })
	require.NoError(t, err)

	req := "Fly from London to Paris under $400, museums please"
	it, _, err := p.Run(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "BudgetAir", it.Selected["flights"].String("airline"))
	assert.Equal(t, "Luxury Palace", it.Selected["hotels"].String("name"))
	require.Len(t, it.Collections["activities"], 1)
	assert.Equal(t, "Museum Tour", it.Collections["activities"][0].String("name"))

	entries := store.ShortTerm().Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, req, entries[0].Content)
	assert.Equal(t, "London -> Paris: flights=BudgetAir; hotels=Luxury Palace; activities=1", entries[1].Content)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)

	_, err = New([]Worker{{Name: "a", Category: "x"}})
	require.Error(t, err)

	_, err = New([]Worker{
		{Name: "a", Category: "x", Search: Static()},
		{Name: "b", Category: "x", Search: Static()},
	})
	require.Error(t, err)

	_, err = New([]Worker{{Name: "a", Category: FieldPlan, Search: Static()}})
	require.Error(t, err)

	_, err = New([]Worker{{Name: NodeAssemble, Category: "x", Search: Static()}})
	require.ErrorIs(t, err, core.ErrGraphBuild)
}

func TestPlanner_SingleWorkerExhausted(t *testing.T) {
	hotels := Flaky(10, Static(Option{"rating": 4.5}))

	p, err := New([]Worker{{Name: "w", Category: "hotels", Search: hotels, Policy: retry.Immediate(2)}})
	require.NoError(t, err)

	it, trace, err := p.Run(context.Background(), londonParis)
	require.NoError(t, err)

	assert.Equal(t, []string{"hotels"}, it.Missing)
	assert.False(t, it.Complete())
	assert.Len(t, trace.Attempts("w"), 2)
	assert.Equal(t, []string{NodeCoordinator, NodeDelegator, "w", NodeAssemble}, trace.Nodes())
}

func TestPlanner_MaxSteps(t *testing.T) {
	workers := scenarioWorkers(Static(Option{"price": 350.0}))

	p, err := New(workers, func(o *Options) { o.MaxSteps = 6 })
	require.NoError(t, err)

	_, _, err = p.Run(context.Background(), londonParis)
	require.NoError(t, err)

	p, err = New(workers, func(o *Options) { o.MaxSteps = 5 })
	require.NoError(t, err)

	_, trace, err := p.Run(context.Background(), londonParis)
	require.ErrorIs(t, err, core.ErrMaxIterations)

	var mie *core.MaxIterationsError
	require.ErrorAs(t, err, &mie)
	assert.Equal(t, 5, mie.Limit)
	assert.Equal(t, NodeAssemble, mie.Node)
	assert.NotContains(t, trace.Nodes(), NodeAssemble)
}
