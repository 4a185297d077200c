package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/taskgraph/core"
	"github.com/hupe1980/taskgraph/graph"
	"github.com/hupe1980/taskgraph/internal/testutil"
	"github.com/hupe1980/taskgraph/memory"
	"github.com/hupe1980/taskgraph/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(":memory:")
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestStore_Items(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t0 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	items := []memory.Item{
		{ID: "b", Content: "second", CreatedAt: t0.Add(time.Minute), LastAccess: t0, Quality: 0.5},
		{ID: "a", Content: "first", Embedding: []float32{0.5, 0.25}, CreatedAt: t0, LastAccess: t0, Quality: 0.7,
			Metadata: map[string]string{"kind": "preference"}},
	}

	loaded, err := s.LoadItems(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)

	require.NoError(t, s.SaveItems(ctx, items))

	loaded, err = s.LoadItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, []memory.Item{items[1], items[0]}, loaded)

	require.NoError(t, s.SaveItems(ctx, items[:1]))

	loaded, err = s.LoadItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, []memory.Item{items[0]}, loaded, "save replaces the snapshot")
}

func TestStore_MemorySnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	src, err := memory.New(func(o *memory.Options) { o.Snapshotter = s })
	require.NoError(t, err)

	_, err = src.Remember(ctx, "I prefer window seats")
	require.NoError(t, err)
	_, err = src.Remember(ctx, "Allergic to peanuts")
	require.NoError(t, err)
	require.NoError(t, src.Save(ctx))

	dst, err := memory.New(func(o *memory.Options) { o.Snapshotter = s })
	require.NoError(t, err)
	require.NoError(t, dst.Load(ctx))

	assert.Equal(t, 2, dst.Len())

	res, err := dst.Recall(ctx, "window seat", 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "I prefer window seats", res[0].Item.Content)
}

func TestStore_Traces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g, err := graph.NewBuilder().
		AddNode("a", testutil.SetTask("x", 1)).
		AddNode("b", testutil.Noop()).
		AddEdge("a", "b").
		SetEntry("a").
		SetTerminals("b").
		Compile(graph.WithTraceSink(s))
	require.NoError(t, err)

	_, trace, err := g.Invoke(ctx, nil, graph.RunID("run-1"))
	require.NoError(t, err)

	got, err := s.LoadTrace(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID())
	assert.Equal(t, trace.Nodes(), got.Nodes())
	assert.Equal(t, map[string]any{"x": float64(1)}, got.Filter(core.StepNode)[0].Output, "numbers decode as float64")

	_, err = s.LoadTrace(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)
	assert.Equal(t, 2, runs[0].Steps)
	assert.Equal(t, 0, runs[0].Failed)
}
