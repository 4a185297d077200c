package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/taskgraph/core"
	"github.com/hupe1980/taskgraph/graph"
	"github.com/hupe1980/taskgraph/internal/testutil"
	"github.com/hupe1980/taskgraph/memory"
	"github.com/hupe1980/taskgraph/store"
)

func newTestStore(t *testing.T, optFns ...func(o *Options)) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	s, err := New(context.Background(), mr.Addr(), optFns...)
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s, mr
}

func TestNew_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(context.Background(), addr)
	require.Error(t, err)
}

func TestStore_Items(t *testing.T) {
	s, mr := newTestStore(t, WithPrefix("test:"))
	ctx := context.Background()

	t0 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	items := []memory.Item{
		{ID: "b", Content: "second", CreatedAt: t0.Add(time.Minute), LastAccess: t0, Quality: 0.5},
		{ID: "a", Content: "first", Embedding: []float32{0.5, 0.25}, CreatedAt: t0, LastAccess: t0, Quality: 0.7,
			Metadata: map[string]string{"kind": "preference"}},
	}

	require.NoError(t, s.SaveItems(ctx, items))
	assert.True(t, mr.Exists("test:memory:items"))

	loaded, err := s.LoadItems(ctx)
	require.NoError(t, err)
	assert.Equal(t, []memory.Item{items[1], items[0]}, loaded)

	require.NoError(t, s.SaveItems(ctx, nil))

	loaded, err = s.LoadItems(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
	assert.False(t, mr.Exists("test:memory:items"))
}

func TestStore_MemorySnapshot(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	src, err := memory.New(func(o *memory.Options) { o.Snapshotter = s })
	require.NoError(t, err)

	_, err = src.Remember(ctx, "Prefers aisle seats")
	require.NoError(t, err)
	require.NoError(t, src.Save(ctx))

	dst, err := memory.New(func(o *memory.Options) { o.Snapshotter = s })
	require.NoError(t, err)
	require.NoError(t, dst.Load(ctx))

	require.Equal(t, 1, dst.Len())
	assert.Equal(t, "Prefers aisle seats", dst.Items()[0].Content)
}

func TestStore_Traces(t *testing.T) {
	s, mr := newTestStore(t, WithTraceTTL(time.Hour))
	ctx := context.Background()

	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	g, err := graph.NewBuilder().
		AddNode("a", testutil.FailTask(core.Fatal(assert.AnError))).
		SetEntry("a").
		SetTerminals("a").
		Compile(graph.WithTraceSink(s))
	require.NoError(t, err)

	_, _, err = g.Invoke(ctx, nil, graph.RunID("first"))
	require.Error(t, err)

	g2, err := graph.NewBuilder().
		AddNode("a", testutil.Noop()).
		SetEntry("a").
		SetTerminals("a").
		Compile(graph.WithTraceSink(s))
	require.NoError(t, err)

	_, _, err = g2.Invoke(ctx, nil, graph.RunID("second"))
	require.NoError(t, err)

	got, err := s.LoadTrace(ctx, "first")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got.Nodes())
	assert.True(t, got.Steps()[0].Failed())

	assert.Equal(t, time.Hour, mr.TTL(DefaultPrefix+"trace:first"))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "second", runs[0].RunID)
	assert.Equal(t, 0, runs[0].Failed)
	assert.Equal(t, "first", runs[1].RunID)
	assert.Equal(t, 1, runs[1].Failed)

	mr.FastForward(2 * time.Hour)

	_, err = s.LoadTrace(ctx, "first")
	require.ErrorIs(t, err, store.ErrNotFound)

	runs, err = s.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestNewFromClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	s := NewFromClient(client)
	require.NoError(t, s.Close())
	require.NoError(t, client.Ping(context.Background()).Err(), "client stays open")
	require.NoError(t, client.Close())
}
