package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/taskgraph/core"
	"github.com/hupe1980/taskgraph/embedding"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func seqIDs() func() string {
	var mu sync.Mutex
	n := 0

	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("m%02d", n)
	}
}

func newTestStore(t *testing.T, clock *fakeClock, optFns ...func(o *Options)) *Store {
	t.Helper()

	base := func(o *Options) {
		o.Clock = clock.Now
		o.IDGenerator = seqIDs()
		o.Embedder = embedding.NewHashEmbedder(1024)
	}

	s, err := New(append([]func(o *Options){base}, optFns...)...)
	require.NoError(t, err)

	return s
}

func ids(res []Scored) []string {
	out := make([]string, len(res))
	for i, r := range res {
		out[i] = r.Item.ID
	}

	return out
}

func TestStore_RememberDefaults(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock)

	it, err := s.Remember(context.Background(), "I prefer museums", WithMetadata("kind", "preference"))
	require.NoError(t, err)

	assert.Equal(t, "m01", it.ID)
	assert.InDelta(t, DefaultInitialQuality, it.Quality, 1e-9)
	assert.Equal(t, clock.Now(), it.CreatedAt)
	assert.Equal(t, "preference", it.Metadata["kind"])
	assert.Len(t, it.Embedding, 1024)
	assert.Equal(t, 1, s.Len())

	_, err = s.Remember(context.Background(), "   ")
	assert.Error(t, err)
}

func TestStore_RecallRanksByScore(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock)
	ctx := context.Background()

	_, _ = s.Remember(ctx, "paris museums")
	clock.Advance(time.Hour)
	_, _ = s.Remember(ctx, "london flights")
	clock.Advance(time.Hour)
	_, _ = s.Remember(ctx, "paris food")

	res, err := s.Recall(ctx, "paris museums", 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"m01", "m03"}, ids(res))
	assert.Greater(t, res[0].Score, res[1].Score)
	assert.InDelta(t, 1.0, res[0].Relevance, 1e-6)
}

func TestStore_RecallTieBreaksByNewer(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock, func(o *Options) { o.Weights = Weights{Alpha: 1} })
	ctx := context.Background()

	_, _ = s.Remember(ctx, "hotel near louvre")
	clock.Advance(time.Minute)
	_, _ = s.Remember(ctx, "hotel near louvre")

	res, err := s.Recall(ctx, "hotel near louvre", 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"m02", "m01"}, ids(res))
	assert.InDelta(t, res[0].Score, res[1].Score, 1e-12)
}

func TestStore_RecallIsIdempotentWithoutWrites(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock)
	ctx := context.Background()

	for _, c := range []string{"museum pass paris", "louvre tickets", "paris metro", "rome museum"} {
		_, _ = s.Remember(ctx, c)
	}

	first, err := s.Recall(ctx, "paris museum", 3)
	require.NoError(t, err)

	second, err := s.Recall(ctx, "paris museum", 3)
	require.NoError(t, err)

	assert.Equal(t, ids(first), ids(second))
}

func TestStore_RecallReinforcesReturnedItems(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock)
	ctx := context.Background()

	_, _ = s.Remember(ctx, "paris museums")
	_, _ = s.Remember(ctx, "london flights")

	clock.Advance(time.Minute)

	res, err := s.Recall(ctx, "paris museums", 1)
	require.NoError(t, err)
	require.Len(t, res, 1)

	assert.Equal(t, 1, res[0].Item.AccessCount)
	assert.InDelta(t, 0.55, res[0].Item.Quality, 1e-9)
	assert.Equal(t, clock.Now(), res[0].Item.LastAccess)

	other, _ := s.Get("m02")
	assert.Zero(t, other.AccessCount)
	assert.InDelta(t, 0.5, other.Quality, 1e-9)
}

func TestStore_IdleItemsDecayTowardFloor(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock)
	ctx := context.Background()

	_, _ = s.Remember(ctx, "paris museums")
	_, _ = s.Remember(ctx, "london flights")

	clock.Advance(DefaultIdleWindow + time.Hour)

	_, err := s.Recall(ctx, "paris museums", 1)
	require.NoError(t, err)

	idle, _ := s.Get("m02")
	assert.InDelta(t, DefaultFloor+(0.5-DefaultFloor)*(1-DefaultDecayRate), idle.Quality, 1e-9)

	for i := 0; i < 100; i++ {
		clock.Advance(DefaultIdleWindow)
		s.Decay()
	}

	idle, _ = s.Get("m02")
	assert.GreaterOrEqual(t, idle.Quality, DefaultFloor)
}

func TestStore_EmbeddingFailure(t *testing.T) {
	boom := errors.New("embedder offline")
	s, err := New(func(o *Options) {
		o.Embedder = core.EmbedderFunc(func(context.Context, string) ([]float32, error) { return nil, boom })
	})
	require.NoError(t, err)

	_, err = s.Remember(context.Background(), "x")
	assert.ErrorIs(t, err, core.ErrEmbedding)
	assert.ErrorIs(t, err, boom)

	_, err = s.Recall(context.Background(), "x", 3)
	assert.ErrorIs(t, err, core.ErrEmbedding)
	assert.Zero(t, s.Len())
}

func TestStore_InvalidWeights(t *testing.T) {
	_, err := New(func(o *Options) { o.Weights = Weights{Alpha: 0.9, Beta: 0.9} })
	assert.Error(t, err)
}

func TestStore_LongTermCapacity(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock, func(o *Options) { o.LongTermCapacity = 2 })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = s.Remember(ctx, fmt.Sprintf("note %d", i))
		clock.Advance(time.Second)
	}

	assert.Equal(t, 2, s.Len())

	_, err := s.Get("m01")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_BuildContextOrdering(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock)
	ctx := context.Background()

	s.AddInteraction("user", "plan a trip to paris")
	s.AddInteraction("assistant", "when do you want to travel?")
	_, _ = s.Remember(ctx, "user prefers museums in paris")
	_, _ = s.Remember(ctx, "user dislikes night flights")

	entries, err := s.BuildContext(ctx, "paris museums", 2)
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, SourceShortTerm, entries[0].Source)
	assert.Equal(t, "plan a trip to paris", entries[0].Content)
	assert.Equal(t, "assistant", entries[1].Role)
	assert.Equal(t, SourceLongTerm, entries[2].Source)
	assert.Equal(t, "user prefers museums in paris", entries[2].Content)
	assert.GreaterOrEqual(t, entries[2].Score, entries[3].Score)

	text := RenderContext(entries)
	assert.Contains(t, text, "[recent] user: plan a trip to paris")
	assert.Contains(t, text, "user prefers museums in paris")
}

func TestStore_BuildContextMinScore(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock, func(o *Options) { o.ContextMinScore = 0.9 })
	ctx := context.Background()

	_, _ = s.Remember(ctx, "completely unrelated")

	entries, err := s.BuildContext(ctx, "paris museums", 3)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStore_Prune(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock)
	ctx := context.Background()

	_, _ = s.Remember(ctx, "a")
	_, _ = s.Remember(ctx, "b")
	_, _ = s.Recall(ctx, "a", 1)

	removed := s.Prune(0.52)
	assert.Equal(t, []string{"m02"}, removed)
	assert.Equal(t, 1, s.Len())
	require.NoError(t, s.Forget("m01"))
	assert.Zero(t, s.Len())
}

type memSnapshotter struct {
	items []Item
}

func (m *memSnapshotter) SaveItems(_ context.Context, items []Item) error {
	m.items = items
	return nil
}

func (m *memSnapshotter) LoadItems(context.Context) ([]Item, error) {
	return m.items, nil
}

func TestStore_SaveLoad(t *testing.T) {
	clock := newFakeClock()
	snap := &memSnapshotter{}
	s := newTestStore(t, clock, func(o *Options) { o.Snapshotter = snap })
	ctx := context.Background()

	_, _ = s.Remember(ctx, "keep me")
	require.NoError(t, s.Save(ctx))

	restored := newTestStore(t, clock, func(o *Options) { o.Snapshotter = snap })
	require.NoError(t, restored.Load(ctx))

	items := restored.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "keep me", items[0].Content)

	bare := newTestStore(t, clock)
	assert.Error(t, bare.Save(ctx))
	assert.Error(t, bare.Load(ctx))
}

func TestStore_ConcurrentRememberRecall(t *testing.T) {
	s, err := New()
	require.NoError(t, err)

	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)

		go func(i int) {
			defer wg.Done()
			_, _ = s.Remember(ctx, fmt.Sprintf("fact %d", i))
		}(i)

		go func() {
			defer wg.Done()
			_, _ = s.Recall(ctx, "fact", 3)
		}()
	}

	wg.Wait()
	assert.Equal(t, 10, s.Len())
}
