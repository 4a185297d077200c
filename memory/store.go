package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/taskgraph/core"
	"github.com/hupe1980/taskgraph/embedding"
	"github.com/hupe1980/taskgraph/logging"
)

// Snapshotter persists long-term items outside the process.
type Snapshotter interface {
	SaveItems(ctx context.Context, items []Item) error
	LoadItems(ctx context.Context) ([]Item, error)
}

// Options configures a Store.
type Options struct {
	Embedder core.Embedder
	// Scorer overrides the weighted scorer built from Weights and HalfLife.
	Scorer   Scorer
	Weights  Weights
	HalfLife time.Duration
	Feedback FeedbackPolicy

	ShortTermCapacity int
	// LongTermCapacity bounds the long-term collection; 0 means unbounded.
	LongTermCapacity int
	// ContextMinScore drops long-term entries scoring below it from BuildContext.
	ContextMinScore float64

	Snapshotter Snapshotter
	Clock       func() time.Time
	IDGenerator func() string
	Logger      logging.Logger
}

// Store is the two-tier memory: a bounded short-term interaction buffer and
// an embedding-indexed long-term collection with scored recall.
type Store struct {
	*core.LoggerAdapter
	short    *ShortTerm
	long     *LongTerm
	embedder core.Embedder
	scorer   Scorer
	feedback FeedbackPolicy
	minScore float64
	snap     Snapshotter
	now      func() time.Time
	newID    func() string
}

// New creates a Store. It fails when the scoring weights are invalid.
func New(optFns ...func(o *Options)) (*Store, error) {
	opts := Options{
		Weights:           DefaultWeights,
		HalfLife:          DefaultHalfLife,
		ShortTermCapacity: DefaultShortTermCapacity,
		Clock:             time.Now,
		IDGenerator:       uuid.NewString,
		Logger:            logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Scorer == nil {
		if err := opts.Weights.Validate(); err != nil {
			return nil, err
		}

		opts.Scorer = NewWeightedScorer(opts.Weights, opts.HalfLife)
	}

	if opts.Embedder == nil {
		opts.Embedder = embedding.NewHashEmbedder(embedding.DefaultDimension)
	}

	if opts.Feedback == nil {
		opts.Feedback = NewMovingAverageFeedback()
	}

	return &Store{
		LoggerAdapter: core.NewLoggerAdapter(opts.Logger),
		short:         NewShortTerm(opts.ShortTermCapacity),
		long:          NewLongTerm(opts.LongTermCapacity),
		embedder:      opts.Embedder,
		scorer:        opts.Scorer,
		feedback:      opts.Feedback,
		minScore:      opts.ContextMinScore,
		snap:          opts.Snapshotter,
		now:           opts.Clock,
		newID:         opts.IDGenerator,
	}, nil
}

// WithMetadata attaches a metadata pair to a remembered item.
func WithMetadata(key, value string) func(it *Item) {
	return func(it *Item) {
		if it.Metadata == nil {
			it.Metadata = map[string]string{}
		}

		it.Metadata[key] = value
	}
}

// Remember embeds content and stores it as a long-term item with the
// feedback policy's initial quality. Embedder failures yield a
// *core.EmbeddingError.
func (s *Store) Remember(ctx context.Context, content string, optFns ...func(it *Item)) (Item, error) {
	if strings.TrimSpace(content) == "" {
		return Item{}, errors.New("memory: empty content")
	}

	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return Item{}, &core.EmbeddingError{Err: err}
	}

	now := s.now()
	it := Item{
		ID:         s.newID(),
		Content:    content,
		Embedding:  vec,
		CreatedAt:  now,
		LastAccess: now,
		Quality:    s.feedback.Initial(),
	}

	for _, fn := range optFns {
		fn(&it)
	}

	if evicted := s.long.Add(it); len(evicted) > 0 {
		s.LogDebug("memory.longterm.evicted", "count", len(evicted))
	}

	s.LogDebug("memory.remember", "id", it.ID)

	return it.clone(), nil
}

// AddInteraction appends an entry to the short-term buffer.
func (s *Store) AddInteraction(role, content string) {
	if _, evicted := s.short.Add(Entry{Role: role, Content: content, Timestamp: s.now()}); evicted {
		s.LogDebug("memory.shortterm.evicted")
	}
}

// Recall returns the k best long-term items for query. Returned items have
// their access count incremented and quality reinforced; items idle beyond
// the feedback policy's window decay toward the floor.
func (s *Store) Recall(ctx context.Context, query string, k int) ([]Scored, error) {
	if k <= 0 {
		return nil, nil
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, &core.EmbeddingError{Err: err}
	}

	now := s.now()
	results := s.long.Search(s.scorer, vec, k, now)

	selected := make(map[string]bool, len(results))
	for _, r := range results {
		selected[r.Item.ID] = true
	}

	updated := make(map[string]Item, len(results))
	decayed := 0

	s.long.Update(selected, func(it *Item, hit bool) {
		if hit {
			s.feedback.Reinforce(it, now)
			updated[it.ID] = it.clone()

			return
		}

		if s.feedback.Decay(it, now) {
			decayed++
		}
	})

	out := make([]Scored, 0, len(results))

	for _, r := range results {
		it, ok := updated[r.Item.ID]
		if !ok {
			// removed concurrently between search and bookkeeping
			continue
		}

		r.Item = it
		out = append(out, r)
	}

	s.LogDebug("memory.recall", "k", k, "returned", len(out), "decayed", decayed)

	return out, nil
}

// BuildContext returns the short-term block (oldest to newest) followed by
// the recalled long-term block (score descending).
func (s *Store) BuildContext(ctx context.Context, query string, k int) ([]ContextEntry, error) {
	recalled, err := s.Recall(ctx, query, k)
	if err != nil {
		return nil, err
	}

	short := s.short.Entries()
	out := make([]ContextEntry, 0, len(short)+len(recalled))

	for _, e := range short {
		out = append(out, ContextEntry{Source: SourceShortTerm, Role: e.Role, Content: e.Content})
	}

	for _, r := range recalled {
		if r.Score < s.minScore {
			continue
		}

		out = append(out, ContextEntry{Source: SourceLongTerm, Content: r.Item.Content, Score: r.Score, ItemID: r.Item.ID})
	}

	return out, nil
}

// Decay applies idle decay to every long-term item and returns how many changed.
func (s *Store) Decay() int {
	now := s.now()
	n := 0

	s.long.Update(nil, func(it *Item, _ bool) {
		if s.feedback.Decay(it, now) {
			n++
		}
	})

	return n
}

// Prune removes long-term items with quality below minQuality.
func (s *Store) Prune(minQuality float64) []string {
	removed := s.long.Prune(minQuality)
	if len(removed) > 0 {
		s.LogInfo("memory.prune", "removed", len(removed), "min_quality", minQuality)
	}

	return removed
}

// Get returns a copy of the long-term item with id.
func (s *Store) Get(id string) (Item, error) { return s.long.Get(id) }

// Forget removes the long-term item with id.
func (s *Store) Forget(id string) error { return s.long.Delete(id) }

// Items returns copies of all long-term items ordered by creation time.
func (s *Store) Items() []Item { return s.long.All() }

// Len returns the number of long-term items.
func (s *Store) Len() int { return s.long.Len() }

// ShortTerm exposes the interaction buffer.
func (s *Store) ShortTerm() *ShortTerm { return s.short }

// Save writes all long-term items to the configured snapshotter.
func (s *Store) Save(ctx context.Context) error {
	if s.snap == nil {
		return errors.New("memory: no snapshotter configured")
	}

	items := s.long.All()
	if err := s.snap.SaveItems(ctx, items); err != nil {
		return fmt.Errorf("memory: save snapshot: %w", err)
	}

	s.LogInfo("memory.snapshot.saved", "items", len(items))

	return nil
}

// Load replaces the long-term items with the snapshotter's contents.
func (s *Store) Load(ctx context.Context) error {
	if s.snap == nil {
		return errors.New("memory: no snapshotter configured")
	}

	items, err := s.snap.LoadItems(ctx)
	if err != nil {
		return fmt.Errorf("memory: load snapshot: %w", err)
	}

	s.long.Replace(items)
	s.LogInfo("memory.snapshot.loaded", "items", len(items))

	return nil
}

// RenderContext formats context entries as plain text lines.
func RenderContext(entries []ContextEntry) string {
	var b strings.Builder

	for _, e := range entries {
		switch e.Source {
		case SourceShortTerm:
			fmt.Fprintf(&b, "[recent] %s: %s\n", e.Role, e.Content)
		default:
			fmt.Fprintf(&b, "[memory %.2f] %s\n", e.Score, e.Content)
		}
	}

	return b.String()
}
