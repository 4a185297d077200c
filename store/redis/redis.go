// Package redis persists memory snapshots and run traces in Redis.
//
// Key layout, relative to the configured prefix:
//
//	<prefix>memory:items   => HASH item id -> encoded item
//	<prefix>trace:<run_id> => encoded trace record
//	<prefix>traces         => ZSET of run ids scored by save time
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/taskgraph/core"
	"github.com/hupe1980/taskgraph/graph"
	"github.com/hupe1980/taskgraph/memory"
	"github.com/hupe1980/taskgraph/store"
)

// DefaultPrefix namespaces all keys.
const DefaultPrefix = "taskgraph:"

// Options configures a Store.
type Options struct {
	Prefix   string
	Password string
	DB       int
	// TraceTTL expires stored traces; 0 keeps them forever.
	TraceTTL time.Duration
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) func(o *Options) {
	return func(o *Options) { o.Prefix = prefix }
}

// WithTraceTTL expires stored traces after ttl.
func WithTraceTTL(ttl time.Duration) func(o *Options) {
	return func(o *Options) { o.TraceTTL = ttl }
}

// Store is a memory.Snapshotter and graph.TraceSink backed by Redis.
type Store struct {
	client *redis.Client
	opts   Options
	owned  bool
	now    func() time.Time
}

var (
	_ memory.Snapshotter = (*Store)(nil)
	_ graph.TraceSink    = (*Store)(nil)
)

// New connects to the Redis server at addr and verifies the connection.
func New(ctx context.Context, addr string, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{Prefix: DefaultPrefix}
	for _, fn := range optFns {
		fn(&opts)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}

	s := NewFromClient(client, optFns...)
	s.owned = true

	return s, nil
}

// NewFromClient wraps an existing client. Close leaves the client open.
func NewFromClient(client *redis.Client, optFns ...func(o *Options)) *Store {
	opts := Options{Prefix: DefaultPrefix}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Store{client: client, opts: opts, now: time.Now}
}

// Close closes the client if the store created it.
func (s *Store) Close() error {
	if s.owned {
		return s.client.Close()
	}

	return nil
}

func (s *Store) keyItems() string {
	return s.opts.Prefix + "memory:items"
}

func (s *Store) keyTrace(runID string) string {
	return s.opts.Prefix + "trace:" + runID
}

func (s *Store) keyTraces() string {
	return s.opts.Prefix + "traces"
}

// SaveItems atomically replaces the stored snapshot with items.
func (s *Store) SaveItems(ctx context.Context, items []memory.Item) error {
	fields := make(map[string]any, len(items))

	for _, it := range items {
		payload, err := store.EncodeItem(it)
		if err != nil {
			return fmt.Errorf("encode item %s: %w", it.ID, err)
		}

		fields[it.ID] = payload
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.keyItems())

	if len(fields) > 0 {
		pipe.HSet(ctx, s.keyItems(), fields)
	}

	_, err := pipe.Exec(ctx)

	return err
}

// LoadItems returns the stored snapshot in creation order.
func (s *Store) LoadItems(ctx context.Context) ([]memory.Item, error) {
	raw, err := s.client.HGetAll(ctx, s.keyItems()).Result()
	if err != nil {
		return nil, err
	}

	items := make([]memory.Item, 0, len(raw))

	for id, payload := range raw {
		it, err := store.DecodeItem([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("decode item %s: %w", id, err)
		}

		items = append(items, it)
	}

	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}

		return items[i].ID < items[j].ID
	})

	return items, nil
}

// SaveTrace stores a run trace and indexes it by save time.
func (s *Store) SaveTrace(ctx context.Context, trace *core.Trace) error {
	now := s.now()

	payload, err := store.EncodeTrace(trace, now)
	if err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.keyTrace(trace.RunID()), payload, s.opts.TraceTTL)
	pipe.ZAdd(ctx, s.keyTraces(), redis.Z{Score: float64(now.UnixMilli()), Member: trace.RunID()})

	_, err = pipe.Exec(ctx)

	return err
}

// LoadTrace returns the trace of runID or store.ErrNotFound.
func (s *Store) LoadTrace(ctx context.Context, runID string) (*core.Trace, error) {
	rec, err := s.loadRecord(ctx, runID)
	if err != nil {
		return nil, err
	}

	return rec.Trace(), nil
}

func (s *Store) loadRecord(ctx context.Context, runID string) (store.TraceRecord, error) {
	data, err := s.client.Get(ctx, s.keyTrace(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.TraceRecord{}, store.ErrNotFound
	}

	if err != nil {
		return store.TraceRecord{}, err
	}

	rec, err := store.DecodeTrace(data)
	if err != nil {
		return store.TraceRecord{}, fmt.Errorf("decode trace: %w", err)
	}

	return rec, nil
}

// ListRuns returns up to limit stored runs, newest first. Runs whose trace
// expired are dropped from the index.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]store.RunSummary, error) {
	if limit <= 0 {
		limit = 100
	}

	ids, err := s.client.ZRevRange(ctx, s.keyTraces(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	out := make([]store.RunSummary, 0, len(ids))

	for _, id := range ids {
		rec, err := s.loadRecord(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			s.client.ZRem(ctx, s.keyTraces(), id)
			continue
		}

		if err != nil {
			return nil, err
		}

		out = append(out, store.Summarize(rec.Trace(), rec.SavedAt))
	}

	return out, nil
}
