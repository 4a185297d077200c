package memory

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when an item id is unknown.
var ErrNotFound = fmt.Errorf("memory: item not found")

// LongTerm is the process-local vector-indexed item collection.
//
// Concurrency: protected by RWMutex. Scoring runs under the read lock so
// recalls proceed concurrently; inserts, evictions and bookkeeping take the
// write lock. Search is a linear scan over all items, which is adequate for
// the thousands of items an agent session accumulates.
type LongTerm struct {
	mu       sync.RWMutex
	items    map[string]*Item
	capacity int
}

// NewLongTerm creates an index bounded to capacity items (0 = unbounded).
func NewLongTerm(capacity int) *LongTerm {
	return &LongTerm{items: make(map[string]*Item), capacity: capacity}
}

// Add inserts item and returns the ids evicted to respect the capacity
// bound. Eviction removes the lowest quality items first, oldest among equals.
func (l *LongTerm) Add(item Item) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := item.clone()
	l.items[c.ID] = &c

	if l.capacity <= 0 || len(l.items) <= l.capacity {
		return nil
	}

	victims := l.sortedLocked(func(a, b *Item) bool {
		if a.Quality != b.Quality {
			return a.Quality < b.Quality
		}

		return a.CreatedAt.Before(b.CreatedAt)
	})

	var evicted []string

	for _, v := range victims {
		if len(l.items) <= l.capacity {
			break
		}

		if v.ID == c.ID {
			continue
		}

		delete(l.items, v.ID)
		evicted = append(evicted, v.ID)
	}

	return evicted
}

// Get returns a copy of the item with id.
func (l *LongTerm) Get(id string) (Item, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	it, ok := l.items[id]
	if !ok {
		return Item{}, ErrNotFound
	}

	return it.clone(), nil
}

// Delete removes the item with id.
func (l *LongTerm) Delete(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.items[id]; !ok {
		return ErrNotFound
	}

	delete(l.items, id)

	return nil
}

// Len returns the number of items.
func (l *LongTerm) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.items)
}

// All returns copies of every item ordered by creation time.
func (l *LongTerm) All() []Item {
	l.mu.RLock()
	defer l.mu.RUnlock()

	sorted := l.sortedLocked(func(a, b *Item) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}

		return a.ID < b.ID
	})

	out := make([]Item, len(sorted))
	for i, it := range sorted {
		out[i] = it.clone()
	}

	return out
}

// Replace swaps the whole collection, applying the capacity bound. Readers
// see either the old or the new collection, never a partial one.
func (l *LongTerm) Replace(items []Item) {
	next := &LongTerm{items: make(map[string]*Item, len(items)), capacity: l.capacity}
	for _, it := range items {
		next.Add(it)
	}

	l.mu.Lock()
	l.items = next.items
	l.mu.Unlock()
}

// Search scores every item and returns the k best, ties broken by newer
// creation time and then by id.
func (l *LongTerm) Search(scorer Scorer, query []float32, k int, now time.Time) []Scored {
	if k <= 0 {
		return nil
	}

	l.mu.RLock()

	scored := make([]Scored, 0, len(l.items))
	for _, it := range l.items {
		scored = append(scored, scorer.Score(query, it, now))
	}

	l.mu.RUnlock()

	sort.Slice(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}

		if !a.Item.CreatedAt.Equal(b.Item.CreatedAt) {
			return a.Item.CreatedAt.After(b.Item.CreatedAt)
		}

		return a.Item.ID < b.Item.ID
	})

	if len(scored) > k {
		scored = scored[:k]
	}

	return scored
}

// Update applies fn to every item under the write lock. fn receives the
// stored item and whether its id is in selected.
func (l *LongTerm) Update(selected map[string]bool, fn func(it *Item, selected bool)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, it := range l.items {
		fn(it, selected[id])
	}
}

// Prune removes items whose quality is below minQuality and returns their ids.
func (l *LongTerm) Prune(minQuality float64) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var removed []string

	for id, it := range l.items {
		if it.Quality < minQuality {
			delete(l.items, id)
			removed = append(removed, id)
		}
	}

	sort.Strings(removed)

	return removed
}

func (l *LongTerm) sortedLocked(less func(a, b *Item) bool) []*Item {
	out := make([]*Item, 0, len(l.items))
	for _, it := range l.items {
		out = append(out, it)
	}

	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })

	return out
}
