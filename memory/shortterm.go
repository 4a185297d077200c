package memory

import "sync"

// DefaultShortTermCapacity is the buffer size used when none is configured.
const DefaultShortTermCapacity = 10

// ShortTerm is a bounded FIFO of recent interactions. When full, adding an
// entry evicts the oldest one.
type ShortTerm struct {
	mu       sync.Mutex
	capacity int
	entries  []Entry
}

// NewShortTerm creates a buffer holding at most capacity entries.
func NewShortTerm(capacity int) *ShortTerm {
	if capacity <= 0 {
		capacity = DefaultShortTermCapacity
	}

	return &ShortTerm{capacity: capacity, entries: make([]Entry, 0, capacity)}
}

// Add appends e and returns the evicted entry, if any.
func (s *ShortTerm) Add(e Entry) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		evicted Entry
		ok      bool
	)

	if len(s.entries) == s.capacity {
		evicted, ok = s.entries[0], true
		copy(s.entries, s.entries[1:])
		s.entries = s.entries[:len(s.entries)-1]
	}

	s.entries = append(s.entries, e)

	return evicted, ok
}

// Entries returns the buffered entries from oldest to newest.
func (s *ShortTerm) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)

	return out
}

// Recent returns up to n of the newest entries, oldest first.
func (s *ShortTerm) Recent(n int) []Entry {
	all := s.Entries()
	if n <= 0 || n >= len(all) {
		return all
	}

	return all[len(all)-n:]
}

// Len returns the number of buffered entries.
func (s *ShortTerm) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

// Capacity returns the buffer bound.
func (s *ShortTerm) Capacity() int { return s.capacity }

// Clear drops every entry.
func (s *ShortTerm) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = s.entries[:0]
}
