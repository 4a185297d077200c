package core

import (
	"fmt"
	"sort"
	"sync"
)

// State is the open, ordered field mapping that flows through a graph run.
//
// Keys keep their first insertion order. Every State also tracks which fields
// were written since it was created or forked; fan-in merges use that set to
// decide what a branch contributed.
type State struct {
	mu      sync.RWMutex
	keys    []string
	values  map[string]any
	written map[string]struct{}
}

// NewState creates an empty state.
func NewState() *State {
	return &State{
		values:  make(map[string]any),
		written: make(map[string]struct{}),
	}
}

// StateFrom builds a state from a plain map. Keys are inserted in sorted order
// so the result is deterministic.
func StateFrom(m map[string]any) *State {
	s := NewState()

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		s.Set(k, m[k])
	}

	return s
}

// Get returns the value stored under key.
func (s *State) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]

	return v, ok
}

// Has reports whether key is present.
func (s *State) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Set stores value under key and marks the field as written.
func (s *State) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.values[key]; !ok {
		s.keys = append(s.keys, key)
	}

	s.values[key] = value
	s.written[key] = struct{}{}
}

// Keys returns the field names in insertion order.
func (s *State) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.keys))
	copy(out, s.keys)

	return out
}

// Len returns the number of fields.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.keys)
}

// Written returns the fields written since creation or the last Fork, in
// insertion order.
func (s *State) Written() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.written))
	for _, k := range s.keys {
		if _, ok := s.written[k]; ok {
			out = append(out, k)
		}
	}

	return out
}

// Clone returns an independent copy including the written set. Values are
// copied shallowly.
func (s *State) Clone() *State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := &State{
		keys:    make([]string, len(s.keys)),
		values:  make(map[string]any, len(s.values)),
		written: make(map[string]struct{}, len(s.written)),
	}

	copy(c.keys, s.keys)

	for k, v := range s.values {
		c.values[k] = v
	}

	for k := range s.written {
		c.written[k] = struct{}{}
	}

	return c
}

// Fork returns a copy with an empty written set. Branches run on forks so
// their contributions can be told apart at the merge.
func (s *State) Fork() *State {
	c := s.Clone()
	c.written = make(map[string]struct{})

	return c
}

// Snapshot returns a plain map copy of the current values.
func (s *State) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}

	return out
}

// Require returns a StateContractError listing every missing field.
func (s *State) Require(fields ...string) error {
	var missing []string

	for _, f := range fields {
		if !s.Has(f) {
			missing = append(missing, f)
		}
	}

	if len(missing) > 0 {
		return &StateContractError{Missing: missing}
	}

	return nil
}

// String renders the state in key order.
func (s *State) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := "{"

	for i, k := range s.keys {
		if i > 0 {
			out += ", "
		}

		out += fmt.Sprintf("%s: %v", k, s.values[k])
	}

	return out + "}"
}

// Get returns the value under key converted to T.
func Get[T any](s *State, key string) (T, bool) {
	var zero T

	v, ok := s.Get(key)
	if !ok {
		return zero, false
	}

	t, ok := v.(T)
	if !ok {
		return zero, false
	}

	return t, true
}

// GetString returns a string field or the empty string.
func GetString(s *State, key string) string {
	v, _ := Get[string](s, key)
	return v
}

// GetInt returns an integer field, accepting any of the numeric kinds a
// decoded snapshot may carry.
func GetInt(s *State, key string) int {
	v, ok := s.Get(key)
	if !ok {
		return 0
	}

	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float32:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// GetFloat returns a float field, accepting integers too.
func GetFloat(s *State, key string) float64 {
	v, ok := s.Get(key)
	if !ok {
		return 0
	}

	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
