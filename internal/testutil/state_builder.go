package testutil

import (
	"github.com/hupe1980/taskgraph/core"
)

// StateBuilder helps construct states with fluent chaining for tests.
// Example:
//
//	st := NewStateBuilder().Set("task", "write a haiku").Set("iteration", 0).Build()
//
// Fields keep the order in which they were set.
type StateBuilder struct {
	keys   []string
	values map[string]any
}

// NewStateBuilder creates an empty builder.
func NewStateBuilder() *StateBuilder {
	return &StateBuilder{values: map[string]any{}}
}

// Set sets or overwrites a field (chainable).
func (b *StateBuilder) Set(key string, val any) *StateBuilder {
	if _, ok := b.values[key]; !ok {
		b.keys = append(b.keys, key)
	}

	b.values[key] = val

	return b
}

// Build returns a *core.State with the configured fields.
func (b *StateBuilder) Build() *core.State {
	s := core.NewState()
	for _, k := range b.keys {
		s.Set(k, b.values[k])
	}

	return s
}
