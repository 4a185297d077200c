package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/taskgraph/core"
)

// State fields written by the memory tasks.
const (
	FieldMemoryID    = "memory_id"
	FieldRecalled    = "recalled"
	FieldContext     = "context"
	FieldPreferences = "preferences"
)

// InteractionTask records the string in field as a short-term interaction
// with the given role.
func InteractionTask(s *Store, role, field string) core.Task {
	return core.TaskFunc(func(_ context.Context, state *core.State) (*core.State, error) {
		content, ok := core.Get[string](state, field)
		if !ok {
			return nil, core.Fatal(&core.StateContractError{Missing: []string{field}})
		}

		s.AddInteraction(role, content)

		return state, nil
	})
}

// RememberTask stores the string in field as a long-term item and writes the
// new item id to FieldMemoryID.
func RememberTask(s *Store, field string) core.Task {
	return core.TaskFunc(func(ctx context.Context, state *core.State) (*core.State, error) {
		content, ok := core.Get[string](state, field)
		if !ok {
			return nil, core.Fatal(&core.StateContractError{Missing: []string{field}})
		}

		it, err := s.Remember(ctx, content, WithMetadata("field", field))
		if err != nil {
			return nil, err
		}

		state.Set(FieldMemoryID, it.ID)

		return state, nil
	})
}

// RecallTask recalls the k best items for the query in field and writes them
// to FieldRecalled as []Scored.
func RecallTask(s *Store, field string, k int) core.Task {
	return core.TaskFunc(func(ctx context.Context, state *core.State) (*core.State, error) {
		query := core.GetString(state, field)

		res, err := s.Recall(ctx, query, k)
		if err != nil {
			return nil, err
		}

		state.Set(FieldRecalled, res)

		return state, nil
	})
}

// ContextTask builds the two-tier context for the query in field and writes
// it to FieldContext as []ContextEntry.
func ContextTask(s *Store, field string, k int) core.Task {
	return core.TaskFunc(func(ctx context.Context, state *core.State) (*core.State, error) {
		entries, err := s.BuildContext(ctx, core.GetString(state, field), k)
		if err != nil {
			return nil, err
		}

		state.Set(FieldContext, entries)

		return state, nil
	})
}

var preferenceMarkers = []string{"i like", "i prefer", "i want", "i love", "i need"}

// ExtractPreferences returns the sentences of text that state a preference.
func ExtractPreferences(text string) []string {
	var out []string

	for _, sentence := range strings.FieldsFunc(text, func(r rune) bool { return r == '.' || r == '!' || r == '?' || r == '\n' }) {
		sentence = strings.TrimSpace(sentence)
		lower := strings.ToLower(sentence)

		for _, m := range preferenceMarkers {
			if strings.Contains(lower, m) {
				out = append(out, sentence)
				break
			}
		}
	}

	return out
}

// PreferenceTask remembers every preference stated in field as a long-term
// item tagged kind=preference and writes the stored texts to FieldPreferences.
func PreferenceTask(s *Store, field string) core.Task {
	return core.TaskFunc(func(ctx context.Context, state *core.State) (*core.State, error) {
		prefs := ExtractPreferences(core.GetString(state, field))

		for _, p := range prefs {
			if _, err := s.Remember(ctx, p, WithMetadata("kind", "preference")); err != nil {
				return nil, fmt.Errorf("remember preference: %w", err)
			}
		}

		state.Set(FieldPreferences, prefs)

		return state, nil
	})
}
