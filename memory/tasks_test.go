package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/taskgraph/core"
)

func TestTasks_RememberRecallContext(t *testing.T) {
	clock := newFakeClock()
	s := newTestStore(t, clock)
	ctx := context.Background()

	state := core.StateFrom(map[string]any{"note": "I prefer museums in paris", "query": "paris museums"})

	state, err := RememberTask(s, "note").Run(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, "m01", core.GetString(state, FieldMemoryID))

	state, err = InteractionTask(s, "user", "query").Run(ctx, state)
	require.NoError(t, err)
	assert.Equal(t, 1, s.ShortTerm().Len())

	state, err = RecallTask(s, "query", 3).Run(ctx, state)
	require.NoError(t, err)

	recalled, ok := core.Get[[]Scored](state, FieldRecalled)
	require.True(t, ok)
	require.Len(t, recalled, 1)
	assert.Equal(t, "note", recalled[0].Item.Metadata["field"])

	state, err = ContextTask(s, "query", 3).Run(ctx, state)
	require.NoError(t, err)

	entries, ok := core.Get[[]ContextEntry](state, FieldContext)
	require.True(t, ok)
	require.Len(t, entries, 2)
	assert.Equal(t, SourceShortTerm, entries[0].Source)
	assert.Equal(t, SourceLongTerm, entries[1].Source)
}

func TestTasks_MissingFieldIsFatal(t *testing.T) {
	s := newTestStore(t, newFakeClock())

	_, err := RememberTask(s, "note").Run(context.Background(), core.NewState())
	require.Error(t, err)
	assert.True(t, core.IsFatal(err))
	assert.ErrorIs(t, err, core.ErrStateContract)

	_, err = InteractionTask(s, "user", "msg").Run(context.Background(), core.NewState())
	assert.ErrorIs(t, err, core.ErrStateContract)
}

func TestExtractPreferences(t *testing.T) {
	prefs := ExtractPreferences("Plan a trip. I prefer museums! I want a cheap hotel? The weather is nice.")

	assert.Equal(t, []string{"I prefer museums", "I want a cheap hotel"}, prefs)
	assert.Empty(t, ExtractPreferences("no opinions here"))
}

func TestPreferenceTask(t *testing.T) {
	s := newTestStore(t, newFakeClock())
	state := core.StateFrom(map[string]any{"message": "I like jazz. Book something."})

	state, err := PreferenceTask(s, "message").Run(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, []string{"I like jazz"}, state.Snapshot()[FieldPreferences])

	items := s.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "preference", items[0].Metadata["kind"])
}
