package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/taskgraph/internal/codec"
	"github.com/hupe1980/taskgraph/memory"
	"github.com/hupe1980/taskgraph/store"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer

	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()

	return stdout.String(), stderr.String(), err
}

func TestPlanCmd(t *testing.T) {
	out, _, err := execute(t, "--retry-initial-delay=0s", "plan", "--flaky", "2", "--show-trace",
		"Fly from London to Paris under $400, museums please")
	require.NoError(t, err)

	var got planOutput
	require.NoError(t, codec.UnmarshalString(out, &got))

	assert.Equal(t, "London -> Paris: flights=BudgetAir; hotels=Luxury Palace; activities=1", got.Summary)
	assert.NotEmpty(t, got.RunID)
	assert.True(t, got.Itinerary.Complete())

	var retried bool

	for _, line := range got.Nodes {
		assert.NotContains(t, line, "failed")

		if strings.Contains(line, "(retries=2)") {
			retried = true
		}
	}

	assert.True(t, retried, "flight search retried twice: %v", got.Nodes)
}

func TestPlanCmd_RetriesExhausted(t *testing.T) {
	out, _, err := execute(t, "--retry-count=2", "--retry-initial-delay=0s", "plan", "--flaky", "5", "London to Paris")
	require.NoError(t, err)

	var got planOutput
	require.NoError(t, codec.UnmarshalString(out, &got))
	assert.Equal(t, []string{"flights"}, got.Itinerary.Missing)
}

func TestReflectCmd(t *testing.T) {
	out, _, err := execute(t, "reflect", "Describe a weekend in Paris")
	require.NoError(t, err)

	var got reflectOutput
	require.NoError(t, codec.UnmarshalString(out, &got))

	assert.Equal(t, 2, got.Iterations)
	assert.InDelta(t, 10.0, got.Score, 1e-9)
	assert.Len(t, got.History, 2)
	assert.Contains(t, got.Output, "Previous draft")
}

func TestReflectCmd_CallLimit(t *testing.T) {
	_, _, err := execute(t, "reflect", "--max-model-calls", "1", "Describe a weekend in Paris")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model call limit exceeded")
}

func TestReflectCmd_UnknownProvider(t *testing.T) {
	_, _, err := execute(t, "reflect", "--provider", "nope", "task")
	require.Error(t, err)
}

func TestMemoryCmds_Persist(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "taskgraph.db")
	flags := []string{"--store", "sqlite", "--store-dsn", dsn}

	out, _, err := execute(t, append(flags, "memory", "chat", "I love art museums")...)
	require.NoError(t, err)

	var chat chatOutput
	require.NoError(t, codec.UnmarshalString(out, &chat))
	assert.Equal(t, "Sounds great! Since you love art, I recommend the Louvre on your next trip.", chat.Response)
	assert.Equal(t, []string{"I love art museums"}, chat.Preferences)

	_, _, err = execute(t, append(flags, "memory", "remember", "--kind", "note", "Passport expires in May")...)
	require.NoError(t, err)

	out, _, err = execute(t, append(flags, "memory", "list")...)
	require.NoError(t, err)

	var items []memory.Item
	require.NoError(t, codec.UnmarshalString(out, &items))
	require.Len(t, items, 2)
	assert.Equal(t, "I love art museums", items[0].Content)
	assert.Equal(t, "note", items[1].Metadata["kind"])

	out, _, err = execute(t, append(flags, "memory", "recall", "-k", "1", "passport")...)
	require.NoError(t, err)

	var recalled []memory.Scored
	require.NoError(t, codec.UnmarshalString(out, &recalled))
	require.Len(t, recalled, 1)
	assert.Equal(t, "Passport expires in May", recalled[0].Item.Content)

	out, _, err = execute(t, append(flags, "memory", "runs")...)
	require.NoError(t, err)

	var runs []store.RunSummary
	require.NoError(t, codec.UnmarshalString(out, &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, 5, runs[0].Steps)
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("stdout closed") }

func TestMemoryCmds_SaveOnCommandError(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "taskgraph.db")
	flags := []string{"--store", "sqlite", "--store-dsn", dsn}

	cmd := newRootCmd()
	cmd.SetOut(brokenWriter{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append(flags, "memory", "remember", "Passport expires in May"))

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stdout closed")

	out, _, err := execute(t, append(flags, "memory", "list")...)
	require.NoError(t, err)

	var items []memory.Item
	require.NoError(t, codec.UnmarshalString(out, &items))
	require.Len(t, items, 1)
	assert.Equal(t, "Passport expires in May", items[0].Content)
}

func TestMemoryRuns_NoStore(t *testing.T) {
	_, _, err := execute(t, "memory", "runs")
	require.Error(t, err)
}

func TestMetricsFlag(t *testing.T) {
	_, stderr, err := execute(t, "--metrics", "plan", "London to Paris")
	require.NoError(t, err)

	assert.Contains(t, stderr, "taskgraph_runs_total status=success 1")
	assert.Contains(t, stderr, "taskgraph_merges_total 1")
}

func TestInvalidConfig(t *testing.T) {
	_, _, err := execute(t, "--store", "postgres", "memory", "list")
	require.Error(t, err)
}
