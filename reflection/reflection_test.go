package reflection

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/taskgraph/core"
	"github.com/hupe1980/taskgraph/memory"
	"github.com/hupe1980/taskgraph/model"
	"github.com/hupe1980/taskgraph/retry"
)

type countingGenerator struct {
	calls  atomic.Int32
	inputs []GenerateInput
}

func (g *countingGenerator) Generate(_ context.Context, in GenerateInput) (string, error) {
	n := g.calls.Add(1)
	g.inputs = append(g.inputs, in)

	return "draft " + string(rune('0'+n)), nil
}

func constantCritic(score float64) Critic {
	return CriticFunc(func(context.Context, string, string) (Verdict, error) {
		return Verdict{Score: score, Critique: "needs work"}, nil
	})
}

func TestRun_PerfectScoreFinishesAfterOnePass(t *testing.T) {
	gen := &countingGenerator{}

	c, err := New(gen, constantCritic(10))
	require.NoError(t, err)

	res, err := c.Run(context.Background(), "write a haiku")
	require.NoError(t, err)

	assert.Equal(t, int32(1), gen.calls.Load())
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, "draft 1", res.Output)
	assert.Equal(t, 10.0, res.Score)
	assert.Equal(t, []string{`Iter 1: proposed "draft 1" (score=10.00)`}, res.History)
	assert.Equal(t, []string{NodeGenerate, NodeCritique, NodeFinalize}, res.Trace.Nodes())
}

func TestRun_ZeroScoreRunsExactlyCapPasses(t *testing.T) {
	gen := &countingGenerator{}

	c, err := New(gen, constantCritic(0), func(o *Options) { o.MaxIterations = 4 })
	require.NoError(t, err)

	res, err := c.Run(context.Background(), "write a haiku")
	require.NoError(t, err)

	assert.Equal(t, int32(4), gen.calls.Load())
	assert.Equal(t, 4, res.Iterations)
	assert.Equal(t, "draft 4", res.Output)
	assert.Len(t, res.History, 4)
	assert.Len(t, res.Trace.Filter(core.StepNode), 2*4+1)

	require.Len(t, gen.inputs, 4)
	assert.False(t, gen.inputs[0].Revising())
	assert.Equal(t, 1, gen.inputs[0].Iteration)
	assert.True(t, gen.inputs[1].Revising())
	assert.Equal(t, "draft 1", gen.inputs[1].Draft)
	assert.Equal(t, "needs work", gen.inputs[1].Critique)
}

func TestRun_StopsWhenThresholdReached(t *testing.T) {
	gen := &countingGenerator{}
	scores := []float64{3, 6, 9, 10}

	var i atomic.Int32

	critic := CriticFunc(func(context.Context, string, string) (Verdict, error) {
		return Verdict{Score: scores[i.Add(1)-1]}, nil
	})

	c, err := New(gen, critic, func(o *Options) {
		o.Threshold = 8.5
		o.MaxIterations = 5
	})
	require.NoError(t, err)

	res, err := c.Run(context.Background(), "plan a trip")
	require.NoError(t, err)

	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, 9.0, res.Score)
}

func TestRun_GeneratorRetried(t *testing.T) {
	var calls atomic.Int32

	gen := GeneratorFunc(func(context.Context, GenerateInput) (string, error) {
		if calls.Add(1) < 3 {
			return "", errors.New("model overloaded")
		}

		return "finally", nil
	})

	c, err := New(gen, constantCritic(10), func(o *Options) { o.Policy = retry.Immediate(3) })
	require.NoError(t, err)

	res, err := c.Run(context.Background(), "task")
	require.NoError(t, err)

	assert.Equal(t, "finally", res.Output)
	assert.Len(t, res.Trace.Attempts(NodeGenerate), 3)
}

func TestRun_CritiqueFailureIsFatal(t *testing.T) {
	var calls atomic.Int32

	critic := CriticFunc(func(context.Context, string, string) (Verdict, error) {
		calls.Add(1)
		return Verdict{}, errors.New("reviewer offline")
	})

	c, err := New(&countingGenerator{}, critic, func(o *Options) { o.Policy = retry.Immediate(3) })
	require.NoError(t, err)

	res, err := c.Run(context.Background(), "task")
	require.Error(t, err)
	assert.True(t, core.IsFatal(err))
	assert.Contains(t, err.Error(), "reviewer offline")
	assert.Equal(t, int32(1), calls.Load())

	require.NotNil(t, res)
	assert.Equal(t, "draft 1", res.State.Snapshot()[FieldDraft])
	assert.Empty(t, res.Output)
}

func TestRun_MissingTask(t *testing.T) {
	c, err := New(&countingGenerator{}, constantCritic(10))
	require.NoError(t, err)

	_, err = c.Run(context.Background(), "")
	require.ErrorIs(t, err, core.ErrStateContract)
}

func TestRun_Timeout(t *testing.T) {
	gen := GeneratorFunc(func(ctx context.Context, _ GenerateInput) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	c, err := New(gen, constantCritic(10), func(o *Options) { o.Timeout = 20 * time.Millisecond })
	require.NoError(t, err)

	_, err = c.Run(context.Background(), "task")
	require.ErrorIs(t, err, core.ErrDeadlineExceeded)
}

func TestRun_RemembersOutput(t *testing.T) {
	store, err := memory.New()
	require.NoError(t, err)

	c, err := New(&countingGenerator{}, constantCritic(10), func(o *Options) { o.Memory = store })
	require.NoError(t, err)

	_, err = c.Run(context.Background(), "write a haiku")
	require.NoError(t, err)

	require.Equal(t, 1, store.Len())
	item := store.Items()[0]
	assert.Equal(t, "draft 1", item.Content)
	assert.Equal(t, "reflection", item.Metadata["kind"])

	entries := store.ShortTerm().Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "user", entries[0].Role)
	assert.Equal(t, "assistant", entries[1].Role)
}

func TestRun_EmptyOutputNotRemembered(t *testing.T) {
	store, err := memory.New()
	require.NoError(t, err)

	blank := GeneratorFunc(func(context.Context, GenerateInput) (string, error) {
		return "  ", nil
	})

	c, err := New(blank, constantCritic(10), func(o *Options) { o.Memory = store })
	require.NoError(t, err)

	res, err := c.Run(context.Background(), "write a haiku")
	require.NoError(t, err)

	assert.Equal(t, "  ", res.Output)
	assert.Equal(t, 0, store.Len())
	assert.Len(t, store.ShortTerm().Entries(), 2)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, constantCritic(1))
	require.Error(t, err)

	_, err = New(&countingGenerator{}, constantCritic(1), func(o *Options) { o.MaxIterations = 0 })
	require.Error(t, err)

	_, err = New(&countingGenerator{}, constantCritic(1), func(o *Options) { o.Threshold = 11 })
	require.Error(t, err)
}

func TestRun_WithModels(t *testing.T) {
	writer := model.NewMockModel("writer", "mock")
	writer.Script("a short draft", "a longer draft about Paris in spring")

	reviewer := model.NewMockModel("reviewer", "mock")
	reviewer.Script("SCORE: 4\nCRITIQUE: mention the city", "SCORE: 9\nCRITIQUE: good")

	c, err := New(NewModelGenerator(writer), NewModelCritic(reviewer))
	require.NoError(t, err)

	res, err := c.Run(context.Background(), "describe a trip")
	require.NoError(t, err)

	assert.Equal(t, "a longer draft about Paris in spring", res.Output)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 9.0, res.Score)
	assert.Equal(t, "good", res.Critique)
	assert.Equal(t, 2, writer.Calls())
}

func TestRun_BadInstructionsAreNotRetried(t *testing.T) {
	writer := model.NewMockModel("writer", "mock")
	writer.Script("never used")

	gen := NewModelGenerator(writer)
	gen.Instructions = "Answer {{.task"

	c, err := New(gen, constantCritic(10), func(o *Options) { o.Policy = retry.Immediate(3) })
	require.NoError(t, err)

	_, err = c.Run(context.Background(), "task")
	require.Error(t, err)
	assert.True(t, core.IsFatal(err))
	assert.Equal(t, 0, writer.Calls())
}
