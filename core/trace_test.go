package core

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrace_AppendAssignsSequence(t *testing.T) {
	tr := NewTrace("run-1")

	tr.Append(TraceStep{Kind: StepNode, NodeID: "a"})
	tr.Append(TraceStep{Kind: StepAttempt, NodeID: "b", Attempt: 1})
	tr.Append(TraceStep{Kind: StepAttempt, NodeID: "b", Attempt: 2, Err: "boom"})
	tr.Append(TraceStep{Kind: StepNode, NodeID: "b"})

	steps := tr.Steps()
	assert.Len(t, steps, 4)

	for i, s := range steps {
		assert.Equal(t, i+1, s.Seq)
	}

	assert.Equal(t, "run-1", tr.RunID())
	assert.Equal(t, []string{"a", "b"}, tr.Nodes())
	assert.Len(t, tr.Attempts("b"), 2)
	assert.True(t, tr.Attempts("b")[1].Failed())
}

func TestTrace_StepsReturnsCopy(t *testing.T) {
	tr := NewTrace("run")
	tr.Append(TraceStep{Kind: StepNode, NodeID: "a"})

	steps := tr.Steps()
	steps[0].NodeID = "changed"

	assert.Equal(t, "a", tr.Steps()[0].NodeID)
}

func TestTrace_ConcurrentAppend(t *testing.T) {
	tr := NewTrace("run")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()
			tr.Append(TraceStep{Kind: StepNode, NodeID: "x"})
		}()
	}

	wg.Wait()
	assert.Equal(t, 50, tr.Len())
}

type countingRecorder struct{ n int }

func (r *countingRecorder) RecordAttempt(context.Context, TraceStep) { r.n++ }

func TestContext_NodeInfoAndRecorder(t *testing.T) {
	ctx := context.Background()

	_, ok := NodeInfoFromContext(ctx)
	assert.False(t, ok)
	assert.Nil(t, RecorderFromContext(ctx))

	rec := &countingRecorder{}
	ctx = WithRecorder(WithNodeInfo(ctx, NodeInfo{RunID: "r", NodeID: "n"}), rec)

	info, ok := NodeInfoFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "n", info.NodeID)

	RecorderFromContext(ctx).RecordAttempt(ctx, TraceStep{})
	assert.Equal(t, 1, rec.n)
}
