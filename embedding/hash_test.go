package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(64)

	a, err := e.Embed(context.Background(), "I prefer museums in Paris")
	require.NoError(t, err)

	b, err := e.Embed(context.Background(), "i PREFER museums, in paris!")
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, Cosine(a, b), 1e-6)
}

func TestHashEmbedder_SimilarityOrdering(t *testing.T) {
	e := NewHashEmbedder(0)
	ctx := context.Background()

	q, _ := e.Embed(ctx, "museum tour paris")
	near, _ := e.Embed(ctx, "paris museum pass")
	far, _ := e.Embed(ctx, "cheap flights london")

	assert.Equal(t, DefaultDimension, e.Dimension())
	assert.Greater(t, Cosine(q, near), Cosine(q, far))
}

func TestHashEmbedder_EmptyTextIsZero(t *testing.T) {
	v, err := NewHashEmbedder(8).Embed(context.Background(), "  ...  ")
	require.NoError(t, err)

	assert.Equal(t, make([]float32, 8), v)
	assert.Zero(t, Cosine(v, v))
}

func TestHashEmbedder_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewHashEmbedder(8).Embed(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCosine_MismatchedLengths(t *testing.T) {
	assert.Zero(t, Cosine([]float32{1}, []float32{1, 0}))
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
}
