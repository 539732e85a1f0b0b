package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedderDeterministic(t *testing.T) {
	e := NewHashEmbedder(64)

	a, err := e.Embed(context.Background(), "concurrent map access in Go")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "concurrent map access in Go")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
	assert.InDelta(t, 1.0, Cosine(a, b), 1e-9)
}

func TestHashEmbedderSimilarTextScoresHigher(t *testing.T) {
	e := NewHashEmbedder(0)
	ctx := context.Background()

	query, _ := e.Embed(ctx, "goroutine leak in worker pool")
	near, _ := e.Embed(ctx, "fixing a goroutine leak in the worker pool")
	far, _ := e.Embed(ctx, "quarterly marketing budget review")

	assert.Greater(t, Cosine(query, near), Cosine(query, far))
}

func TestHashEmbedderEmptyTextIsUnrankable(t *testing.T) {
	e := NewHashEmbedder(32)
	vec, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)

	other, _ := e.Embed(context.Background(), "hello")
	assert.Equal(t, UnrankableScore, Cosine(vec, other))
}
