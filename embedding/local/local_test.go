package local

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cogateway/embedding"
)

func TestEmbedReturnsFixedDimensions(t *testing.T) {
	e := New()
	vec, err := e.Embed(context.Background(), "wireless noise cancelling headphones")
	require.NoError(t, err)
	assert.Len(t, vec, embedding.Dimensions)
}

func TestEmbedIsDeterministic(t *testing.T) {
	e := New()
	a, err := e.Embed(context.Background(), "gaming laptop")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "gaming laptop")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEmbedEmptyTextReturnsZeroVector(t *testing.T) {
	e := New()
	vec, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	for _, v := range vec {
		assert.Equal(t, float32(0), v)
	}
}

func TestEmbedIsCaseInsensitive(t *testing.T) {
	e := New()
	a, err := e.Embed(context.Background(), "Noise Cancelling")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "noise cancelling")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEmbedSimilarTextsAreMoreSimilarThanUnrelated(t *testing.T) {
	e := New()
	a, _ := e.Embed(context.Background(), "wireless noise cancelling headphones")
	b, _ := e.Embed(context.Background(), "wireless noise cancelling earbuds")
	c, _ := e.Embed(context.Background(), "rtx 4080 gaming laptop")

	simAB := embedding.CosineSimilarity(a, b)
	simAC := embedding.CosineSimilarity(a, c)
	assert.Greater(t, simAB, simAC)
}

func TestEmbedVectorIsUnitNormalized(t *testing.T) {
	e := New()
	vec, err := e.Embed(context.Background(), "some text to embed")
	require.NoError(t, err)

	var mag float64
	for _, v := range vec {
		mag += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, mag, 1e-4)
}
