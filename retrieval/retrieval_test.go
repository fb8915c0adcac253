package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 384)
	for i, r := range text {
		vec[int(r)%384] += 1
	}
	return vec, nil
}

func TestIndexBM25PrefersExactKeywordMatch(t *testing.T) {
	docs := []Document{
		{ClaimID: "a", Text: "Best Buy has the Sony WH-1000XM5 in stock", Embedding: make([]float32, 384)},
		{ClaimID: "b", Text: "Headphones are generally available at large retailers", Embedding: make([]float32, 384)},
	}
	idx := NewIndex(docs, fakeEmbedder{})

	results := idx.Search(context.Background(), "WH-1000XM5 Best Buy", make([]float32, 384), Weights{Keyword: 1, Embedding: 0}, 0)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ClaimID)
	assert.Greater(t, results[0].BM25Score, results[1].BM25Score)
}

func TestIndexFusionCombinesSignals(t *testing.T) {
	docs := []Document{
		{ClaimID: "a", Text: "alpha beta", Embedding: []float32{1, 0}},
		{ClaimID: "b", Text: "gamma delta", Embedding: []float32{0, 1}},
	}
	idx := NewIndex(docs, fakeEmbedder{})

	results := idx.Search(context.Background(), "alpha", []float32{1, 0}, Weights{}, 0)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ClaimID)
	assert.InDelta(t, 1.0, results[0].CosineSim, 1e-9)
}

func TestIndexSearchTextEmbedsQuery(t *testing.T) {
	docs := []Document{{ClaimID: "a", Text: "router review", Embedding: make([]float32, 384)}}
	idx := NewIndex(docs, fakeEmbedder{})

	results, err := idx.SearchText(context.Background(), "router", Weights{}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ClaimID)
}

func TestDocumentsFromClaimsEmpty(t *testing.T) {
	assert.Empty(t, DocumentsFromClaims(nil))
}
