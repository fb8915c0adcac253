// Package embedding defines the single-model CPU embedding service (C5) used
// to produce the 384-dimension vectors stored on claims.ClaimRow and
// claims.TopicNode and consumed by the hybrid retrieval fusion in package
// retrieval.
package embedding

import (
	"context"
	"math"
)

// Dimensions is the fixed embedding width produced by every Embedder in this
// process. The claim registry and topic index store vectors of this width;
// changing it requires a re-embedding migration, which is out of scope here.
const Dimensions = 384

// Embedder turns text into a fixed-width vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CosineSimilarity returns the cosine similarity between two equal-length
// vectors, or 0 if either is zero-length or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
