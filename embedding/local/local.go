// Package local provides a dependency-free CPU embedder. None of the example
// repos import a Go embedding-model runtime (no onnxruntime/llama.cpp
// bindings, no hosted-embedding-API client beyond the chat model adapters
// already covered), so this hashes shingles into a fixed-width vector rather
// than reaching for a library the corpus never demonstrates. Adequate for
// approximate nearest-neighbor topic search; not a substitute for a trained
// sentence embedding model.
package local

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	"cogateway/embedding"
)

// Embedder implements embedding.Embedder via hashed character trigrams,
// projected into embedding.Dimensions buckets and L2-normalized.
type Embedder struct{}

// New returns a local hash-based embedder.
func New() Embedder { return Embedder{} }

// Embed implements embedding.Embedder.
func (Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float64, embedding.Dimensions)
	norm := strings.ToLower(strings.TrimSpace(text))
	if norm == "" {
		return make([]float32, embedding.Dimensions), nil
	}
	for _, shingle := range trigrams(norm) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(shingle))
		bucket := int(h.Sum32()) % embedding.Dimensions
		if bucket < 0 {
			bucket += embedding.Dimensions
		}
		vec[bucket]++
	}
	var mag float64
	for _, v := range vec {
		mag += v * v
	}
	mag = math.Sqrt(mag)
	out := make([]float32, embedding.Dimensions)
	if mag == 0 {
		return out, nil
	}
	for i, v := range vec {
		out[i] = float32(v / mag)
	}
	return out, nil
}

func trigrams(s string) []string {
	runes := []rune(s)
	if len(runes) < 3 {
		return []string{s}
	}
	out := make([]string, 0, len(runes)-2)
	for i := 0; i+3 <= len(runes); i++ {
		out = append(out, string(runes[i:i+3]))
	}
	return out
}
