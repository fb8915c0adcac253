// Package retrieval implements hybrid retrieval (C6): fusing a BM25-style
// keyword score over claim statements with embedding cosine similarity, so
// that a literal retailer name or SKU matches as reliably as a paraphrased
// query. No example repo in the corpus ships a standalone BM25 ranker (the
// one BM25 reference found is an Anthropic provider-executed tool search
// passthrough, not an implementation this package could reuse), so the
// keyword half is a from-scratch Okapi BM25 over a simple tokenizer; fusion
// and cosine similarity build on package embedding.
package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"

	"cogateway/claims"
	"cogateway/embedding"
)

// Document is one unit of retrieval: a claim statement plus its precomputed
// embedding, identified by ClaimID.
type Document struct {
	ClaimID   string
	Text      string
	Embedding []float32
}

// Result is a ranked retrieval hit.
type Result struct {
	ClaimID    string
	Text       string
	BM25Score  float64
	CosineSim  float64
	FusedScore float64
}

// Weights controls the linear fusion of the two signals. Both default to
// 0.5 when a zero Weights is passed to Search or SearchText.
type Weights struct {
	Keyword   float64
	Embedding float64
}

func (w Weights) withDefaults() Weights {
	if w.Keyword == 0 && w.Embedding == 0 {
		return Weights{Keyword: 0.5, Embedding: 0.5}
	}
	return w
}

// bm25 parameters, standard Okapi defaults.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// Index is an in-memory BM25 + embedding hybrid index over a fixed document
// set. Rebuilt per query scope (e.g. per topic) rather than maintained
// incrementally, since claim sets per topic are small.
type Index struct {
	docs      []Document
	postings  map[string][]int // term -> doc indices
	docFreq   map[string]int   // term -> number of docs containing it
	docLen    []int
	avgDocLen float64
	embedder  embedding.Embedder
}

// NewIndex tokenizes and indexes docs for keyword search. embedder is used
// only by SearchText, which must embed the raw query string itself.
func NewIndex(docs []Document, embedder embedding.Embedder) *Index {
	idx := &Index{
		docs:     docs,
		postings: make(map[string][]int),
		docFreq:  make(map[string]int),
		docLen:   make([]int, len(docs)),
		embedder: embedder,
	}

	var totalLen int
	for i, d := range docs {
		terms := tokenize(d.Text)
		idx.docLen[i] = len(terms)
		totalLen += len(terms)

		seen := make(map[string]struct{}, len(terms))
		for _, t := range terms {
			idx.postings[t] = append(idx.postings[t], i)
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				idx.docFreq[t]++
			}
		}
	}
	if len(docs) > 0 {
		idx.avgDocLen = float64(totalLen) / float64(len(docs))
	}
	return idx
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return fields
}

// bm25Score scores doc i against the query terms.
func (idx *Index) bm25Score(i int, terms []string) float64 {
	n := float64(len(idx.docs))
	if n == 0 {
		return 0
	}
	termFreq := make(map[string]int)
	for _, t := range tokenize(idx.docs[i].Text) {
		termFreq[t]++
	}

	var score float64
	dl := float64(idx.docLen[i])
	for _, t := range terms {
		tf := float64(termFreq[t])
		if tf == 0 {
			continue
		}
		df := float64(idx.docFreq[t])
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		denom := tf + bm25K1*(1-bm25B+bm25B*dl/idx.avgDocLen)
		score += idf * (tf * (bm25K1 + 1)) / denom
	}
	return score
}

// Search ranks all indexed documents against a query embedding and raw query
// text, fusing BM25 keyword relevance with embedding cosine similarity.
func (idx *Index) Search(ctx context.Context, queryText string, queryEmbedding []float32, weights Weights, topK int) []Result {
	weights = weights.withDefaults()
	terms := tokenize(queryText)

	results := make([]Result, len(idx.docs))
	var maxBM25 float64
	for i, d := range idx.docs {
		bm25 := idx.bm25Score(i, terms)
		if bm25 > maxBM25 {
			maxBM25 = bm25
		}
		cos := embedding.CosineSimilarity(queryEmbedding, d.Embedding)
		results[i] = Result{ClaimID: d.ClaimID, Text: d.Text, BM25Score: bm25, CosineSim: cos}
	}

	for i := range results {
		normBM25 := 0.0
		if maxBM25 > 0 {
			normBM25 = results[i].BM25Score / maxBM25
		}
		// CosineSim ranges [-1, 1]; rescale to [0, 1] before fusing.
		normCos := (results[i].CosineSim + 1) / 2
		results[i].FusedScore = weights.Keyword*normBM25 + weights.Embedding*normCos
	}

	sort.Slice(results, func(a, b int) bool { return results[a].FusedScore > results[b].FusedScore })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

// SearchText embeds queryText with idx's embedder before fusing, for callers
// that don't already have a precomputed query embedding.
func (idx *Index) SearchText(ctx context.Context, queryText string, weights Weights, topK int) ([]Result, error) {
	vec, err := idx.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, err
	}
	return idx.Search(ctx, queryText, vec, weights, topK), nil
}

// DocumentsFromClaims adapts claim rows into retrieval documents.
func DocumentsFromClaims(rows []claims.ClaimRow) []Document {
	docs := make([]Document, len(rows))
	for i, r := range rows {
		docs[i] = Document{ClaimID: r.ClaimID, Text: r.Statement, Embedding: r.Embedding}
	}
	return docs
}
