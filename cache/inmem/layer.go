// Package inmem implements cache.Layer in memory, with a per-key mutex for
// upserts (concurrent writers for the same key coalesce on the later value)
// and lock-free-ish snapshot reads for Lookup, matching the corpus's
// per-key-lock convention already used by claims/inmem and ledger/inmem.
package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"cogateway/cache"
	"cogateway/embedding"
	"cogateway/retrieval"
)

// Layer is an in-memory cache.Layer.
type Layer struct {
	name        string
	maxEntries  int
	minQuality  float64
	mu          sync.Mutex
	entries     map[string]cache.Entry
	keyLocks    map[string]*sync.Mutex
}

// New returns an in-memory layer named name (used in SweepResult), evicting
// down to maxEntries and dropping anything below minQuality during Sweep.
func New(name string, maxEntries int, minQuality float64) *Layer {
	return &Layer{
		name:       name,
		maxEntries: maxEntries,
		minQuality: minQuality,
		entries:    make(map[string]cache.Entry),
		keyLocks:   make(map[string]*sync.Mutex),
	}
}

func (l *Layer) Name() string { return l.name }

func (l *Layer) lockFor(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.keyLocks[key]
	if !ok {
		m = &sync.Mutex{}
		l.keyLocks[key] = m
	}
	return m
}

// Put implements cache.Layer.
func (l *Layer) Put(_ context.Context, entry cache.Entry) error {
	keyLock := l.lockFor(entry.Key)
	keyLock.Lock()
	defer keyLock.Unlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	l.mu.Lock()
	l.entries[entry.Key] = entry
	l.mu.Unlock()
	return nil
}

// Get implements cache.Layer.
func (l *Layer) Get(_ context.Context, key string) (cache.Entry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if ok {
		e.TimesAccessed++
		e.LastAccessed = time.Now()
		l.entries[key] = e
	}
	return e, ok, nil
}

// Lookup implements cache.Layer.
func (l *Layer) Lookup(ctx context.Context, domain, queryText string, queryEmbedding []float32, topK int) ([]cache.Match, error) {
	l.mu.Lock()
	var docs []retrieval.Document
	byKey := make(map[string]cache.Entry)
	for _, e := range l.entries {
		if e.Domain != domain {
			continue
		}
		docs = append(docs, retrieval.Document{ClaimID: e.Key, Text: e.TextTokens, Embedding: e.Embedding})
		byKey[e.Key] = e
	}
	l.mu.Unlock()

	if len(docs) == 0 {
		return nil, nil
	}

	idx := retrieval.NewIndex(docs, noopEmbedder{})
	results := idx.Search(ctx, queryText, queryEmbedding, retrieval.Weights{Keyword: 1 - cache.FusionAlpha, Embedding: cache.FusionAlpha}, 0)

	matches := make([]cache.Match, 0, len(results))
	for _, r := range results {
		if r.CosineSim < cache.MinSemantic || normalizedBM25(r, results) < cache.MinKeyword {
			continue
		}
		matches = append(matches, cache.Match{
			Entry:    byKey[r.ClaimID],
			Semantic: r.CosineSim,
			Keyword:  normalizedBM25(r, results),
			Hybrid:   r.FusedScore,
		})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Hybrid > matches[j].Hybrid })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// normalizedBM25 rescales a result's BM25Score by the max score observed in
// this lookup batch, for threshold comparison against cache.MinKeyword.
func normalizedBM25(r retrieval.Result, all []retrieval.Result) float64 {
	var max float64
	for _, o := range all {
		if o.BM25Score > max {
			max = o.BM25Score
		}
	}
	if max == 0 {
		return 0
	}
	return r.BM25Score / max
}

type noopEmbedder struct{}

func (noopEmbedder) Embed(context.Context, string) ([]float32, error) {
	return make([]float32, embedding.Dimensions), nil
}

// Sweep implements cache.Layer.
func (l *Layer) Sweep(_ context.Context, now time.Time) (cache.SweepResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := cache.SweepResult{Layer: l.name}

	for key, e := range l.entries {
		if !e.Fresh(now) && !e.StaleButUsable(now) {
			delete(l.entries, key)
			result.ExpiredDropped++
		}
	}
	for key, e := range l.entries {
		if e.QualityScore < l.minQuality {
			delete(l.entries, key)
			result.QualityDropped++
		}
	}
	if l.maxEntries > 0 && len(l.entries) > l.maxEntries {
		type keyed struct {
			key string
			e   cache.Entry
		}
		all := make([]keyed, 0, len(l.entries))
		for k, e := range l.entries {
			all = append(all, keyed{k, e})
		}
		sort.Slice(all, func(i, j int) bool { return all[i].e.LastAccessed.Before(all[j].e.LastAccessed) })
		toEvict := len(l.entries) - l.maxEntries
		for i := 0; i < toEvict; i++ {
			delete(l.entries, all[i].key)
			result.LRUEvicted++
		}
	}
	return result, nil
}
