// Package cluster implements cache.Layer over a goa.design/pulse rmap.Map,
// so multiple gateway processes behind a load balancer share response,
// claim, and tool-output cache state instead of each cold-starting its own.
// Grounded on model/middleware's rmapClusterMap adapter, which wraps the
// same rmap.Map type for cluster-coordinated rate-limiter state.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"cogateway/cache"
	"cogateway/embedding"
	"cogateway/retrieval"
)

// replicatedMap is the minimal replicated-map contract this layer needs.
// Satisfied by *rmap.Map from goa.design/pulse/rmap. Defined locally so the
// layer is unit-testable without Redis and stays decoupled from the
// concrete Pulse type, mirroring registry/store/replicated's Map contract.
type replicatedMap interface {
	Get(key string) (string, bool)
	Set(ctx context.Context, key, value string) (string, error)
	Delete(ctx context.Context, key string) (string, error)
	Keys() []string
}

// Layer is a cache.Layer backed by a shared replicatedMap. Every gateway
// replica constructing a Layer over the same underlying rmap.Map (joined to
// the same map name and Redis connection) observes the same entries.
type Layer struct {
	name       string
	m          replicatedMap
	maxEntries int
	minQuality float64
}

// New returns a cluster-backed layer over m.
func New(name string, m replicatedMap, maxEntries int, minQuality float64) *Layer {
	return &Layer{name: name, m: m, maxEntries: maxEntries, minQuality: minQuality}
}

func (l *Layer) Name() string { return l.name }

type wireEntry struct {
	Key           string    `json:"key"`
	Embedding     []float32 `json:"embedding"`
	Payload       []byte    `json:"payload"`
	TextTokens    string    `json:"text_tokens"`
	CreatedAt     time.Time `json:"created_at"`
	TTLSeconds    int       `json:"ttl_seconds"`
	QualityScore  float64   `json:"quality_score"`
	Domain        string    `json:"domain"`
	SessionID     string    `json:"session_id"`
	Intent        string    `json:"intent"`
	TimesAccessed int       `json:"times_accessed"`
	LastAccessed  time.Time `json:"last_accessed"`
}

func toWire(e cache.Entry) wireEntry {
	return wireEntry{
		Key: e.Key, Embedding: e.Embedding, Payload: e.Payload, TextTokens: e.TextTokens,
		CreatedAt: e.CreatedAt, TTLSeconds: e.TTLSeconds, QualityScore: e.QualityScore,
		Domain: e.Domain, SessionID: e.SessionID, Intent: e.Intent,
		TimesAccessed: e.TimesAccessed, LastAccessed: e.LastAccessed,
	}
}

func (w wireEntry) toEntry() cache.Entry {
	return cache.Entry{
		Key: w.Key, Embedding: w.Embedding, Payload: w.Payload, TextTokens: w.TextTokens,
		CreatedAt: w.CreatedAt, TTLSeconds: w.TTLSeconds, QualityScore: w.QualityScore,
		Domain: w.Domain, SessionID: w.SessionID, Intent: w.Intent,
		TimesAccessed: w.TimesAccessed, LastAccessed: w.LastAccessed,
	}
}

// Put implements cache.Layer.
func (l *Layer) Put(ctx context.Context, entry cache.Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	data, err := json.Marshal(toWire(entry))
	if err != nil {
		return fmt.Errorf("cache/cluster: marshal entry: %w", err)
	}
	_, err = l.m.Set(ctx, entry.Key, string(data))
	return err
}

// Get implements cache.Layer.
func (l *Layer) Get(ctx context.Context, key string) (cache.Entry, bool, error) {
	raw, ok := l.m.Get(key)
	if !ok {
		return cache.Entry{}, false, nil
	}
	var w wireEntry
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return cache.Entry{}, false, fmt.Errorf("cache/cluster: unmarshal entry: %w", err)
	}
	e := w.toEntry()
	e.TimesAccessed++
	e.LastAccessed = time.Now()
	if data, err := json.Marshal(toWire(e)); err == nil {
		_, _ = l.m.Set(ctx, key, string(data))
	}
	return e, true, nil
}

func (l *Layer) all() map[string]cache.Entry {
	out := make(map[string]cache.Entry)
	for _, key := range l.m.Keys() {
		raw, ok := l.m.Get(key)
		if !ok {
			continue
		}
		var w wireEntry
		if err := json.Unmarshal([]byte(raw), &w); err != nil {
			continue
		}
		out[key] = w.toEntry()
	}
	return out
}

// Lookup implements cache.Layer.
func (l *Layer) Lookup(ctx context.Context, domain, queryText string, queryEmbedding []float32, topK int) ([]cache.Match, error) {
	entries := l.all()

	var docs []retrieval.Document
	byKey := make(map[string]cache.Entry)
	for _, e := range entries {
		if e.Domain != domain {
			continue
		}
		docs = append(docs, retrieval.Document{ClaimID: e.Key, Text: e.TextTokens, Embedding: e.Embedding})
		byKey[e.Key] = e
	}
	if len(docs) == 0 {
		return nil, nil
	}

	idx := retrieval.NewIndex(docs, noopEmbedder{})
	results := idx.Search(ctx, queryText, queryEmbedding, retrieval.Weights{Keyword: 1 - cache.FusionAlpha, Embedding: cache.FusionAlpha}, 0)

	var maxBM25 float64
	for _, r := range results {
		if r.BM25Score > maxBM25 {
			maxBM25 = r.BM25Score
		}
	}

	matches := make([]cache.Match, 0, len(results))
	for _, r := range results {
		normKeyword := 0.0
		if maxBM25 > 0 {
			normKeyword = r.BM25Score / maxBM25
		}
		if r.CosineSim < cache.MinSemantic || normKeyword < cache.MinKeyword {
			continue
		}
		matches = append(matches, cache.Match{Entry: byKey[r.ClaimID], Semantic: r.CosineSim, Keyword: normKeyword, Hybrid: r.FusedScore})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Hybrid > matches[j].Hybrid })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

type noopEmbedder struct{}

func (noopEmbedder) Embed(context.Context, string) ([]float32, error) {
	return make([]float32, embedding.Dimensions), nil
}

// Sweep implements cache.Layer.
func (l *Layer) Sweep(ctx context.Context, now time.Time) (cache.SweepResult, error) {
	result := cache.SweepResult{Layer: l.name}
	entries := l.all()

	type keyed struct {
		key string
		e   cache.Entry
	}
	var survivors []keyed

	for key, e := range entries {
		if !e.Fresh(now) && !e.StaleButUsable(now) {
			if _, err := l.m.Delete(ctx, key); err != nil {
				return result, err
			}
			result.ExpiredDropped++
			continue
		}
		if e.QualityScore < l.minQuality {
			if _, err := l.m.Delete(ctx, key); err != nil {
				return result, err
			}
			result.QualityDropped++
			continue
		}
		survivors = append(survivors, keyed{key, e})
	}

	if l.maxEntries > 0 && len(survivors) > l.maxEntries {
		sort.Slice(survivors, func(i, j int) bool { return survivors[i].e.LastAccessed.Before(survivors[j].e.LastAccessed) })
		toEvict := len(survivors) - l.maxEntries
		for i := 0; i < toEvict; i++ {
			if _, err := l.m.Delete(ctx, survivors[i].key); err != nil {
				return result, err
			}
			result.LRUEvicted++
		}
	}
	return result, nil
}
