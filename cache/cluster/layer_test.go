package cluster

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cogateway/cache"
)

// fakeMap is an in-memory replicatedMap used to test Layer without Redis.
type fakeMap struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeMap() *fakeMap {
	return &fakeMap{data: make(map[string]string)}
}

func (f *fakeMap) Get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok
}

func (f *fakeMap) Set(_ context.Context, key, value string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return value, nil
}

func (f *fakeMap) Delete(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.data[key]
	delete(f.data, key)
	return v, nil
}

func (f *fakeMap) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.data))
	for k := range f.data {
		keys = append(keys, k)
	}
	return keys
}

func TestLayerPutGetRoundTrips(t *testing.T) {
	l := New("response", newFakeMap(), 100, 0.3)
	ctx := context.Background()

	err := l.Put(ctx, cache.Entry{Key: "q1", Domain: "headphones", TextTokens: "noise cancelling", TTLSeconds: 3600, QualityScore: 0.9})
	require.NoError(t, err)

	got, ok, err := l.Get(ctx, "q1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "headphones", got.Domain)
	assert.Equal(t, 1, got.TimesAccessed)
}

func TestLayerGetMissing(t *testing.T) {
	l := New("response", newFakeMap(), 100, 0.3)
	_, ok, err := l.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLayerSharedAcrossInstances(t *testing.T) {
	shared := newFakeMap()
	a := New("response", shared, 100, 0.3)
	b := New("response", shared, 100, 0.3)

	require.NoError(t, a.Put(context.Background(), cache.Entry{Key: "q1", TTLSeconds: 3600, QualityScore: 0.9}))

	got, ok, err := b.Get(context.Background(), "q1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "q1", got.Key)
}

func TestLayerSweepDropsExpiredAndLowQuality(t *testing.T) {
	l := New("response", newFakeMap(), 100, 0.5)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, l.Put(ctx, cache.Entry{Key: "expired", CreatedAt: now.Add(-2 * time.Hour), TTLSeconds: 60, QualityScore: 0.9}))
	require.NoError(t, l.Put(ctx, cache.Entry{Key: "low-quality", CreatedAt: now, TTLSeconds: 3600, QualityScore: 0.1}))
	require.NoError(t, l.Put(ctx, cache.Entry{Key: "keep", CreatedAt: now, TTLSeconds: 3600, QualityScore: 0.9}))

	result, err := l.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ExpiredDropped)
	assert.Equal(t, 1, result.QualityDropped)

	_, ok, _ := l.Get(ctx, "keep")
	assert.True(t, ok)
	_, ok, _ = l.Get(ctx, "expired")
	assert.False(t, ok)
	_, ok, _ = l.Get(ctx, "low-quality")
	assert.False(t, ok)
}

func TestLayerSweepEvictsLRUOverCapacity(t *testing.T) {
	l := New("response", newFakeMap(), 2, 0.0)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, l.Put(ctx, cache.Entry{Key: "oldest", CreatedAt: now, TTLSeconds: 3600, QualityScore: 0.9, LastAccessed: now.Add(-3 * time.Hour)}))
	require.NoError(t, l.Put(ctx, cache.Entry{Key: "middle", CreatedAt: now, TTLSeconds: 3600, QualityScore: 0.9, LastAccessed: now.Add(-2 * time.Hour)}))
	require.NoError(t, l.Put(ctx, cache.Entry{Key: "newest", CreatedAt: now, TTLSeconds: 3600, QualityScore: 0.9, LastAccessed: now.Add(-1 * time.Hour)}))

	result, err := l.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.LRUEvicted)

	_, ok, _ := l.Get(ctx, "oldest")
	assert.False(t, ok)
	_, ok, _ = l.Get(ctx, "newest")
	assert.True(t, ok)
}

func TestLayerLookupFiltersByDomainAndThreshold(t *testing.T) {
	l := New("claim", newFakeMap(), 100, 0.0)
	ctx := context.Background()

	emb := make([]float32, 384)
	emb[0] = 1.0

	require.NoError(t, l.Put(ctx, cache.Entry{
		Key: "c1", Domain: "headphones", TextTokens: "wireless noise cancelling headphones",
		Embedding: emb, TTLSeconds: 3600, QualityScore: 0.9,
	}))
	require.NoError(t, l.Put(ctx, cache.Entry{
		Key: "c2", Domain: "laptops", TextTokens: "gaming laptop rtx",
		Embedding: emb, TTLSeconds: 3600, QualityScore: 0.9,
	}))

	matches, err := l.Lookup(ctx, "headphones", "noise cancelling headphones", emb, 10)
	require.NoError(t, err)
	for _, m := range matches {
		assert.Equal(t, "headphones", m.Entry.Domain)
		assert.GreaterOrEqual(t, m.Semantic, cache.MinSemantic)
		assert.GreaterOrEqual(t, m.Keyword, cache.MinKeyword)
	}
}
