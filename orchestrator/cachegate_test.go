package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cogateway/cache"
)

func TestFastBypassRecallReference(t *testing.T) {
	assert.Equal(t, BypassRecall, FastBypass("why did you pick that one?", 0.9))
}

func TestFastBypassRetryKeyword(t *testing.T) {
	assert.Equal(t, BypassRetry, FastBypass("please try again", 0.9))
}

func TestFastBypassLowIntentConfidence(t *testing.T) {
	assert.Equal(t, BypassLowIntent, FastBypass("something vague", 0.1))
}

func TestFastBypassMultiGoal(t *testing.T) {
	assert.Equal(t, BypassMultiGoal, FastBypass("find a laptop and also book a flight", 0.9))
}

func TestFastBypassNoneForOrdinaryQuery(t *testing.T) {
	assert.Equal(t, BypassNone, FastBypass("what's the best budget laptop", 0.9))
}

type fakeCacheLayer struct {
	matches []cache.Match
}

func (f *fakeCacheLayer) Put(context.Context, cache.Entry) error { return nil }
func (f *fakeCacheLayer) Get(context.Context, string) (cache.Entry, bool, error) {
	return cache.Entry{}, false, nil
}
func (f *fakeCacheLayer) Lookup(context.Context, string, string, []float32, int) ([]cache.Match, error) {
	return f.matches, nil
}
func (f *fakeCacheLayer) Sweep(context.Context, time.Time) (cache.SweepResult, error) {
	return cache.SweepResult{}, nil
}
func (f *fakeCacheLayer) Name() string { return "fake" }

func TestGateFastBypassesWithoutLLM(t *testing.T) {
	decision, err := Gate(context.Background(), nil, "try again please", "laptops", nil, 0.9, nil, nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "proceed_to_plan", decision.Action)
	assert.True(t, decision.IsRetry)
}

func TestGateNoCachePotentialBypassesToPlan(t *testing.T) {
	responseCache := &fakeCacheLayer{}
	decision, err := Gate(context.Background(), nil, "what laptop should I buy", "laptops", nil, 0.9, responseCache, nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "proceed_to_plan", decision.Action)
}

func TestGateHeuristicUsesFreshHighQualityResponse(t *testing.T) {
	now := time.Now()
	responseCache := &fakeCacheLayer{matches: []cache.Match{
		{Entry: cache.Entry{Payload: []byte("cached answer"), QualityScore: 0.9, CreatedAt: now.Add(-5 * time.Minute), TTLSeconds: int((6 * time.Hour).Seconds())}, Hybrid: 0.9},
	}}
	decision, err := Gate(context.Background(), nil, "what laptop should I buy", "laptops", nil, 0.9, responseCache, nil, now)
	require.NoError(t, err)
	assert.Equal(t, "use_response_cache", decision.Action)
}

func TestGateHeuristicRejectsStaleModerateQualityResponse(t *testing.T) {
	now := time.Now()
	ttl := int((6 * time.Hour).Seconds())
	responseCache := &fakeCacheLayer{matches: []cache.Match{
		{Entry: cache.Entry{Payload: []byte("cached answer"), QualityScore: 0.72, CreatedAt: now.Add(-7 * time.Hour), TTLSeconds: ttl}, Hybrid: 0.72},
	}}
	decision, err := Gate(context.Background(), nil, "what laptop should I buy", "laptops", nil, 0.9, responseCache, nil, now)
	require.NoError(t, err)
	assert.Equal(t, "proceed_to_plan", decision.Action, "stale entry below the 0.80 stale-but-usable threshold must fall through to planning")
}

func TestGateHeuristicAcceptsStaleHighQualityResponse(t *testing.T) {
	now := time.Now()
	ttl := int((6 * time.Hour).Seconds())
	responseCache := &fakeCacheLayer{matches: []cache.Match{
		{Entry: cache.Entry{Payload: []byte("cached answer"), QualityScore: 0.85, CreatedAt: now.Add(-7 * time.Hour), TTLSeconds: ttl}, Hybrid: 0.85},
	}}
	decision, err := Gate(context.Background(), nil, "what laptop should I buy", "laptops", nil, 0.9, responseCache, nil, now)
	require.NoError(t, err)
	assert.Equal(t, "use_response_cache", decision.Action, "stale entry at/above the 0.80 stale-but-usable threshold and within 2x TTL should still be served")
}

func TestGateFailurePhraseWithActionVerbForcesReplan(t *testing.T) {
	client := &fakeModelClient{Replies: []string{`{"decision": "use_response_cache", "confidence": 0.9}`}}
	responseCache := &fakeCacheLayer{matches: []cache.Match{
		{Entry: cache.Entry{Payload: []byte("I couldn't find any matching results"), QualityScore: 0.9}, Hybrid: 0.9},
	}}
	decision, err := Gate(context.Background(), client, "find a laptop under $500", "laptops", nil, 0.9, responseCache, nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "proceed_to_plan", decision.Action)
	assert.Equal(t, string(BypassFailurePhrase), decision.Reasoning)
}
