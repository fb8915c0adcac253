package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEntryFreshWithinTTL(t *testing.T) {
	now := time.Now()
	e := Entry{CreatedAt: now.Add(-30 * time.Minute), TTLSeconds: 3600}
	assert.True(t, e.Fresh(now))
}

func TestEntryFreshExactlyAtTTLIsStale(t *testing.T) {
	now := time.Now()
	e := Entry{CreatedAt: now.Add(-1 * time.Hour), TTLSeconds: 3600}
	assert.False(t, e.Fresh(now))
}

func TestEntryStaleButUsableWithinTwoXTTLAndHighQuality(t *testing.T) {
	now := time.Now()
	e := Entry{CreatedAt: now.Add(-90 * time.Minute), TTLSeconds: 3600, QualityScore: 0.85}
	assert.False(t, e.Fresh(now))
	assert.True(t, e.StaleButUsable(now))
}

func TestEntryStaleButUsableRejectsLowQuality(t *testing.T) {
	now := time.Now()
	e := Entry{CreatedAt: now.Add(-90 * time.Minute), TTLSeconds: 3600, QualityScore: 0.5}
	assert.False(t, e.StaleButUsable(now))
}

func TestEntryStaleButUsableRejectsBeyondTwoXTTL(t *testing.T) {
	now := time.Now()
	e := Entry{CreatedAt: now.Add(-3 * time.Hour), TTLSeconds: 3600, QualityScore: 0.95}
	assert.False(t, e.StaleButUsable(now))
}

func TestClaimCacheTTLSecondsMatchesConfidenceSchedule(t *testing.T) {
	assert.Equal(t, int((48 * time.Hour).Seconds()), ClaimCacheTTLSeconds("high"))
	assert.Equal(t, int((24 * time.Hour).Seconds()), ClaimCacheTTLSeconds("medium"))
	assert.Equal(t, int((6 * time.Hour).Seconds()), ClaimCacheTTLSeconds("low"))
	assert.Equal(t, int((6 * time.Hour).Seconds()), ClaimCacheTTLSeconds("unknown"))
}

func TestHasFailurePhraseDetectsKnownPhrases(t *testing.T) {
	assert.True(t, HasFailurePhrase("Sorry, I couldn't find any matches."))
	assert.True(t, HasFailurePhrase("Search returned 0 results for that query."))
}

func TestHasFailurePhraseIsCaseInsensitive(t *testing.T) {
	assert.True(t, HasFailurePhrase("UNABLE TO FIND any matching product"))
}

func TestHasFailurePhraseFalseForUnrelatedText(t *testing.T) {
	assert.False(t, HasFailurePhrase("Here are three great options for you."))
}
