package claims

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfidenceTTL(t *testing.T) {
	assert.Equal(t, 48*time.Hour, ConfidenceHigh.TTL())
	assert.Equal(t, 24*time.Hour, ConfidenceMedium.TTL())
	assert.Equal(t, 6*time.Hour, ConfidenceLow.TTL())
	assert.Equal(t, 6*time.Hour, Confidence("unknown").TTL())
}

func TestQualityComposite(t *testing.T) {
	row := ClaimRow{IntentAlignment: 1.0, EvidenceStrength: 0.5, UserFeedbackScore: 0.0}
	assert.InDelta(t, 0.4*1.0+0.3*0.5+0.3*0.0, row.QualityComposite(), 1e-9)
}

func TestClaimIDIsStableAndCaseInsensitive(t *testing.T) {
	a := ClaimID("The Sony WH-1000XM5 costs $399")
	b := ClaimID("  the sony wh-1000xm5 costs $399  ")
	assert.Equal(t, a, b)
}

func TestClaimIDDiffersForDifferentStatements(t *testing.T) {
	a := ClaimID("statement one")
	b := ClaimID("statement two")
	assert.NotEqual(t, a, b)
}

func TestComputeDeltaReturnsOnlyNewOrChangedClaims(t *testing.T) {
	prior := []ClaimRow{
		{ClaimID: "c1", Statement: "price is $100"},
		{ClaimID: "c2", Statement: "in stock"},
	}
	capsule := []ClaimRow{
		{ClaimID: "c1", Statement: "price is $90"}, // changed
		{ClaimID: "c2", Statement: "in stock"},     // unchanged
		{ClaimID: "c3", Statement: "new claim"},    // new
	}

	delta := ComputeDelta(capsule, prior)
	assert.Len(t, delta, 2)

	ids := map[string]bool{}
	for _, c := range delta {
		ids[c.ClaimID] = true
	}
	assert.True(t, ids["c1"])
	assert.True(t, ids["c3"])
	assert.False(t, ids["c2"])
}

func TestComputeDeltaEmptyPriorReturnsAllCapsuleClaims(t *testing.T) {
	capsule := []ClaimRow{{ClaimID: "c1", Statement: "s1"}}
	delta := ComputeDelta(capsule, nil)
	assert.Len(t, delta, 1)
}
