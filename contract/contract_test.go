package contract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cogateway/turn"
)

func TestParseGuideResponseFindsAliasedAnswer(t *testing.T) {
	raw := map[string]any{"response": "the answer text", "confidence": 1.5, "sources": []any{"a", "b"}}
	got := ParseGuideResponse(raw)
	assert.Equal(t, "the answer text", got.Answer)
	assert.Equal(t, 1.0, got.Confidence) // clamped
	assert.Equal(t, []string{"a", "b"}, got.Sources)
}

func TestParseGuideResponseFallsBackToLongString(t *testing.T) {
	raw := map[string]any{"note": "hi", "body": "this is a sufficiently long fallback string"}
	got := ParseGuideResponse(raw)
	assert.Equal(t, "this is a sufficiently long fallback string", got.Answer)
}

func TestParseCoordinatorResponseDropsInvalidItems(t *testing.T) {
	raw := map[string]any{
		"plan": []any{
			map[string]any{"tool": "web.search", "args": map[string]any{"q": "hamsters"}},
			map[string]any{"name": "file.read", "arguments": map[string]any{"path": "x.md"}},
			map[string]any{"nope": "missing tool name"},
			"not even a map",
		},
	}
	calls := ParseCoordinatorResponse(raw)
	require.Len(t, calls, 2)
	assert.Equal(t, "web.search", calls[0].Tool)
	assert.Equal(t, "file.read", calls[1].Tool)
}

func TestParseCoordinatorResponseEmptyOnUnparseable(t *testing.T) {
	calls := ParseCoordinatorResponse(map[string]any{"garbage": true})
	assert.Empty(t, calls)
}

func TestParseToolOutputWrapsError(t *testing.T) {
	out := ParseToolOutput(map[string]any{"error": "not found"}, "file.read")
	assert.False(t, out.Success)
	assert.Equal(t, "not found", out.Error)
}

func TestParseToolOutputWrapsSuccess(t *testing.T) {
	out := ParseToolOutput(map[string]any{"result": []string{"a", "b"}}, "web.search")
	assert.True(t, out.Success)
}

func TestParseToolOutputGenericWrap(t *testing.T) {
	out := ParseToolOutput(map[string]any{"whatever": 1}, "bash.execute")
	assert.True(t, out.Success)
}

func TestParseCapsuleEnvelopeDropsInvalidClaims(t *testing.T) {
	bundle := turn.RawBundle{Items: []turn.RawBundleItem{{Handle: "h1"}}}
	capsule := turn.DistilledCapsule{
		Claims: []turn.CapsuleClaim{
			{ClaimID: "c1", Claim: "valid", Evidence: []string{"h1"}},
			{ClaimID: "c2", Claim: "invalid, no evidence"},
			{ClaimID: "c3", Claim: "dangling handle", Evidence: []string{"missing"}},
		},
	}
	env, err := ParseCapsuleEnvelope(capsule, bundle)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, env.ClaimsTopK)
}

func TestParseCapsuleEnvelopeAllInvalidIsViolation(t *testing.T) {
	bundle := turn.RawBundle{}
	capsule := turn.DistilledCapsule{Claims: []turn.CapsuleClaim{{ClaimID: "c1"}}}
	_, err := ParseCapsuleEnvelope(capsule, bundle)
	require.Error(t, err)
	var violation *ContractViolation
	assert.ErrorAs(t, err, &violation)
}

func TestEnforceLimitNoTrimUnderBudget(t *testing.T) {
	text := "short text"
	assert.Equal(t, text, EnforceLimit("planner", text, 100))
}

func TestEnforceLimitTrimsAtSentenceBoundary(t *testing.T) {
	text := "Sentence one is here. Sentence two follows after. " + string(make([]byte, 200))
	out := EnforceLimit("planner", text, 13)
	assert.Contains(t, out, "[truncated to fit token budget]")
	assert.Equal(t, "Sentence one is here. Sentence two follows after.\n\n... [truncated to fit token budget]", out)
}

func TestEstimateTokensApproximatesFourCharsPerToken(t *testing.T) {
	assert.Equal(t, 3, EstimateTokens("twelve chars"))
}

func TestParseMetaReflectionAcceptsKnownDecision(t *testing.T) {
	raw := map[string]any{"confidence": 0.9, "decision": "proceed", "query_type": "informational"}
	got := ParseMetaReflection(raw)
	assert.Equal(t, 0.9, got.Confidence)
	assert.Equal(t, "PROCEED", got.Decision)
	assert.Equal(t, "INFORMATIONAL", got.QueryType)
}

func TestParseMetaReflectionDefaultsToClarifyOnUnknownDecision(t *testing.T) {
	got := ParseMetaReflection(map[string]any{"decision": "maybe"})
	assert.Equal(t, "CLARIFY", got.Decision)
}

func TestParseMetaReflectionParsesInfoRequests(t *testing.T) {
	raw := map[string]any{
		"decision": "need_info",
		"info_requests": []any{
			map[string]any{"type": "memory", "query": "prior topic", "reason": "missing context", "priority": 1.0},
			map[string]any{"type": "tool", "reason": "dropped, no query"},
		},
	}
	got := ParseMetaReflection(raw)
	require.Len(t, got.InfoRequests, 1)
	assert.Equal(t, "prior topic", got.InfoRequests[0].Query)
}

func TestParseCacheDecisionAcceptsKnownDecision(t *testing.T) {
	raw := map[string]any{"decision": "USE_CLAIMS", "confidence": 0.8, "cache_source": "claim_cache"}
	got := ParseCacheDecision(raw)
	assert.Equal(t, "use_claims", got.Decision)
	assert.Equal(t, "claim_cache", got.CacheSource)
}

func TestParseCacheDecisionDefaultsToProceedToPlan(t *testing.T) {
	got := ParseCacheDecision(map[string]any{"decision": "nonsense"})
	assert.Equal(t, "proceed_to_plan", got.Decision)
}
