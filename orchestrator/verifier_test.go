package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cogateway/turn"
)

func TestVerifyHeuristicOneClaimPerSuccessfulItem(t *testing.T) {
	bundle := turn.RawBundle{
		TicketID: "t1",
		Status:   turn.BundleOK,
		Items: []turn.RawBundleItem{
			{Handle: "h1", Kind: turn.KindToolOutput, Summary: "found 3 laptops under $500"},
			{Handle: "h2", Kind: turn.KindToolOutput, Summary: "failed lookup", Metadata: map[string]string{"success": "false"}},
		},
	}
	capsule, err := Verify(context.Background(), nil, bundle, time.Now())
	require.NoError(t, err)
	require.Len(t, capsule.Claims, 1)
	assert.Equal(t, "h1", capsule.Claims[0].Evidence[0])
	assert.Equal(t, "ok", capsule.Status)
}

func TestVerifyDropsClaimsWithUnresolvedEvidence(t *testing.T) {
	bundle := turn.RawBundle{
		TicketID: "t2",
		Status:   turn.BundleOK,
		Items: []turn.RawBundleItem{
			{Handle: "h1", Kind: turn.KindToolOutput, Summary: "evidence one"},
		},
	}
	client := &fakeModelClient{Replies: []string{
		`{"claims": [
			{"claim": "laptop costs $400", "topic": "price", "evidence": ["h1"], "confidence": "high"},
			{"claim": "laptop has 32gb ram", "topic": "specs", "evidence": ["h-missing"], "confidence": "high"}
		]}`,
	}}
	capsule, err := Verify(context.Background(), client, bundle, time.Now())
	require.NoError(t, err)
	require.Len(t, capsule.Claims, 1)
	assert.Equal(t, "laptop costs $400", capsule.Claims[0].Claim)
}

func TestVerifyCapsClaimsAtMaximum(t *testing.T) {
	items := make([]turn.RawBundleItem, 0, maxCapsuleClaims+5)
	for i := 0; i < maxCapsuleClaims+5; i++ {
		items = append(items, turn.RawBundleItem{
			Handle:  "h" + string(rune('a'+i)),
			Kind:    turn.KindToolOutput,
			Summary: "claim text",
		})
	}
	bundle := turn.RawBundle{TicketID: "t3", Status: turn.BundleOK, Items: items}
	capsule, err := Verify(context.Background(), nil, bundle, time.Now())
	require.NoError(t, err)
	assert.Len(t, capsule.Claims, maxCapsuleClaims)
}

func TestVerifyEmptyBundleYieldsPartialStatusWithCaveat(t *testing.T) {
	bundle := turn.RawBundle{TicketID: "t4", Status: turn.BundleEmpty}
	capsule, err := Verify(context.Background(), nil, bundle, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "partial", capsule.Status)
	assert.NotEmpty(t, capsule.Caveats)
}

func TestVerifyConflictBundleYieldsPartialStatus(t *testing.T) {
	bundle := turn.RawBundle{
		TicketID: "t5",
		Status:   turn.BundleConflict,
		Items:    []turn.RawBundleItem{{Handle: "h1", Summary: "partial result"}},
	}
	capsule, err := Verify(context.Background(), nil, bundle, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "partial", capsule.Status)
	assert.Contains(t, capsule.Caveats[0], "failed")
}

func TestVerifyErrorBundleYieldsErrorStatus(t *testing.T) {
	bundle := turn.RawBundle{TicketID: "t6", Status: turn.BundleError}
	capsule, err := Verify(context.Background(), nil, bundle, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "error", capsule.Status)
}

func TestVerifyFallsBackToHeuristicOnLLMError(t *testing.T) {
	bundle := turn.RawBundle{
		TicketID: "t7",
		Status:   turn.BundleOK,
		Items:    []turn.RawBundleItem{{Handle: "h1", Summary: "evidence"}},
	}
	client := &fakeModelClient{Err: assertErr("down")}
	capsule, err := Verify(context.Background(), client, bundle, time.Now())
	require.NoError(t, err)
	require.Len(t, capsule.Claims, 1)
}
