package orchestrator

import (
	"context"
	"time"

	"cogateway/claims"
	"cogateway/contract"
	"cogateway/model"
	"cogateway/turn"
)

// maxCapsuleClaims bounds a distilled capsule's claim count (§4.1 step 6:
// "typically 10-15").
const maxCapsuleClaims = 15

// rawClaim is the LLM's extraction of one candidate claim before evidence
// validation and ID assignment.
type rawClaim struct {
	Claim      string
	Topic      string
	Evidence   []string
	Confidence string
}

// Verify distills a RawBundle into a DistilledCapsule (C18): candidate
// claims are extracted (via client when non-nil, else one claim per
// evidence item as a conservative fallback), any claim whose evidence
// handles don't all resolve within bundle is dropped, and surviving claims
// are capped to maxCapsuleClaims by QualityComposite-equivalent confidence
// ordering.
func Verify(ctx context.Context, client model.Client, bundle turn.RawBundle, now time.Time) (turn.DistilledCapsule, error) {
	handles := make(map[string]struct{}, len(bundle.Items))
	for _, item := range bundle.Items {
		handles[item.Handle] = struct{}{}
	}

	raws := extractClaims(ctx, client, bundle)

	var claimRows []turn.CapsuleClaim
	for _, rc := range raws {
		if rc.Claim == "" || len(rc.Evidence) == 0 {
			continue
		}
		if !allHandlesResolve(rc.Evidence, handles) {
			continue
		}
		conf := normalizeConfidence(rc.Confidence)
		claimRows = append(claimRows, turn.CapsuleClaim{
			Claim:        rc.Claim,
			Topic:        rc.Topic,
			Evidence:     rc.Evidence,
			Confidence:   conf,
			LastVerified: now,
			ClaimID:      claims.ClaimID(rc.Claim),
			TTLSeconds:   int(confidenceToClaimsConfidence(conf).TTL().Seconds()),
		})
	}

	claimRows = capClaims(claimRows, maxCapsuleClaims)

	status := "ok"
	var caveats []string
	switch bundle.Status {
	case turn.BundleEmpty:
		status = "partial"
		caveats = append(caveats, "no evidence was gathered for this ticket")
	case turn.BundleConflict:
		status = "partial"
		caveats = append(caveats, "some tool calls failed; answer may be incomplete")
	case turn.BundleError:
		status = "error"
		caveats = append(caveats, "evidence gathering failed")
	}
	if len(claimRows) == 0 && status == "ok" {
		status = "partial"
		caveats = append(caveats, "no claims survived evidence validation")
	}

	capsule := turn.DistilledCapsule{
		TicketID:      bundle.TicketID,
		Status:        status,
		Claims:        claimRows,
		Caveats:       caveats,
		OpenQuestions: nil,
		BudgetReport: turn.BudgetReport{
			TotalTokens: 0,
			UsedTokens:  estimateClaimsTokens(claimRows),
		},
	}
	return capsule, nil
}

func extractClaims(ctx context.Context, client model.Client, bundle turn.RawBundle) []rawClaim {
	if client == nil {
		return heuristicClaims(bundle)
	}

	transcript := ""
	for _, item := range bundle.Items {
		transcript += item.Handle + ": " + item.Summary + "\n"
	}

	resp, err := client.Complete(ctx, model.Request{
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: "Extract checkable claims from this evidence. Every claim must cite at least one evidence handle verbatim. Reply as JSON with a \"claims\" array of {claim, topic, evidence (list of handles), confidence (high|medium|low)}."},
			{Role: model.RoleUser, Content: transcript},
		},
		MaxTokens:   600,
		Temperature: 0,
	})
	if err != nil {
		return heuristicClaims(bundle)
	}

	raw := decodeJSONObject(resp.Content)
	list, _ := raw["claims"].([]any)
	if len(list) == 0 {
		return heuristicClaims(bundle)
	}

	out := make([]rawClaim, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		claim, _ := m["claim"].(string)
		topic, _ := m["topic"].(string)
		confidence, _ := m["confidence"].(string)
		var evidence []string
		if evList, ok := m["evidence"].([]any); ok {
			for _, e := range evList {
				if s, ok := e.(string); ok {
					evidence = append(evidence, s)
				}
			}
		}
		out = append(out, rawClaim{Claim: claim, Topic: topic, Evidence: evidence, Confidence: confidence})
	}
	return out
}

// heuristicClaims is the LLM-unavailable fallback: one claim per successful
// evidence item, verbatim, at medium confidence.
func heuristicClaims(bundle turn.RawBundle) []rawClaim {
	var out []rawClaim
	for _, item := range bundle.Items {
		if item.Metadata["success"] == "false" {
			continue
		}
		out = append(out, rawClaim{
			Claim:      item.Summary,
			Topic:      item.Kind,
			Evidence:   []string{item.Handle},
			Confidence: "medium",
		})
	}
	return out
}

func allHandlesResolve(evidence []string, handles map[string]struct{}) bool {
	for _, h := range evidence {
		if _, ok := handles[h]; !ok {
			return false
		}
	}
	return true
}

func normalizeConfidence(s string) turn.Confidence {
	switch s {
	case "high":
		return turn.ConfidenceHigh
	case "low":
		return turn.ConfidenceLow
	default:
		return turn.ConfidenceMedium
	}
}

func confidenceToClaimsConfidence(c turn.Confidence) claims.Confidence {
	switch c {
	case turn.ConfidenceHigh:
		return claims.ConfidenceHigh
	case turn.ConfidenceLow:
		return claims.ConfidenceLow
	default:
		return claims.ConfidenceMedium
	}
}

// capClaims keeps at most n claims, preferring higher confidence, preserving
// relative order within a confidence tier.
func capClaims(rows []turn.CapsuleClaim, n int) []turn.CapsuleClaim {
	if len(rows) <= n {
		return rows
	}
	tier := func(c turn.Confidence) int {
		switch c {
		case turn.ConfidenceHigh:
			return 0
		case turn.ConfidenceMedium:
			return 1
		default:
			return 2
		}
	}
	sorted := make([]turn.CapsuleClaim, len(rows))
	copy(sorted, rows)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && tier(sorted[j].Confidence) < tier(sorted[j-1].Confidence); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	return sorted[:n]
}

func estimateClaimsTokens(rows []turn.CapsuleClaim) int {
	total := 0
	for _, r := range rows {
		total += contract.EstimateTokens(r.Claim)
	}
	return total
}
