package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"cogateway/cache"
	"cogateway/contract"
	"cogateway/model"
)

// recallPatterns catch back-references to a prior turn (§4.1 step 3, fast
// bypass rule 1).
var recallPatterns = []string{
	"why did you", "those options", "the first one", "you mentioned",
	"what we discussed", "just talking about", "we were talking",
}

// retryKeywords catch explicit retry requests (fast bypass rule 2).
var retryKeywords = []string{"retry", "refresh", "try again", "fresh search"}

// multiGoalConnectors are a coarse multi-goal detector: a connector ("and
// also", ";", "as well as") joining what look like two separate asks. A from-scratch parser is deliberately avoided — the gate only needs
// to decide "don't serve from cache", not parse the subtasks (the Planner
// does that later).
var multiGoalConnectors = []string{" and also ", ";", " as well as "}

var actionVerbPattern = regexp.MustCompile(`(?i)\b(find|search|buy|get|fetch|look up|check|compare)\b`)

// FastBypassReason names which deterministic rule (if any) fired.
type FastBypassReason string

const (
	BypassNone          FastBypassReason = ""
	BypassRecall        FastBypassReason = "recall_reference"
	BypassRetry         FastBypassReason = "retry_keyword"
	BypassLowIntent     FastBypassReason = "low_intent_confidence"
	BypassMultiGoal     FastBypassReason = "multi_goal_query"
	BypassNoCachePotential FastBypassReason = "no_cache_potential"
	BypassFailurePhrase FastBypassReason = "cached_failure_with_action_verb"
)

// FastBypass evaluates the deterministic rules that must short-circuit to
// proceed_to_plan without an LLM call (§4.1 step 3). intentConfidence is the
// upstream intent classifier's confidence for this query.
func FastBypass(query string, intentConfidence float64) FastBypassReason {
	lower := strings.ToLower(query)

	for _, p := range recallPatterns {
		if strings.Contains(lower, p) {
			return BypassRecall
		}
	}
	for _, k := range retryKeywords {
		if strings.Contains(lower, k) {
			return BypassRetry
		}
	}
	if intentConfidence < 0.3 {
		return BypassLowIntent
	}
	for _, c := range multiGoalConnectors {
		if strings.Contains(lower, c) {
			return BypassMultiGoal
		}
	}
	return BypassNone
}

// Decision is the Cache Manager Gate's resolved outcome.
type Decision struct {
	Action      string // use_response_cache | use_claims | proceed_to_plan
	CacheSource string
	Reasoning   string
	Confidence  float64
	IsRetry     bool
}

// heuristicThresholds are the Gate's LLM-unavailable fallback thresholds
// (§4.1 step 3).
const (
	heuristicFreshQuality    = 0.70
	heuristicClaimCoverage   = 0.80
)

// Gate runs the Cache Manager Gate (C14): fast-bypass rules first, then a
// hybrid lookup against the response and claim cache layers, then either an
// LLM evaluation or (on LLM failure) the heuristic fallback.
func Gate(
	ctx context.Context,
	client model.Client,
	query string,
	domain string,
	queryEmbedding []float32,
	intentConfidence float64,
	responseCache, claimCache cache.Layer,
	now time.Time,
) (Decision, error) {
	if reason := FastBypass(query, intentConfidence); reason != BypassNone {
		return Decision{Action: "proceed_to_plan", Reasoning: string(reason), IsRetry: reason == BypassRetry}, nil
	}

	var responseMatches, claimMatches []cache.Match
	if responseCache != nil {
		m, err := responseCache.Lookup(ctx, domain, query, queryEmbedding, 5)
		if err == nil {
			responseMatches = m
		}
	}
	if claimCache != nil {
		m, err := claimCache.Lookup(ctx, domain, query, queryEmbedding, 10)
		if err == nil {
			claimMatches = m
		}
	}
	if len(responseMatches) == 0 && len(claimMatches) == 0 {
		return Decision{Action: "proceed_to_plan", Reasoning: string(BypassNoCachePotential)}, nil
	}

	decision := gateViaLLM(ctx, client, query, responseMatches, claimMatches, now)
	if decision == nil {
		h := heuristicGate(responseMatches, claimMatches, now)
		decision = &h
	}

	if decision.Action == "use_response_cache" && len(responseMatches) > 0 {
		text := string(responseMatches[0].Entry.Payload)
		if cache.HasFailurePhrase(text) && actionVerbPattern.MatchString(query) {
			return Decision{Action: "proceed_to_plan", Reasoning: string(BypassFailurePhrase)}, nil
		}
	}
	return *decision, nil
}

// gateViaLLM asks the model to weigh the candidates Lookup already surfaced
// rather than the bare query: per §4.1 step 3 the ≤250-token call must
// evaluate each candidate's semantic match, freshness, quality-vs-staleness,
// and intent alignment, none of which the model can judge without seeing the
// candidates themselves.
func gateViaLLM(ctx context.Context, client model.Client, query string, responseMatches, claimMatches []cache.Match, now time.Time) *Decision {
	if client == nil {
		return nil
	}
	resp, err := client.Complete(ctx, model.Request{
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: "Decide whether to reuse cached results for this query, weighing each candidate's semantic match, freshness, quality vs staleness, and intent alignment. Reply as JSON with decision (use_response_cache|use_claims|proceed_to_plan), cache_source, reasoning, confidence."},
			{Role: model.RoleUser, Content: fmt.Sprintf("Query: %s\n\n%s", query, renderCacheCandidates(responseMatches, claimMatches, now))},
		},
		MaxTokens:   250,
		Temperature: 0,
	})
	if err != nil {
		return nil
	}
	parsed := contract.ParseCacheDecision(decodeJSONObject(resp.Content))
	return &Decision{
		Action: parsed.Decision, CacheSource: parsed.CacheSource,
		Reasoning: parsed.Reasoning, Confidence: parsed.Confidence,
	}
}

// renderCacheCandidates summarizes the top response and claim cache matches
// (age, quality, a short excerpt) into the compact text gateViaLLM sends the
// model in place of the raw query alone.
func renderCacheCandidates(responseMatches, claimMatches []cache.Match, now time.Time) string {
	var b strings.Builder
	writeMatches := func(label string, matches []cache.Match) {
		if len(matches) == 0 {
			return
		}
		fmt.Fprintf(&b, "%s candidates:\n", label)
		for i, m := range matches {
			age := now.Sub(m.Entry.CreatedAt).Round(time.Second)
			fmt.Fprintf(&b, "%d. age=%s quality=%.2f hybrid=%.2f excerpt=%q\n",
				i+1, age, m.Entry.QualityScore, m.Hybrid, excerpt(string(m.Entry.Payload), 120))
		}
	}
	writeMatches("Response cache", responseMatches)
	writeMatches("Claim cache", claimMatches)
	return b.String()
}

func excerpt(text string, maxLen int) string {
	text = strings.TrimSpace(text)
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}

// heuristicGate applies the LLM-unavailable fallback, per the §4.2 two-tier
// response-cache policy: a fresh top match (age < TTL) with quality ≥ 0.70
// wins outright; a stale-but-usable one (age < 2x TTL, quality ≥ 0.80, per
// cache.Entry.StaleButUsable) still wins; otherwise claim coverage ≥ 0.80
// wins; else the gate falls through to planning.
func heuristicGate(responseMatches, claimMatches []cache.Match, now time.Time) Decision {
	if len(responseMatches) > 0 {
		top := responseMatches[0]
		switch {
		case top.Entry.Fresh(now) && top.Entry.QualityScore >= heuristicFreshQuality:
			return Decision{Action: "use_response_cache", Reasoning: "heuristic: fresh and high quality", Confidence: top.Hybrid}
		case top.Entry.StaleButUsable(now):
			return Decision{Action: "use_response_cache", Reasoning: "heuristic: stale but high quality", Confidence: top.Hybrid}
		}
	}
	if coverage := claimCoverage(claimMatches); coverage >= heuristicClaimCoverage {
		return Decision{Action: "use_claims", Reasoning: "heuristic: sufficient claim coverage", Confidence: coverage}
	}
	return Decision{Action: "proceed_to_plan", Reasoning: "heuristic: insufficient cache coverage"}
}

// claimCoverage approximates coverage as the top claim match's hybrid score,
// since the gate has no ground-truth "needed facts" set to measure recall
// against at this point in the pipeline.
func claimCoverage(matches []cache.Match) float64 {
	if len(matches) == 0 {
		return 0
	}
	return matches[0].Hybrid
}
