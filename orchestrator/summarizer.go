package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"cogateway/model"
	"cogateway/turn"
)

// Summarize produces the turn's digest (C20): a short summary, key
// findings, any preferences learned, and candidate memory writes. The
// heuristic fallback always produces a usable Summary even with no model
// client, since the next turn's Context Builder depends on
// state.LastTurnSummary being non-nil.
func Summarize(ctx context.Context, client model.Client, query, answer string, envelope turn.CapsuleEnvelope) (turn.Summary, []turn.MemoryWrite) {
	summary := heuristicSummary(query, answer, envelope)
	writes := heuristicMemoryWrites(envelope)

	if client == nil {
		return summary, writes
	}

	resp, err := client.Complete(ctx, model.Request{
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: "Summarize this turn in one or two sentences, list key findings, and note any user preferences revealed. Reply as JSON with short_summary, key_findings (list), preferences_learned (object), topic."},
			{Role: model.RoleUser, Content: fmt.Sprintf("Question: %s\n\nAnswer: %s", query, answer)},
		},
		MaxTokens:   300,
		Temperature: 0,
	})
	if err != nil {
		return summary, writes
	}

	raw := decodeJSONObject(resp.Content)
	if s, ok := raw["short_summary"].(string); ok && s != "" {
		summary.ShortSummary = s
	}
	if findings, ok := raw["key_findings"].([]any); ok {
		summary.KeyFindings = nil
		for _, f := range findings {
			if s, ok := f.(string); ok {
				summary.KeyFindings = append(summary.KeyFindings, s)
			}
		}
	}
	if prefs, ok := raw["preferences_learned"].(map[string]any); ok {
		summary.PreferencesLearned = map[string]string{}
		for k, v := range prefs {
			summary.PreferencesLearned[k] = fmt.Sprint(v)
		}
	}
	if topic, ok := raw["topic"].(string); ok {
		summary.Topic = topic
	}

	return summary, writes
}

func heuristicSummary(query, answer string, envelope turn.CapsuleEnvelope) turn.Summary {
	short := answer
	if idx := strings.IndexByte(short, '\n'); idx >= 0 {
		short = short[:idx]
	}
	if len(short) > 200 {
		short = short[:200] + "..."
	}

	var findings []string
	for _, id := range envelope.ClaimsTopK {
		if s, ok := envelope.ClaimSummaries[id]; ok {
			findings = append(findings, s)
		}
	}

	return turn.Summary{
		ShortSummary:  short,
		KeyFindings:   findings,
		Topic:         query,
		NextTurnHints: envelope.OpenQuestions,
	}
}

// heuristicMemoryWrites proposes one memory write per caveat, under
// domain_knowledge, at medium confidence — a conservative default that
// preserves caveats for the next turn's Context Builder without claiming
// a confidence the heuristic path can't justify.
func heuristicMemoryWrites(envelope turn.CapsuleEnvelope) []turn.MemoryWrite {
	var writes []turn.MemoryWrite
	for _, c := range envelope.Caveats {
		writes = append(writes, turn.MemoryWrite{
			DocType:    "domain_knowledge",
			Section:    "caveats",
			Entry:      c,
			Confidence: turn.ConfidenceMedium,
			Source:     "summarizer_heuristic",
		})
	}
	return writes
}
