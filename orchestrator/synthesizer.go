package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"cogateway/contract"
	"cogateway/model"
	"cogateway/turn"
)

// defaultAnswerTokenCap bounds answer.md (§4.1 step 7).
const defaultAnswerTokenCap = 2000

// Synthesize composes answer.md from a verified CapsuleEnvelope and the
// user's query (C19). Every claim the prose cites must be one of
// envelope.ClaimsTopK — the Synthesizer only ever rephrases
// ClaimSummaries, it never invents a claim ID, so there is nothing here to
// validate against forged citations post-hoc the way ParseCapsuleEnvelope
// validates evidence handles upstream.
func Synthesize(ctx context.Context, client model.Client, query string, envelope turn.CapsuleEnvelope) (string, error) {
	fallback := simpleSynthesis(query, envelope)

	if client == nil {
		return fallback, nil
	}

	resp, err := client.Complete(ctx, model.Request{
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: "Write a clear answer to the user's question using only the claims provided. Cite nothing beyond what's given; do not invent facts. Reply as JSON with an \"answer\" field."},
			{Role: model.RoleUser, Content: fmt.Sprintf("Question: %s\n\n%s", query, renderClaimsForPrompt(envelope))},
		},
		MaxTokens:   defaultAnswerTokenCap / 2,
		Temperature: 0.2,
	})
	if err != nil {
		return fallback, nil
	}

	parsed := contract.ParseGuideResponse(decodeJSONObject(resp.Content))
	if parsed.Answer == "" {
		return fallback, nil
	}
	return contract.EnforceLimit("synthesizer", appendCaveats(parsed.Answer, envelope), defaultAnswerTokenCap), nil
}

func renderClaimsForPrompt(envelope turn.CapsuleEnvelope) string {
	ids := make([]string, 0, len(envelope.ClaimsTopK))
	ids = append(ids, envelope.ClaimsTopK...)
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString("Claims:\n")
	for _, id := range ids {
		fmt.Fprintf(&b, "- %s\n", envelope.ClaimSummaries[id])
	}
	if len(envelope.Caveats) > 0 {
		b.WriteString("\nCaveats:\n")
		for _, c := range envelope.Caveats {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	return b.String()
}

func appendCaveats(answer string, envelope turn.CapsuleEnvelope) string {
	if len(envelope.Caveats) == 0 {
		return answer
	}
	var b strings.Builder
	b.WriteString(answer)
	b.WriteString("\n\n")
	for _, c := range envelope.Caveats {
		fmt.Fprintf(&b, "_Note: %s_\n", c)
	}
	return b.String()
}

// simpleSynthesis is the LLM-unavailable fallback: a flat bullet list of
// claim summaries in ClaimsTopK order, plus caveats and open questions.
func simpleSynthesis(query string, envelope turn.CapsuleEnvelope) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Regarding: %s\n\n", query)

	if len(envelope.ClaimsTopK) == 0 {
		b.WriteString("I wasn't able to gather enough verified information to answer this confidently.\n")
	}
	for _, id := range envelope.ClaimsTopK {
		if s, ok := envelope.ClaimSummaries[id]; ok {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	if len(envelope.Caveats) > 0 {
		b.WriteString("\n")
		for _, c := range envelope.Caveats {
			fmt.Fprintf(&b, "_Note: %s_\n", c)
		}
	}
	if len(envelope.OpenQuestions) > 0 {
		b.WriteString("\nStill open:\n")
		for _, q := range envelope.OpenQuestions {
			fmt.Fprintf(&b, "- %s\n", q)
		}
	}
	return contract.EnforceLimit("synthesizer", b.String(), defaultAnswerTokenCap)
}
