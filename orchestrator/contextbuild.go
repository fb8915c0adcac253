package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cogateway/claims"
	"cogateway/contract"
	"cogateway/model"
	"cogateway/sessionctx"
)

// MemoryDocs bundles the memory files the Context Builder draws from
// (§4.1 step 1): user_preferences.md, user_facts.md, system_learnings.md,
// domain_knowledge.md, lessons/*.md.
type MemoryDocs struct {
	UserPreferences string
	UserFacts       string
	SystemLearnings string
	DomainKnowledge string
	Lessons         []string
}

// defaultContextTokenCap is context.md's default token budget (§4.1 step 1).
const defaultContextTokenCap = 1500

// BuildContext assembles context.md for one turn. When client is non-nil,
// the LLM-assisted mode (recipe memory/context_builder) asks the model to
// select and compose the relevant material; on any failure (including a nil
// client) it falls back to simple concatenation in the fixed priority order:
// prior turn, session preferences, user preferences, user facts, system
// knowledge, domain knowledge, discovered facts, current claims, lessons.
func BuildContext(
	ctx context.Context,
	client model.Client,
	state sessionctx.State,
	docs MemoryDocs,
	relevantClaims []claims.ClaimRow,
	now time.Time,
) (string, error) {
	simple := simpleContext(state, docs, relevantClaims, now)

	if client == nil {
		return simple, nil
	}

	resp, err := client.Complete(ctx, model.Request{
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: "Compose a concise context brief for the next phase from the material below, keeping only what's relevant. Reply as JSON with an \"answer\" field containing the composed context."},
			{Role: model.RoleUser, Content: simple},
		},
		MaxTokens:   defaultContextTokenCap / 2,
		Temperature: 0,
	})
	if err != nil {
		return simple, nil
	}

	parsed := contract.ParseGuideResponse(decodeJSONObject(resp.Content))
	if parsed.Answer == "" {
		return simple, nil
	}
	return contract.EnforceLimit("context_builder", parsed.Answer+timestampFooter(now), defaultContextTokenCap), nil
}

func simpleContext(state sessionctx.State, docs MemoryDocs, relevantClaims []claims.ClaimRow, now time.Time) string {
	var b strings.Builder

	if state.LastTurnSummary != nil {
		fmt.Fprintf(&b, "## Prior turn\n%s\n\n", state.LastTurnSummary.ShortSummary)
	}
	if len(state.Preferences) > 0 {
		b.WriteString("## Session preferences\n")
		for k, v := range state.Preferences {
			fmt.Fprintf(&b, "- %s: %s\n", k, v)
		}
		b.WriteString("\n")
	}
	if docs.UserPreferences != "" {
		fmt.Fprintf(&b, "## User preferences\n%s\n\n", docs.UserPreferences)
	}
	if docs.UserFacts != "" {
		fmt.Fprintf(&b, "## User facts\n%s\n\n", docs.UserFacts)
	}
	if docs.SystemLearnings != "" {
		fmt.Fprintf(&b, "## System knowledge\n%s\n\n", docs.SystemLearnings)
	}
	if docs.DomainKnowledge != "" {
		fmt.Fprintf(&b, "## Domain knowledge\n%s\n\n", docs.DomainKnowledge)
	}
	for domain, facts := range state.DiscoveredFacts {
		fmt.Fprintf(&b, "## Discovered facts (%s)\n", domain)
		for _, f := range facts {
			fmt.Fprintf(&b, "- %s\n", f)
		}
		b.WriteString("\n")
	}
	if len(relevantClaims) > 0 {
		b.WriteString("## Current claims\n")
		for _, c := range relevantClaims {
			fmt.Fprintf(&b, "- [%s] %s (confidence: %s)\n", c.ClaimType, c.Statement, c.Confidence)
		}
		b.WriteString("\n")
	}
	for _, lesson := range docs.Lessons {
		fmt.Fprintf(&b, "## Lesson\n%s\n\n", lesson)
	}

	b.WriteString(timestampFooter(now))
	return contract.EnforceLimit("context_builder", b.String(), defaultContextTokenCap)
}
