package orchestrator

import (
	"context"
	"fmt"

	"cogateway/contract"
	"cogateway/model"
)

// MetaAction is the tagged variant the meta-reflection gate (C13) resolves
// to, per the design note that ties the decision's payload to its tag so the
// bounded info-fetch loop can't be miswired: a caller handling NeedInfo is
// statically guaranteed a non-empty Requests slice to act on, unlike a loose
// decision-string-plus-optional-requests pair.
type MetaAction interface {
	isMetaAction()
}

// Proceed means the role may continue to its next phase.
type Proceed struct {
	Confidence float64
}

// RequestClarification means the pipeline should short-circuit with a
// clarifying question back to the user.
type RequestClarification struct {
	Confidence float64
	Question   string
}

// NeedsAnalysis is the middle band (reject_threshold ≤ confidence <
// accept_threshold) where the LLM gave no concrete info request but also
// isn't confident enough to proceed outright.
type NeedsAnalysis struct {
	Confidence float64
}

// NeedInfo means the gate asked for specific additional information before
// it can re-decide; Requests is always non-empty.
type NeedInfo struct {
	Confidence float64
	Requests   []contract.InfoRequest
}

func (Proceed) isMetaAction()              {}
func (RequestClarification) isMetaAction() {}
func (NeedsAnalysis) isMetaAction()        {}
func (NeedInfo) isMetaAction()             {}

// Thresholds configures the meta-reflection gate's confidence bands.
type Thresholds struct {
	AcceptThreshold float64 // default 0.8
	RejectThreshold float64 // default 0.4
}

func (t Thresholds) withDefaults() Thresholds {
	if t.AcceptThreshold <= 0 {
		t.AcceptThreshold = 0.8
	}
	if t.RejectThreshold <= 0 {
		t.RejectThreshold = 0.4
	}
	return t
}

// roleQuestions are the fixed ≤120-token self-ask questions per §4.1 step 2,
// keyed by the role invoking the gate.
var roleQuestions = map[string]string{
	"planner":     "Can you plan this request with the context given? Reply as JSON with confidence, decision (PROCEED|NEED_INFO|CLARIFY), and optional info_requests.",
	"coordinator": "Can you execute this plan with the tools and evidence gathered so far? Reply as JSON with confidence, decision, and optional info_requests.",
	"verifier":    "Is the evidence gathered sufficient to answer the user? Reply as JSON with confidence, decision, and optional info_requests.",
}

// Reflect asks client the role's fixed self-ask question, conditioned on
// contextText (the relevant document the role has produced or read so far —
// a plan, a bundle, context.md), and resolves the parsed reply to a
// MetaAction via thresholds. The second return is the reply's QueryType
// (RETRY|ACTION|RECALL|INFORMATIONAL|CLARIFICATION|METADATA), which callers
// persist as the turn's intent classification.
func Reflect(ctx context.Context, client model.Client, role, contextText string, thresholds Thresholds) (MetaAction, string, error) {
	thresholds = thresholds.withDefaults()

	question, ok := roleQuestions[role]
	if !ok {
		return nil, "", fmt.Errorf("orchestrator: unknown meta-reflection role %q", role)
	}

	resp, err := client.Complete(ctx, model.Request{
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: question},
			{Role: model.RoleUser, Content: contextText},
		},
		MaxTokens:   120,
		Temperature: 0,
	})
	if err != nil {
		// A failed meta-reflection call degrades to CLARIFY: the pipeline
		// should not silently PROCEED on a gate it couldn't actually consult.
		return RequestClarification{Question: "I ran into a problem checking whether I have enough to proceed — could you rephrase or add detail?"}, "", nil
	}

	parsed := contract.ParseMetaReflection(decodeJSONObject(resp.Content))
	return resolveMetaAction(parsed, thresholds), parsed.QueryType, nil
}

func resolveMetaAction(parsed contract.MetaReflection, thresholds Thresholds) MetaAction {
	if parsed.Decision == "NEED_INFO" && len(parsed.InfoRequests) > 0 {
		return NeedInfo{Confidence: parsed.Confidence, Requests: parsed.InfoRequests}
	}

	switch {
	case parsed.Confidence >= thresholds.AcceptThreshold:
		return Proceed{Confidence: parsed.Confidence}
	case parsed.Confidence < thresholds.RejectThreshold:
		return RequestClarification{Confidence: parsed.Confidence, Question: "Could you clarify what you're looking for?"}
	default:
		return NeedsAnalysis{Confidence: parsed.Confidence}
	}
}

// InfoFetcher resolves one InfoRequest to a text result the gate can fold
// back into contextText for a re-reflection round (a memory query or a quick
// tool call, per §4.1 step 2).
type InfoFetcher func(ctx context.Context, req contract.InfoRequest) (string, error)

// maxReflectionRounds bounds the NEED_INFO re-entry loop per §4.1 step 2.
const maxReflectionRounds = 2

// ReflectWithInfoLoop runs Reflect, and on NeedInfo fetches each request via
// fetch and re-reflects with the accumulated context, bounded to
// maxReflectionRounds. A persistent NeedInfo or NeedsAnalysis after the bound
// degrades to RequestClarification rather than looping forever. The third
// return is the QueryType from the last Reflect call that actually reached
// the model, for the turn directory's intent record.
func ReflectWithInfoLoop(ctx context.Context, client model.Client, role, contextText string, thresholds Thresholds, fetch InfoFetcher) (MetaAction, string, string, error) {
	accumulated := contextText
	queryType := ""
	for round := 0; round < maxReflectionRounds; round++ {
		action, qt, err := Reflect(ctx, client, role, accumulated, thresholds)
		if qt != "" {
			queryType = qt
		}
		if err != nil {
			return nil, accumulated, queryType, err
		}

		info, ok := action.(NeedInfo)
		if !ok {
			if _, stillAnalyzing := action.(NeedsAnalysis); stillAnalyzing && round < maxReflectionRounds-1 {
				continue
			}
			return normalizeTerminal(action), accumulated, queryType, nil
		}
		if fetch == nil {
			return RequestClarification{Confidence: info.Confidence, Question: "I need more information to continue — could you clarify?"}, accumulated, queryType, nil
		}
		for _, req := range info.Requests {
			result, err := fetch(ctx, req)
			if err != nil {
				continue
			}
			accumulated += "\n\n[fetched: " + req.Query + "]\n" + result
		}
	}

	final, qt, err := Reflect(ctx, client, role, accumulated, thresholds)
	if qt != "" {
		queryType = qt
	}
	if err != nil {
		return nil, accumulated, queryType, err
	}
	return normalizeTerminal(final), accumulated, queryType, nil
}

// normalizeTerminal collapses a lingering NeedsAnalysis or NeedInfo after the
// round budget is exhausted into a clarifying question, since the pipeline
// must not loop past maxReflectionRounds.
func normalizeTerminal(action MetaAction) MetaAction {
	switch a := action.(type) {
	case NeedsAnalysis:
		return RequestClarification{Confidence: a.Confidence, Question: "Could you share a bit more detail so I can proceed confidently?"}
	case NeedInfo:
		return RequestClarification{Confidence: a.Confidence, Question: "I still need more information to continue — could you clarify?"}
	default:
		return action
	}
}
