// Package orchestrator implements the turn pipeline (§4.1): the eight-phase
// sequence that turns one user utterance into a grounded answer, composing
// the context builder, meta-reflection gate, cache-manager gate, planner,
// agent loop, verifier, synthesizer, and summarizer around the shared-state
// backbone (artifact store, ledger, claim registry) and the contract
// enforcer. Phase functions are plain Go functions operating on turndir.Dir
// and sessionctx.State; only the agent loop (the one phase with genuine
// suspension points — tool RPCs, human intervention) runs inside an
// engine.Engine workflow, per the teacher's pattern of reserving the
// workflow engine for steps that actually need durable suspension.
package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Phase names, recorded in PhaseResult.Phase.
const (
	PhaseContextBuild   = "context_build"
	PhaseMetaReflection = "meta_reflection"
	PhaseCacheGate      = "cache_gate"
	PhasePlan           = "plan"
	PhaseExecute        = "execute"
	PhaseVerify         = "verify"
	PhaseSynthesize     = "synthesize"
	PhaseSummarize      = "summarize"
)

// PhaseResult wraps a phase's outcome. Degraded marks a phase that produced
// a safe-default output after an underlying failure (timeout, malformed LLM
// output, circuit open) rather than its intended result; the pipeline keeps
// moving but records this for the turn's audit trail.
type PhaseResult struct {
	Phase    string
	Err      error
	Degraded bool
}

// decodeJSONObject best-effort parses text as a JSON object. LLM replies
// routinely wrap JSON in prose or code fences; this extracts the first
// balanced "{...}" span before decoding rather than requiring the whole
// response to be valid JSON. Returns an empty map, never an error — callers
// feed the result straight into a contract.Parse* repair function, which
// tolerates missing fields by design.
func decodeJSONObject(text string) map[string]any {
	candidate := extractJSONObject(text)
	if candidate == "" {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(candidate), &out); err != nil {
		return map[string]any{}
	}
	return out
}

func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// timestampFooter renders the trailing "generated at" line every context.md
// ends with (§4.1 step 1).
func timestampFooter(now time.Time) string {
	return fmt.Sprintf("\n---\n_context generated at %s_\n", now.UTC().Format(time.RFC3339))
}
