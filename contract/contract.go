// Package contract implements the parse-or-repair enforcer (C8): every
// inter-phase payload goes through a Parse* function that tries strict
// validation, falls back to a lossy local repair, and as a last resort
// returns a safe default — never raising except for the unrecoverable
// ContractViolation. Monitor keeps a bounded record of violations and
// per-component repair rates; the Parse* functions do not record into it
// themselves, so it holds only what callers pass to Monitor.Record.
package contract

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"cogateway/toolerrors"
	"cogateway/turn"
)

// ContractViolation is the one error this package lets escape a Parse* call:
// both strict validation and repair failed for a payload with no safe
// default (e.g. an empty CapsuleEnvelope with zero surviving claims).
type ContractViolation struct {
	Component string
	Contract  string
	Cause     *toolerrors.ToolError
}

func (e *ContractViolation) Error() string {
	return fmt.Sprintf("contract: %s violated %s contract: %s", e.Component, e.Contract, e.Cause)
}

func (e *ContractViolation) Unwrap() error { return e.Cause }

// NewContractViolation builds a ContractViolation, converting cause into a
// toolerrors.ToolError chain.
func NewContractViolation(component, contractName string, cause error) *ContractViolation {
	return &ContractViolation{Component: component, Contract: contractName, Cause: toolerrors.FromError(cause)}
}

// GuideResponse is the repaired shape of a Planner/Guide LLM reply.
type GuideResponse struct {
	Answer     string
	Confidence float64
	Sources    []string
}

var answerAliasKeys = []string{"answer", "response", "text", "content", "message"}

// ParseGuideResponse repairs a raw LLM JSON-like map into a GuideResponse.
// The required "answer" string is sought under alias keys, then under the
// first long string value found; confidence is clamped to [0,1]; sources
// are coerced to a string list.
func ParseGuideResponse(raw map[string]any) GuideResponse {
	var answer string
	for _, key := range answerAliasKeys {
		if s, ok := raw[key].(string); ok && s != "" {
			answer = s
			break
		}
	}
	if answer == "" {
		answer = firstLongString(raw)
	}

	conf := clamp01(toFloat(raw["confidence"]))
	sources := coerceStringList(raw["sources"])

	return GuideResponse{Answer: answer, Confidence: conf, Sources: sources}
}

func firstLongString(raw map[string]any) string {
	const minLen = 20
	for _, v := range raw {
		if s, ok := v.(string); ok && len(s) >= minLen {
			return s
		}
	}
	return ""
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func coerceStringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if list == "" {
			return nil
		}
		return []string{list}
	default:
		return nil
	}
}

var toolAliasKeys = []string{"tool", "name", "function", "action"}
var argsAliasKeys = []string{"args", "arguments", "params", "parameters"}

// ParseCoordinatorResponse coerces a raw Coordinator reply into a plan
// (slice of turn.ToolCall). Invalid items are dropped individually; an
// entirely unparseable response yields an empty plan rather than raising,
// which the caller reads as a signal to re-plan.
func ParseCoordinatorResponse(raw map[string]any) []turn.ToolCall {
	rawPlan, _ := raw["plan"].([]any)
	if rawPlan == nil {
		if single, ok := raw["plan"].(map[string]any); ok {
			rawPlan = []any{single}
		}
	}

	var calls []turn.ToolCall
	for _, item := range rawPlan {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		var toolName string
		for _, key := range toolAliasKeys {
			if s, ok := m[key].(string); ok && s != "" {
				toolName = s
				break
			}
		}
		if toolName == "" {
			continue
		}
		var args map[string]any
		for _, key := range argsAliasKeys {
			if a, ok := m[key].(map[string]any); ok {
				args = a
				break
			}
		}
		required, _ := m["required"].(bool)
		calls = append(calls, turn.ToolCall{Tool: toolName, Args: args, Required: required})
	}
	return calls
}

// ParseToolOutput wraps a raw tool response into a turn.ToolOutput. Already
// well-formed responses (the tool itself returned a ToolOutput) pass
// through; otherwise the raw payload is wrapped according to which keys it
// carries.
func ParseToolOutput(raw any, toolName string) turn.ToolOutput {
	if already, ok := raw.(turn.ToolOutput); ok {
		return already
	}

	m, ok := raw.(map[string]any)
	if !ok {
		return turn.ToolOutput{
			Success:  true,
			Data:     raw,
			Metadata: turn.ToolOutputMetadata{ToolName: toolName},
		}
	}

	if errMsg, ok := m["error"]; ok {
		return turn.ToolOutput{
			Success:  false,
			Error:    fmt.Sprint(errMsg),
			Metadata: turn.ToolOutputMetadata{ToolName: toolName},
		}
	}
	for _, key := range []string{"result", "data", "output"} {
		if v, ok := m[key]; ok {
			return turn.ToolOutput{Success: true, Data: v, Metadata: turn.ToolOutputMetadata{ToolName: toolName}}
		}
	}
	return turn.ToolOutput{Success: true, Data: m, Metadata: turn.ToolOutputMetadata{ToolName: toolName}}
}

// ParseCapsuleEnvelope validates a capsule's claims individually, dropping
// any with no evidence handle or with a handle absent from bundle. The
// envelope carries no status field: when at least one claim survives it is
// returned with a nil error; when none does it is returned together with a
// ContractViolation.
func ParseCapsuleEnvelope(capsule turn.DistilledCapsule, bundle turn.RawBundle) (turn.CapsuleEnvelope, error) {
	handles := make(map[string]struct{}, len(bundle.Items))
	for _, item := range bundle.Items {
		handles[item.Handle] = struct{}{}
	}

	var topK []string
	summaries := make(map[string]string)
	for _, c := range capsule.Claims {
		if len(c.Evidence) == 0 {
			continue
		}
		valid := true
		for _, h := range c.Evidence {
			if _, ok := handles[h]; !ok {
				valid = false
				break
			}
		}
		if !valid {
			continue
		}
		topK = append(topK, c.ClaimID)
		summaries[c.ClaimID] = c.Claim
	}

	env := turn.CapsuleEnvelope{
		ClaimsTopK:     topK,
		ClaimSummaries: summaries,
		Caveats:        capsule.Caveats,
		OpenQuestions:  capsule.OpenQuestions,
		Artifacts:      capsule.Artifacts,
		BudgetReport:   capsule.BudgetReport,
	}

	if len(topK) == 0 {
		return env, NewContractViolation("verifier", "CapsuleEnvelope",
			errors.New("no claims survived evidence-handle validation"))
	}
	return env, nil
}

// MetaReflection is the repaired shape of a meta-reflection gate's LLM
// reply (spec §4.1 step 2).
type MetaReflection struct {
	Confidence float64
	Decision   string // PROCEED | NEED_INFO | CLARIFY
	QueryType  string // RETRY | ACTION | RECALL | INFORMATIONAL | CLARIFICATION | METADATA
	InfoRequests []InfoRequest
}

// InfoRequest is one piece of additional information the meta-reflection
// gate asks the orchestrator to fetch before re-reflecting.
type InfoRequest struct {
	Type     string
	Query    string
	Reason   string
	Priority int
}

var decisionAliasKeys = []string{"decision", "verdict", "result"}

// ParseMetaReflection repairs a raw meta-reflection reply. Decision is
// uppercased and defaulted to "CLARIFY" when absent or unrecognized, matching
// the gate's fail-closed posture (§4.1 step 2: a LLM that can't even state a
// decision should not be trusted to PROCEED).
func ParseMetaReflection(raw map[string]any) MetaReflection {
	conf := clamp01(toFloat(raw["confidence"]))

	var decision string
	for _, key := range decisionAliasKeys {
		if s, ok := raw[key].(string); ok && s != "" {
			decision = strings.ToUpper(strings.TrimSpace(s))
			break
		}
	}
	switch decision {
	case "PROCEED", "NEED_INFO", "CLARIFY":
	default:
		decision = "CLARIFY"
	}

	queryType, _ := raw["query_type"].(string)

	var requests []InfoRequest
	if rawList, ok := raw["info_requests"].([]any); ok {
		for _, item := range rawList {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			query, _ := m["query"].(string)
			if query == "" {
				continue
			}
			reqType, _ := m["type"].(string)
			reason, _ := m["reason"].(string)
			requests = append(requests, InfoRequest{
				Type: reqType, Query: query, Reason: reason,
				Priority: int(toFloat(m["priority"])),
			})
		}
	}

	return MetaReflection{
		Confidence: conf, Decision: decision, QueryType: strings.ToUpper(queryType), InfoRequests: requests,
	}
}

// CacheDecision is the repaired shape of the cache-manager gate's LLM reply
// (spec §4.1 step 3).
type CacheDecision struct {
	Decision    string // use_response_cache | use_claims | proceed_to_plan
	CacheSource string
	Reasoning   string
	Confidence  float64
}

var cacheDecisionAliasKeys = []string{"decision", "action"}

// cacheDecisionSchemaJSON is the strict shape a well-formed cache-manager-
// gate reply satisfies: decision restricted to the three known actions,
// confidence bounded to [0,1]. A reply that validates against this schema
// skips the lossy alias/clamp repair path entirely.
const cacheDecisionSchemaJSON = `{
	"type": "object",
	"properties": {
		"decision": {"type": "string", "enum": ["use_response_cache", "use_claims", "proceed_to_plan"]},
		"cache_source": {"type": "string"},
		"reasoning": {"type": "string"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	},
	"required": ["decision"]
}`

var cacheDecisionSchema = compileCacheDecisionSchema()

func compileCacheDecisionSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("cache_decision.schema.json", strings.NewReader(cacheDecisionSchemaJSON)); err != nil {
		panic(fmt.Sprintf("contract: add cache decision schema: %v", err))
	}
	schema, err := compiler.Compile("cache_decision.schema.json")
	if err != nil {
		panic(fmt.Sprintf("contract: compile cache decision schema: %v", err))
	}
	return schema
}

// ParseCacheDecision validates a raw cache-manager-gate reply against
// cacheDecisionSchema first; a reply that already has the exact expected
// shape is accepted as-is. Anything else falls back to the lossy
// alias/default repair, defaulting to "proceed_to_plan" (the safe fallback:
// worst case the turn replans instead of serving a possibly-wrong cached
// answer) when the decision is absent or unrecognized.
func ParseCacheDecision(raw map[string]any) CacheDecision {
	if err := cacheDecisionSchema.Validate(raw); err == nil {
		decision, _ := raw["decision"].(string)
		source, _ := raw["cache_source"].(string)
		reasoning, _ := raw["reasoning"].(string)
		return CacheDecision{
			Decision: strings.ToLower(strings.TrimSpace(decision)), CacheSource: source, Reasoning: reasoning,
			Confidence: clamp01(toFloat(raw["confidence"])),
		}
	}

	var decision string
	for _, key := range cacheDecisionAliasKeys {
		if s, ok := raw[key].(string); ok && s != "" {
			decision = strings.ToLower(strings.TrimSpace(s))
			break
		}
	}
	switch decision {
	case "use_response_cache", "use_claims", "proceed_to_plan":
	default:
		decision = "proceed_to_plan"
	}

	source, _ := raw["cache_source"].(string)
	reasoning, _ := raw["reasoning"].(string)

	return CacheDecision{
		Decision: decision, CacheSource: source, Reasoning: reasoning,
		Confidence: clamp01(toFloat(raw["confidence"])),
	}
}

// EnforceLimit truncates text to fit within maxTokens (estimated at 4
// chars/token), preferring the last sentence boundary found within 80% of
// the cap, and appends a truncation marker when trimming occurred.
func EnforceLimit(_, text string, maxTokens int) string {
	maxChars := maxTokens * 4
	if len(text) <= maxChars {
		return text
	}

	cutoff := maxChars
	searchFrom := int(float64(maxChars) * 0.8)
	boundary := lastSentenceBoundary(text[:cutoff], searchFrom)
	if boundary > 0 {
		cutoff = boundary
	}

	return text[:cutoff] + "\n\n... [truncated to fit token budget]"
}

func lastSentenceBoundary(s string, from int) int {
	if from < 0 || from > len(s) {
		from = 0
	}
	best := -1
	for i := from; i < len(s); i++ {
		if s[i] == '.' || s[i] == '!' || s[i] == '?' {
			best = i + 1
		}
	}
	return best
}

// EstimateTokens approximates token count at 4 characters per token,
// matching EnforceLimit and the doc-pack builder.
func EstimateTokens(text string) int {
	return (len(strings.TrimSpace(text)) + 3) / 4
}
