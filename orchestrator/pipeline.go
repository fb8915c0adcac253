package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cogateway/artifact"
	"cogateway/breaker"
	"cogateway/cache"
	"cogateway/claims"
	"cogateway/contract"
	"cogateway/embedding"
	"cogateway/engine"
	"cogateway/ledger"
	"cogateway/model"
	"cogateway/recipe"
	"cogateway/sessionctx"
	"cogateway/turn"
	"cogateway/turndir"
)

// AgentLoopWorkflow is the workflow name the agent loop phase registers
// under when an engine.Engine is configured (§5: the one phase with genuine
// suspension points runs inside the workflow engine; the other seven stay
// plain sequential functions).
const AgentLoopWorkflow = "orchestrator.agent_loop"

// Model role keys into Pipeline.Models. Each role may be bound to a
// different provider/model, matching the spec's per-phase model
// assignment.
const (
	RoleContextBuilder = "context_builder"
	RolePlanner        = "planner"
	RoleCoordinator    = "coordinator"
	RoleVerifier       = "verifier"
	RoleSynthesizer    = "synthesizer"
	RoleSummarizer     = "summarizer"
	RoleCacheGate      = "cache_gate"
)

// Pipeline wires every shared-state component and model client needed to
// run one turn end to end (§4.1). It holds no per-turn state itself; RunTurn
// allocates a fresh turndir.Dir per call.
type Pipeline struct {
	Models map[string]model.Client

	ResponseCache cache.Layer
	ClaimCache    cache.Layer
	ToolCache     cache.Layer

	ClaimStore    claims.Store
	LedgerStore   ledger.Store
	ArtifactStore artifact.Store
	SessionStore  *sessionctx.Store
	Breakers      *breaker.Registry
	Embedder      embedding.Embedder
	Invoker       ToolInvoker

	// Engine, when non-nil, runs the agent loop phase as a workflow
	// (AgentLoopWorkflow) instead of a bare in-process call, so tool
	// dispatch goes through engine.WorkflowContext.ExecuteActivityAsync.
	// nil is the common case for a single-process deployment.
	Engine engine.Engine

	TranscriptsRoot string
	RepoRoot        string
	SessionDir      string

	Thresholds      Thresholds
	AgentLoopConfig recipe.AgentLoopConfig
}

// TurnResult is RunTurn's outcome: the final answer plus the per-phase audit
// trail (which phases degraded to a safe default, and why).
type TurnResult struct {
	Answer string
	Phases []PhaseResult
}

// contextSources records what context.md was actually built from, for the
// turn directory's context_sources.json (§6).
type contextSources struct {
	SessionID          string   `json:"session_id"`
	HasUserPreferences bool     `json:"has_user_preferences"`
	HasUserFacts       bool     `json:"has_user_facts"`
	HasSystemLearnings bool     `json:"has_system_learnings"`
	HasDomainKnowledge bool     `json:"has_domain_knowledge"`
	LessonCount        int      `json:"lesson_count"`
	RelevantClaims     []string `json:"relevant_claims"`
}

// turnIntent records the meta-reflection gate's query-type classification
// for the turn directory's intent.json (§6).
type turnIntent struct {
	QueryType  string  `json:"query_type"`
	Confidence float64 `json:"confidence"`
}

func claimIDs(rows []claims.ClaimRow) []string {
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ClaimID)
	}
	return ids
}

// RunTurn executes the eight-phase turn pipeline for one user query,
// persisting every phase's document in a fresh turn directory and applying
// the resulting summary and claims back into the shared-state backbone.
func (p *Pipeline) RunTurn(ctx context.Context, sessionID, traceID, domain, query string, docs MemoryDocs) (TurnResult, error) {
	dir, err := turndir.New(p.TranscriptsRoot, traceID, p.RepoRoot, p.SessionDir)
	if err != nil {
		return TurnResult{}, fmt.Errorf("orchestrator: allocate turn directory: %w", err)
	}

	var phases []PhaseResult
	now := time.Now()

	_ = dir.WriteUserQuery(query)
	p.appendLedger(ctx, sessionID, traceID, ledger.EventTurnStarted, map[string]string{"query": query})

	state := p.SessionStore.Get(sessionID)
	relevantClaims := p.lookupRelevantClaims(ctx, domain)

	contextMD, err := BuildContext(ctx, p.Models[RoleContextBuilder], state, docs, relevantClaims, now)
	phases = append(phases, PhaseResult{Phase: PhaseContextBuild, Err: err, Degraded: err != nil})
	_ = dir.WriteContext(contextMD)
	_ = dir.WriteContextSources(contextSources{
		SessionID:          sessionID,
		HasUserPreferences: docs.UserPreferences != "",
		HasUserFacts:       docs.UserFacts != "",
		HasSystemLearnings: docs.SystemLearnings != "",
		HasDomainKnowledge: docs.DomainKnowledge != "",
		LessonCount:        len(docs.Lessons),
		RelevantClaims:     claimIDs(relevantClaims),
	})

	action, _, queryType, err := ReflectWithInfoLoop(ctx, p.Models[RolePlanner], "planner", contextMD, p.Thresholds, nil)
	phases = append(phases, PhaseResult{Phase: PhaseMetaReflection, Err: err, Degraded: err != nil})
	_ = dir.WriteMetaReflection(renderMetaAction(action))
	_ = dir.WriteIntent(turnIntent{QueryType: queryType, Confidence: metaConfidence(action)})

	if question, blocked := clarificationNeeded(action); blocked {
		p.sealAborted(dir, sessionID, traceID)
		return TurnResult{Answer: question, Phases: phases}, nil
	}

	queryEmbedding := p.embedOrNil(ctx, query)
	confidence := metaConfidence(action)

	decision, err := Gate(ctx, p.Models[RoleCacheGate], query, domain, queryEmbedding, confidence, p.ResponseCache, p.ClaimCache, now)
	phases = append(phases, PhaseResult{Phase: PhaseCacheGate, Err: err, Degraded: err != nil})
	_ = dir.WriteCacheDecision(decision)

	if decision.Action != "proceed_to_plan" {
		if answer, ok := p.answerFromCache(ctx, domain, query, queryEmbedding, decision); ok {
			_ = dir.WriteAnswer(answer)
			p.finishTurn(ctx, dir, sessionID, traceID, query, answer, turn.CapsuleEnvelope{}, &phases)
			return TurnResult{Answer: answer, Phases: phases}, nil
		}
		// Cache claimed a hit but nothing resolvable was found; fall through
		// to planning rather than returning an empty answer.
	}

	ticket := p.planTicket(ctx, traceID, query)
	_ = dir.WritePlan(ticket)

	loop := &AgentLoop{
		Client: p.Models[RoleCoordinator], Invoker: p.Invoker, Breakers: p.Breakers,
		Store: p.ArtifactStore, Config: p.AgentLoopConfig, Dir: dir,
	}
	loopResult, err := p.runAgentLoop(ctx, loop, ticket)
	phases = append(phases, PhaseResult{Phase: PhaseExecute, Err: err, Degraded: err != nil || loopResult.Status != "done"})
	_ = dir.WriteBundle(loopResult.Bundle)
	p.appendLedger(ctx, sessionID, traceID, ledger.EventBundleAssembled, map[string]string{
		"status":      string(loopResult.Bundle.Status),
		"loop_status": loopResult.Status,
	})

	capsule, err := Verify(ctx, p.Models[RoleVerifier], loopResult.Bundle, now)
	phases = append(phases, PhaseResult{Phase: PhaseVerify, Err: err, Degraded: err != nil})
	_ = dir.WriteCapsule(capsule)

	envelope, envErr := contract.ParseCapsuleEnvelope(capsule, loopResult.Bundle)
	if envErr != nil {
		phases = append(phases, PhaseResult{Phase: PhaseVerify, Err: envErr, Degraded: true})
		envelope = turn.CapsuleEnvelope{Caveats: []string{"no verified claims survived this turn"}}
	}

	answer, err := Synthesize(ctx, p.Models[RoleSynthesizer], query, envelope)
	phases = append(phases, PhaseResult{Phase: PhaseSynthesize, Err: err, Degraded: err != nil})
	_ = dir.WriteAnswer(answer)

	p.persistClaims(ctx, sessionID, domain, capsule)
	p.finishTurn(ctx, dir, sessionID, traceID, query, answer, envelope, &phases)

	return TurnResult{Answer: answer, Phases: phases}, nil
}

// runAgentLoop runs loop directly when no engine is configured, or as an
// engine workflow (registering the workflow and its tool-invoke activity
// fresh each call — cheap map writes against the in-process/Temporal
// registries) when one is.
func (p *Pipeline) runAgentLoop(ctx context.Context, loop *AgentLoop, ticket turn.TaskTicket) (AgentLoopResult, error) {
	if p.Engine == nil {
		return loop.Run(ctx, ticket)
	}

	_ = p.Engine.RegisterActivity(ctx, engine.ActivityDefinition{Name: ToolInvokeActivity, Handler: loop.Activity()})
	_ = p.Engine.RegisterWorkflow(ctx, engine.WorkflowDefinition{
		Name: AgentLoopWorkflow,
		Handler: func(wfCtx engine.WorkflowContext, input any) (any, error) {
			t, ok := input.(turn.TaskTicket)
			if !ok {
				return nil, fmt.Errorf("orchestrator: agent loop workflow input is not a turn.TaskTicket")
			}
			return loop.RunInWorkflow(wfCtx, t)
		},
	})

	handle, err := p.Engine.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID: ticket.TicketID, Workflow: AgentLoopWorkflow, Input: ticket,
	})
	if err != nil {
		return AgentLoopResult{}, err
	}
	var result AgentLoopResult
	if err := handle.Wait(ctx, &result); err != nil {
		return AgentLoopResult{}, err
	}
	return result, nil
}

func (p *Pipeline) finishTurn(ctx context.Context, dir *turndir.Dir, sessionID, traceID, query, answer string, envelope turn.CapsuleEnvelope, phases *[]PhaseResult) {
	summary, writes := Summarize(ctx, p.Models[RoleSummarizer], query, answer, envelope)
	*phases = append(*phases, PhaseResult{Phase: PhaseSummarize})
	_ = dir.WriteTurnSummary(summary)
	_ = dir.WriteMemoryWrites(writes)

	p.SessionStore.ApplyTurnSummary(sessionID, summary)
	p.appendLedger(ctx, sessionID, traceID, ledger.EventTurnCompleted, map[string]string{"summary": summary.ShortSummary})
	_ = dir.Seal("completed")
}

func (p *Pipeline) sealAborted(dir *turndir.Dir, sessionID, traceID string) {
	_ = dir.Seal("aborted")
}

// lookupRelevantClaims approximates topic-scoped retrieval by treating
// domain as the topic ID directly. Full topic-graph resolution (claims
// package's TopicIndex) sits upstream of the pipeline in the intent
// classifier that isn't modeled here; this is a conservative stand-in, not
// a replacement for it.
func (p *Pipeline) lookupRelevantClaims(ctx context.Context, domain string) []claims.ClaimRow {
	if p.ClaimStore == nil || domain == "" {
		return nil
	}
	rows, err := p.ClaimStore.GetByTopic(ctx, domain, 10)
	if err != nil {
		return nil
	}
	return rows
}

func (p *Pipeline) embedOrNil(ctx context.Context, text string) []float32 {
	if p.Embedder == nil {
		return nil
	}
	vec, err := p.Embedder.Embed(ctx, text)
	if err != nil {
		return nil
	}
	return vec
}

// answerFromCache resolves a non-proceed Decision to actual served text. The
// Gate already consulted cache.Layer.Lookup once to decide; this repeats the
// lookup to retrieve the winning entry's payload, which the Decision itself
// doesn't carry (it's a verdict, not a result set).
func (p *Pipeline) answerFromCache(ctx context.Context, domain, query string, queryEmbedding []float32, decision Decision) (string, bool) {
	var layer cache.Layer
	switch decision.Action {
	case "use_response_cache":
		layer = p.ResponseCache
	case "use_claims":
		layer = p.ClaimCache
	default:
		return "", false
	}
	if layer == nil {
		return "", false
	}
	matches, err := layer.Lookup(ctx, domain, query, queryEmbedding, 1)
	if err != nil || len(matches) == 0 {
		return "", false
	}
	return string(matches[0].Entry.Payload), true
}

// planTicket builds the turn's TaskTicket. The heavy per-step planning
// (which tools, in what order) happens inside the agent loop's coordinator
// calls; this phase only fixes the overall goal and, when the model is
// available, a short micro-plan derived from the reply's source list.
func (p *Pipeline) planTicket(ctx context.Context, traceID, query string) turn.TaskTicket {
	ticket := turn.TaskTicket{TicketID: traceID, UserTurnID: traceID, Goal: query, ReturnShape: "prose"}

	client := p.Models[RolePlanner]
	if client == nil {
		return ticket
	}
	resp, err := client.Complete(ctx, model.Request{
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: "Break this goal into a short ordered micro-plan. Reply as JSON with an \"answer\" summarizing the approach and \"sources\" as the ordered list of steps."},
			{Role: model.RoleUser, Content: query},
		},
		MaxTokens:   250,
		Temperature: 0,
	})
	if err != nil {
		return ticket
	}
	parsed := contract.ParseGuideResponse(decodeJSONObject(resp.Content))
	ticket.MicroPlan = parsed.Sources
	return ticket
}

func (p *Pipeline) persistClaims(ctx context.Context, sessionID, domain string, capsule turn.DistilledCapsule) {
	if p.ClaimStore == nil {
		return
	}
	for _, c := range capsule.Claims {
		row := claims.ClaimRow{
			ClaimID: c.ClaimID, SessionID: sessionID, TopicID: domain,
			ClaimType: claims.ClaimTypeGeneral, Statement: c.Claim,
			EvidenceHandles: c.Evidence, Confidence: confidenceToClaimsConfidence(c.Confidence),
			LastVerified: c.LastVerified, TTLSeconds: c.TTLSeconds,
		}
		if p.Embedder != nil {
			if vec, err := p.Embedder.Embed(ctx, c.Claim); err == nil {
				row.Embedding = vec
			}
		}
		_ = p.ClaimStore.Upsert(ctx, row)
	}
}

func (p *Pipeline) appendLedger(ctx context.Context, sessionID, traceID string, eventType ledger.EventType, payload map[string]string) {
	if p.LedgerStore == nil {
		return
	}
	data, err := marshalLedgerPayload(payload)
	if err != nil {
		return
	}
	_ = p.LedgerStore.Append(ctx, &ledger.Event{
		SessionID: sessionID, TurnID: traceID, Type: eventType,
		Payload: data, Timestamp: time.Now(),
	})
}

func marshalLedgerPayload(payload map[string]string) (json.RawMessage, error) {
	return json.Marshal(payload)
}

func renderMetaAction(action MetaAction) string {
	switch a := action.(type) {
	case Proceed:
		return fmt.Sprintf("PROCEED (confidence %.2f)", a.Confidence)
	case RequestClarification:
		return fmt.Sprintf("CLARIFY (confidence %.2f): %s", a.Confidence, a.Question)
	case NeedsAnalysis:
		return fmt.Sprintf("NEEDS_ANALYSIS (confidence %.2f)", a.Confidence)
	case NeedInfo:
		return fmt.Sprintf("NEED_INFO (confidence %.2f, %d requests)", a.Confidence, len(a.Requests))
	default:
		return "unknown"
	}
}

func clarificationNeeded(action MetaAction) (string, bool) {
	if rc, ok := action.(RequestClarification); ok {
		return rc.Question, true
	}
	return "", false
}

func metaConfidence(action MetaAction) float64 {
	switch a := action.(type) {
	case Proceed:
		return a.Confidence
	case NeedsAnalysis:
		return a.Confidence
	case NeedInfo:
		return a.Confidence
	case RequestClarification:
		return a.Confidence
	default:
		return 0
	}
}
