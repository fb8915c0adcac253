package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"cogateway/artifact"
	"cogateway/breaker"
	"cogateway/contract"
	"cogateway/engine"
	"cogateway/model"
	"cogateway/recipe"
	"cogateway/turn"
	"cogateway/turndir"
)

// ToolInvokeActivity is the engine activity name AgentLoop.Activity
// registers under, for deployments that dispatch tool calls through an
// engine.Engine workflow rather than plain goroutines (§5: tool RPCs are one
// of the pipeline's genuine suspension points).
const ToolInvokeActivity = "orchestrator.tool_invoke"

// defaultMaxSteps and defaultToolsPerStep apply when a recipe's AgentLoop
// config omits them (§4.1 step 5).
const (
	defaultMaxSteps     = 6
	defaultToolsPerStep = 3
)

// AgentLoopResult is the agent loop's terminal outcome.
type AgentLoopResult struct {
	Bundle turn.RawBundle
	Steps  int
	Status string // done | blocked | max_steps | error
}

// AgentLoop runs the Planner/Executor/Coordinator tool-calling loop (C17).
// Each step asks the coordinator model for the next batch of tool calls
// (capped at ToolsPerStep), consults a per-tool circuit breaker before
// dispatch (substituting a synthetic failure ToolOutput for an open
// breaker rather than calling out), invokes the surviving calls
// concurrently, and folds every result into a growing RawBundle. Terminates
// on an explicit DONE or BLOCKED from the coordinator (an unusable reply
// counts as BLOCKED), on a coordinator call error, or on MaxSteps, whichever
// comes first — matching the teacher's agent-loop pattern of a hard step ceiling
// guarding against a runaway planner.
type AgentLoop struct {
	Client   model.Client
	Invoker  ToolInvoker
	Breakers *breaker.Registry
	Store    artifact.Store
	Config   recipe.AgentLoopConfig

	// Dir, when non-nil, receives one tool_calls/step_NN_<tool>.json record
	// per dispatched call (§6's turn directory layout).
	Dir *turndir.Dir
}

// coordinatorOutcome is the coordinator's three-way per-step decision
// (§4.1 step 5, §4.7): TOOL_CALL continues the loop, DONE and BLOCKED both
// terminate it, distinctly.
type coordinatorOutcome string

const (
	outcomeContinue coordinatorOutcome = "continue"
	outcomeDone     coordinatorOutcome = "done"
	outcomeBlocked  coordinatorOutcome = "blocked"
)

// Run drives the loop to completion for one ticket over plain goroutines.
// Use RunInWorkflow instead when running under an engine.Engine workflow, so
// tool dispatch goes through the durable activity path.
func (l *AgentLoop) Run(ctx context.Context, ticket turn.TaskTicket) (AgentLoopResult, error) {
	return l.run(ctx, nil, ticket)
}

// RunInWorkflow drives the loop from inside an engine workflow, dispatching
// each tool call as an activity (ToolInvokeActivity) via
// wfCtx.ExecuteActivityAsync rather than a bare goroutine. The registered
// activity must be l.Activity() (or an equivalent closure over the same
// Invoker/Breakers), registered once at the composition root.
func (l *AgentLoop) RunInWorkflow(wfCtx engine.WorkflowContext, ticket turn.TaskTicket) (AgentLoopResult, error) {
	return l.run(wfCtx.Context(), wfCtx, ticket)
}

func (l *AgentLoop) run(ctx context.Context, wfCtx engine.WorkflowContext, ticket turn.TaskTicket) (AgentLoopResult, error) {
	maxSteps := l.Config.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	toolsPerStep := l.Config.ToolsPerStep
	if toolsPerStep <= 0 {
		toolsPerStep = defaultToolsPerStep
	}

	bundle := turn.RawBundle{TicketID: ticket.TicketID, Status: turn.BundleEmpty, Usage: map[string]int{}}
	transcript := ticket.Goal

	for step := 0; step < maxSteps; step++ {
		calls, outcome, err := l.nextCalls(ctx, ticket, transcript)
		if err != nil {
			bundle.Status = turn.BundleError
			return AgentLoopResult{Bundle: bundle, Steps: step, Status: "error"}, err
		}
		switch outcome {
		case outcomeDone:
			finalizeBundleStatus(&bundle)
			return AgentLoopResult{Bundle: bundle, Steps: step, Status: "done"}, nil
		case outcomeBlocked:
			// Per §4.7, BLOCKED is a distinct terminal from DONE — the turn
			// still proceeds to Verify with whatever partial evidence the
			// bundle holds, but the audit trail must not call this "done".
			finalizeBundleStatus(&bundle)
			return AgentLoopResult{Bundle: bundle, Steps: step, Status: "blocked"}, nil
		}

		if len(calls) > toolsPerStep {
			calls = calls[:toolsPerStep]
		}

		outputs := l.invokeBatch(ctx, wfCtx, calls)
		for i, out := range outputs {
			item := l.toBundleItem(ctx, calls[i], out, step, i)
			bundle.Items = append(bundle.Items, item)
			transcript += "\n" + item.Summary
			if l.Dir != nil {
				_ = l.Dir.WriteToolCallStep(step, calls[i].Tool, map[string]any{"call": calls[i], "output": out})
			}
		}
		bundle.Usage["steps"]++
	}

	finalizeBundleStatus(&bundle)
	return AgentLoopResult{Bundle: bundle, Steps: maxSteps, Status: "max_steps"}, nil
}

// nextCalls asks the coordinator model for the next batch of tool calls. The
// model reports one of three outcomes (§4.1 step 5, §4.7): {"status":"DONE"}
// once it judges the ticket's goal satisfied, {"status":"BLOCKED","reason":
// ...} when it cannot proceed, or {"plan":[...]} with the next tool calls.  A
// reply that parses to neither a recognized status nor a non-empty plan is
// itself treated as BLOCKED rather than silently labeled done — an empty or
// malformed coordinator reply is not evidence the goal was met.
func (l *AgentLoop) nextCalls(ctx context.Context, ticket turn.TaskTicket, transcript string) ([]turn.ToolCall, coordinatorOutcome, error) {
	if l.Client == nil {
		return nil, outcomeDone, nil
	}

	resp, err := l.Client.Complete(ctx, model.Request{
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: "You coordinate tool calls to satisfy a goal. Reply as JSON with one of: {\"status\": \"DONE\"} when the goal is satisfied, {\"status\": \"BLOCKED\", \"reason\": ...} when you cannot proceed further, or {\"plan\": [{\"tool\": ..., \"args\": {...}, \"required\": bool}, ...]} with the next tool calls."},
			{Role: model.RoleUser, Content: fmt.Sprintf("Goal: %s\n\nProgress so far:\n%s", ticket.Goal, transcript)},
		},
		MaxTokens:   400,
		Temperature: 0,
	})
	if err != nil {
		return nil, outcomeContinue, err
	}

	raw := decodeJSONObject(resp.Content)
	if status, ok := raw["status"].(string); ok {
		switch strings.ToUpper(strings.TrimSpace(status)) {
		case "DONE":
			return nil, outcomeDone, nil
		case "BLOCKED":
			return nil, outcomeBlocked, nil
		}
	}

	calls := contract.ParseCoordinatorResponse(raw)
	if len(calls) == 0 {
		// Neither a recognized status nor a usable plan: the coordinator
		// produced nothing actionable, which is unrecoverable for this step.
		return nil, outcomeBlocked, nil
	}
	return calls, outcomeContinue, nil
}

// invokeBatch dispatches calls concurrently. Outside a workflow this uses
// plain goroutines consulting the breaker directly; inside one, each call is
// scheduled as a ToolInvokeActivity future so the engine owns dispatch.
// Order is preserved so callers can zip results back against calls.
func (l *AgentLoop) invokeBatch(ctx context.Context, wfCtx engine.WorkflowContext, calls []turn.ToolCall) []turn.ToolOutput {
	if wfCtx != nil {
		return l.invokeBatchViaEngine(ctx, wfCtx, calls)
	}

	outputs := make([]turn.ToolOutput, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call turn.ToolCall) {
			defer wg.Done()
			outputs[i] = l.invokeOne(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return outputs
}

func (l *AgentLoop) invokeBatchViaEngine(ctx context.Context, wfCtx engine.WorkflowContext, calls []turn.ToolCall) []turn.ToolOutput {
	futures := make([]engine.Future, len(calls))
	for i, call := range calls {
		f, err := wfCtx.ExecuteActivityAsync(ctx, engine.ActivityRequest{Name: ToolInvokeActivity, Input: call})
		if err != nil {
			outFailed := turn.ToolOutput{Success: false, Error: err.Error(), Metadata: turn.ToolOutputMetadata{ToolName: call.Tool}}
			futures[i] = immediateToolFuture{out: outFailed}
			continue
		}
		futures[i] = f
	}

	outputs := make([]turn.ToolOutput, len(calls))
	for i, f := range futures {
		var out turn.ToolOutput
		if err := f.Get(ctx, &out); err != nil {
			out = turn.ToolOutput{Success: false, Error: err.Error(), Metadata: turn.ToolOutputMetadata{ToolName: calls[i].Tool}}
		}
		outputs[i] = out
	}
	return outputs
}

// immediateToolFuture wraps an already-known ToolOutput as an engine.Future,
// for the case ExecuteActivityAsync itself fails to schedule.
type immediateToolFuture struct{ out turn.ToolOutput }

func (f immediateToolFuture) IsReady() bool { return true }
func (f immediateToolFuture) Get(_ context.Context, result any) error {
	if dest, ok := result.(*turn.ToolOutput); ok {
		*dest = f.out
	}
	return nil
}

// Activity returns the ToolInvokeActivity handler, applying the same
// breaker gating as invokeOne. Register this once at the composition root
// against whichever engine.Engine is in use.
func (l *AgentLoop) Activity() engine.ActivityFunc {
	return func(ctx context.Context, input any) (any, error) {
		call, ok := input.(turn.ToolCall)
		if !ok {
			return turn.ToolOutput{Success: false, Error: "orchestrator: activity input is not a turn.ToolCall"}, nil
		}
		return l.invokeOne(ctx, call), nil
	}
}

func (l *AgentLoop) invokeOne(ctx context.Context, call turn.ToolCall) turn.ToolOutput {
	if l.Invoker == nil {
		return turn.ToolOutput{Success: false, Error: "no tool invoker configured", Metadata: turn.ToolOutputMetadata{ToolName: call.Tool}}
	}

	if l.Breakers == nil {
		return l.Invoker.Invoke(ctx, call)
	}

	var out turn.ToolOutput
	b := l.Breakers.Get(call.Tool)
	err := b.Call(ctx, func(ctx context.Context) error {
		out = l.Invoker.Invoke(ctx, call)
		if !out.Success {
			return fmt.Errorf("tool %s: %s", call.Tool, out.Error)
		}
		return nil
	})
	if err == breaker.ErrCircuitOpen {
		return turn.ToolOutput{
			Success: false, Error: "circuit open for tool " + call.Tool,
			Metadata: turn.ToolOutputMetadata{ToolName: call.Tool, ToolType: "breaker_short_circuit"},
		}
	}
	return out
}

// toBundleItem persists a tool output's payload in the artifact store and
// wraps it into a citable RawBundleItem.
func (l *AgentLoop) toBundleItem(ctx context.Context, call turn.ToolCall, out turn.ToolOutput, step, idx int) turn.RawBundleItem {
	handle := fmt.Sprintf("step%d_tool%d_%s", step, idx, call.Tool)

	var blobID string
	if l.Store != nil {
		if payload, err := json.Marshal(out); err == nil {
			if rec, err := l.Store.StoreBytes(ctx, payload, "tool_output", map[string]string{"tool": call.Tool}); err == nil {
				blobID = rec.BlobID
			}
		}
	}

	summary := out.Error
	if out.Success {
		summary = fmt.Sprintf("%s: %v", call.Tool, out.Data)
	}

	return turn.RawBundleItem{
		Handle:  handle,
		Kind:    turn.KindToolOutput,
		Summary: summary,
		BlobID:  blobID,
		Metadata: map[string]string{
			"tool":    call.Tool,
			"success": fmt.Sprint(out.Success),
		},
	}
}

func finalizeBundleStatus(bundle *turn.RawBundle) {
	if bundle.Status == turn.BundleError {
		return
	}
	if len(bundle.Items) == 0 {
		bundle.Status = turn.BundleEmpty
		return
	}
	bundle.Status = turn.BundleOK
	for _, item := range bundle.Items {
		if item.Metadata["success"] == "false" {
			bundle.Status = turn.BundleConflict
			break
		}
	}
}
