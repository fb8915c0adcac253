package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cogateway/breaker"
	"cogateway/recipe"
	"cogateway/turn"
)

func TestAgentLoopNoClientTerminatesImmediately(t *testing.T) {
	loop := &AgentLoop{}
	result, err := loop.Run(context.Background(), turn.TaskTicket{TicketID: "t1", Goal: "find a laptop"})
	require.NoError(t, err)
	assert.Equal(t, "done", result.Status)
	assert.Empty(t, result.Bundle.Items)
}

func TestAgentLoopInvokesToolsUntilDone(t *testing.T) {
	client := &fakeModelClient{Replies: []string{
		`{"plan": [{"tool": "web.search", "args": {"q": "laptop"}}]}`,
		`{"status": "DONE"}`,
	}}
	invoker := ToolInvokerFunc(func(_ context.Context, call turn.ToolCall) turn.ToolOutput {
		return turn.ToolOutput{Success: true, Data: "3 results", Metadata: turn.ToolOutputMetadata{ToolName: call.Tool}}
	})
	loop := &AgentLoop{Client: client, Invoker: invoker, Config: recipe.AgentLoopConfig{MaxSteps: 4, ToolsPerStep: 2}}

	result, err := loop.Run(context.Background(), turn.TaskTicket{TicketID: "t2", Goal: "find a laptop"})
	require.NoError(t, err)
	assert.Equal(t, "done", result.Status)
	require.Len(t, result.Bundle.Items, 1)
	assert.Equal(t, turn.BundleOK, result.Bundle.Status)
}

func TestAgentLoopStopsAtMaxSteps(t *testing.T) {
	client := &fakeModelClient{Replies: []string{
		`{"plan": [{"tool": "web.search", "args": {}}]}`,
		`{"plan": [{"tool": "web.search", "args": {}}]}`,
	}}
	invoker := ToolInvokerFunc(func(_ context.Context, call turn.ToolCall) turn.ToolOutput {
		return turn.ToolOutput{Success: true, Data: "ok"}
	})
	loop := &AgentLoop{Client: client, Invoker: invoker, Config: recipe.AgentLoopConfig{MaxSteps: 2, ToolsPerStep: 1}}

	result, err := loop.Run(context.Background(), turn.TaskTicket{TicketID: "t3", Goal: "goal"})
	require.NoError(t, err)
	assert.Equal(t, "max_steps", result.Status)
	assert.Equal(t, 2, result.Steps)
}

func TestAgentLoopSubstitutesSyntheticFailureWhenCircuitOpen(t *testing.T) {
	client := &fakeModelClient{Replies: []string{
		`{"plan": [{"tool": "flaky.tool", "args": {}}]}`,
		`{"status": "DONE"}`,
	}}
	invoker := ToolInvokerFunc(func(_ context.Context, call turn.ToolCall) turn.ToolOutput {
		return turn.ToolOutput{Success: false, Error: "boom", Metadata: turn.ToolOutputMetadata{ToolName: call.Tool}}
	})
	breakers := breaker.NewRegistry(breaker.Options{FailureThreshold: 1, RecoveryTimeout: 0})
	// Trip the breaker before the loop runs, so the very first dispatch hits
	// the open-circuit short-circuit path deterministically.
	_ = breakers.Get("flaky.tool").Call(context.Background(), func(context.Context) error {
		return assertErr("seed failure")
	})

	loop := &AgentLoop{Client: client, Invoker: invoker, Breakers: breakers, Config: recipe.AgentLoopConfig{MaxSteps: 2, ToolsPerStep: 1}}
	result, err := loop.Run(context.Background(), turn.TaskTicket{TicketID: "t4", Goal: "goal"})
	require.NoError(t, err)
	require.Len(t, result.Bundle.Items, 1)
	assert.Contains(t, result.Bundle.Items[0].Summary, "circuit open")
}
