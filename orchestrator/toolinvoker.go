package orchestrator

import (
	"context"

	"cogateway/turn"
)

// ToolInvoker is the agent loop's consumer-side view of the execution tier:
// invoke one tool call and get back a uniform ToolOutput that never raises.
// package toolclient implements this over HTTP; tests supply a fake.
type ToolInvoker interface {
	Invoke(ctx context.Context, call turn.ToolCall) turn.ToolOutput
}

// ToolInvokerFunc adapts a plain function to ToolInvoker.
type ToolInvokerFunc func(ctx context.Context, call turn.ToolCall) turn.ToolOutput

func (f ToolInvokerFunc) Invoke(ctx context.Context, call turn.ToolCall) turn.ToolOutput {
	return f(ctx, call)
}
