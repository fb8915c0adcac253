// Package model defines the provider-agnostic chat message and completion
// types shared by every LLM endpoint the gateway drives (Planner,
// Coordinator, Verifier, meta-reflection, cache-gate). Provider adapters
// (model/openai, model/anthropic, model/bedrock) translate these into their
// wire formats; the rest of the orchestrator only ever sees this package.
package model

import (
	"context"
	"errors"
)

type (
	// Role identifies the speaker for a message.
	Role string

	// Message is a single chat message exchanged with an LLM endpoint.
	Message struct {
		Role    Role
		Content string
		// ToolCalls lists tool invocations requested by the assistant in this
		// message. Empty for plain text messages.
		ToolCalls []ToolCall
		// ToolCallID correlates a tool-role message back to the ToolCall it
		// answers. Empty for non-tool messages.
		ToolCallID string
	}

	// ToolDefinition describes a tool exposed to the model for this request.
	ToolDefinition struct {
		Name        string
		Description string
		// InputSchema is a JSON Schema object describing the tool arguments.
		InputSchema any
	}

	// ToolCall is a tool invocation requested by the model.
	ToolCall struct {
		ID   string
		Name string
		// Arguments is the raw JSON arguments object emitted by the model.
		Arguments string
	}

	// Request captures a single completion invocation.
	Request struct {
		// Model is the concrete provider model identifier (e.g. "gpt-4o-mini").
		Model string
		Messages []Message
		Temperature float32
		MaxTokens   int
		Tools       []ToolDefinition
		// Stop lists provider-specific stop sequences.
		Stop []string
		// TopP configures nucleus sampling when supported.
		TopP float32
	}

	// Response is the result of a non-streaming completion.
	Response struct {
		Content   string
		ToolCalls []ToolCall
		Usage     TokenUsage
		// StopReason records why generation stopped (provider-specific).
		StopReason string
	}

	// TokenUsage tracks token counts for a single completion.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
		TotalTokens  int
	}

	// Client is the provider-agnostic chat-completions client. Every LLM
	// endpoint in spec.md §6 ("POST /v1/chat/completions") is reached through
	// an implementation of this interface.
	Client interface {
		Complete(ctx context.Context, req Request) (Response, error)
	}
)

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ErrRateLimited indicates the provider rejected the request due to rate
// limiting. breaker.Middleware treats this as a countable failure.
var ErrRateLimited = errors.New("model: rate limited")

// ErrMalformedOutput indicates the provider returned output that could not be
// interpreted as a chat completion at all (not even via package contract's
// repair) — e.g. a transport-level error disguised as a 200 response.
var ErrMalformedOutput = errors.New("model: malformed output")
