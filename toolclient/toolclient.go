// Package toolclient implements the outbound tool RPC leg of the agent loop
// (§4.1 step 5, External Interfaces §6): a uniform "POST
// <tool_server>/<tool_name>" call with the ToolCall's args as the JSON body,
// wrapped by the contract enforcer into a turn.ToolOutput. Grounded on the
// teacher's features/mcp/runtime HTTPCaller transport (request marshal,
// trace-header propagation, single *http.Client reuse), simplified from
// JSON-RPC/MCP framing to the plain REST shape spec.md names, since this
// gateway's tools are fixed-contract HTTP endpoints rather than
// dynamically-discovered MCP servers.
package toolclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"cogateway/contract"
	"cogateway/telemetry"
	"cogateway/toolerrors"
	"cogateway/turn"
)

// defaultTimeout bounds a single tool call when Options.Timeout is unset.
const defaultTimeout = 30 * time.Second

// Options configures a Client.
type Options struct {
	// BaseURL is the tool_server origin, e.g. "http://tools.internal:9090".
	BaseURL string
	// HTTPClient is reused across calls; a default is constructed if nil.
	HTTPClient *http.Client
	Timeout    time.Duration
	Telemetry  telemetry.Bundle
}

// ApprovalGate is consulted before dispatching a call whose tool name is in
// the configured approval-required list (§6: "Operations in a configured
// 'approval-required' list require an out-of-band user approval request").
type ApprovalGate interface {
	RequireApproval(ctx context.Context, call turn.ToolCall) error
}

// Client implements orchestrator.ToolInvoker over HTTP, posting each
// ToolCall to BaseURL/<tool> and normalizing the response (or transport
// failure) into a turn.ToolOutput that never itself errors.
type Client struct {
	baseURL      string
	http         *http.Client
	timeout      time.Duration
	telemetry    telemetry.Bundle
	approvals    map[string]struct{}
	approvalGate ApprovalGate
}

// New constructs a Client. approvalTools names the tools requiring approval
// gating; gate may be nil if none do.
func New(opts Options, approvalTools []string, gate ApprovalGate) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	approvals := make(map[string]struct{}, len(approvalTools))
	for _, t := range approvalTools {
		approvals[t] = struct{}{}
	}
	return &Client{
		baseURL: opts.BaseURL, http: httpClient, timeout: timeout,
		telemetry: opts.Telemetry, approvals: approvals, approvalGate: gate,
	}
}

// Invoke implements orchestrator.ToolInvoker. It never returns an error to
// the caller: transport failures, non-2xx responses, and approval denials
// are all folded into ToolOutput{Success: false}, matching the invariant
// that a tool invocation surfaces as data, not a raised error, by the time
// it reaches the agent loop's bundle.
func (c *Client) Invoke(ctx context.Context, call turn.ToolCall) turn.ToolOutput {
	start := time.Now()
	out := c.invoke(ctx, call)
	if c.telemetry.Metrics != nil {
		c.telemetry.Metrics.RecordTimer("tool_call_duration", time.Since(start), "tool", call.Tool)
	}
	return out
}

func (c *Client) invoke(ctx context.Context, call turn.ToolCall) turn.ToolOutput {
	if _, needsApproval := c.approvals[call.Tool]; needsApproval {
		if c.approvalGate == nil {
			return c.failure(call.Tool, toolerrors.New("approval required but no approval gate configured"))
		}
		if err := c.approvalGate.RequireApproval(ctx, call); err != nil {
			return c.failure(call.Tool, toolerrors.NewWithCause("approval denied", err))
		}
	}

	body, err := json.Marshal(call.Args)
	if err != nil {
		return c.failure(call.Tool, toolerrors.NewWithCause("marshal tool args", err))
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/%s", c.baseURL, call.Tool)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return c.failure(call.Tool, toolerrors.NewWithCause("build tool request", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return c.failure(call.Tool, toolerrors.NewWithCause("tool transport error", err))
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.failure(call.Tool, toolerrors.NewWithCause("read tool response", err))
	}
	if resp.StatusCode >= 300 {
		return c.failure(call.Tool, toolerrors.Errorf("tool %s returned status %d: %s", call.Tool, resp.StatusCode, string(payload)))
	}

	var raw any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &raw); err != nil {
			// Not JSON; treat the raw body as a plain string result rather
			// than failing a tool that simply didn't reply with an object.
			raw = string(payload)
		}
	}
	return contract.ParseToolOutput(raw, call.Tool)
}

func (c *Client) failure(tool string, err error) turn.ToolOutput {
	if c.telemetry.Logger != nil {
		c.telemetry.Logger.Error(context.Background(), "tool invocation failed", "tool", tool, "error", err)
	}
	return turn.ToolOutput{
		Success:  false,
		Error:    err.Error(),
		Metadata: turn.ToolOutputMetadata{ToolName: tool},
	}
}
