// Package openai provides a model.Client implementation backed by the
// OpenAI-compatible Chat Completions API. This is the gateway's primary LLM
// adapter: spec.md §6 names "POST /v1/chat/completions" as the canonical
// outbound shape, and most self-hosted and third-party gateways speak this
// dialect, so GUIDE_URL/COORDINATOR_URL typically point here.
package openai

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"cogateway/model"
)

// Options configures the OpenAI adapter.
type Options struct {
	// BaseURL overrides the API origin, pointing at a compatible gateway
	// rather than api.openai.com (GUIDE_URL / COORDINATOR_URL).
	BaseURL string
	// APIKey authenticates outbound requests (GUIDE_API_KEY / COORDINATOR_API_KEY).
	APIKey string
	// DefaultModel is used when a Request doesn't specify one (GUIDE_MODEL_ID / COORDINATOR_MODEL_ID).
	DefaultModel string
}

// Client implements model.Client via the OpenAI Chat Completions API.
type Client struct {
	raw          openai.Client
	defaultModel string
}

// New builds an OpenAI-backed model client.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	if strings.TrimSpace(opts.DefaultModel) == "" {
		return nil, errors.New("openai: default model is required")
	}
	clientOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &Client{
		raw:          openai.NewClient(clientOpts...),
		defaultModel: opts.DefaultModel,
	}, nil
}

// Complete renders a chat completion using the configured OpenAI-compatible
// endpoint. Provider errors surface as plain errors (429s as
// model.ErrRateLimited), and a reply with no choices becomes an empty
// model.Response; it is the contract enforcer's job, one layer up, to repair
// or default malformed content rather than this adapter inventing its own
// repair policy.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if len(req.Messages) == 0 {
		return model.Response{}, errors.New("openai: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}

	params := openai.ChatCompletionNewParams{
		Model:    modelID,
		Messages: encodeMessages(req.Messages),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(float64(req.Temperature))
	}
	if len(req.Tools) > 0 {
		params.Tools = encodeTools(req.Tools)
	}
	if len(req.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: req.Stop}
	}

	resp, err := c.raw.Chat.Completions.New(ctx, params)
	if err != nil {
		if isRateLimitErr(err) {
			return model.Response{}, model.ErrRateLimited
		}
		return model.Response{}, err
	}
	return translateResponse(resp), nil
}

func isRateLimitErr(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

func encodeMessages(msgs []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case model.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		case model.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func encodeTools(defs []model.ToolDefinition) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(defs))
	for _, d := range defs {
		schema, _ := d.InputSchema.(map[string]any)
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        d.Name,
			Description: openai.String(d.Description),
			Parameters:  schema,
		}))
	}
	return out
}

func translateResponse(resp *openai.ChatCompletion) model.Response {
	if resp == nil || len(resp.Choices) == 0 {
		return model.Response{}
	}
	choice := resp.Choices[0]
	out := model.Response{
		Content:    choice.Message.Content,
		StopReason: string(choice.FinishReason),
		Usage: model.TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out
}
