// Package bedrock provides a model.Client implementation backed by the AWS
// Bedrock Converse API. It splits system vs. conversational messages, encodes
// tool schemas into Bedrock's ToolConfiguration, and translates Converse
// responses (text + tool_use blocks) back into model.Response.
package bedrock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"cogateway/model"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client required
// by the adapter, satisfied by *bedrockruntime.Client so tests can mock it.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the Bedrock client adapter.
type Options struct {
	// DefaultModel is the model identifier used when Request.Model is empty.
	DefaultModel string
	// MaxTokens sets the default completion cap when a request does not
	// specify MaxTokens.
	MaxTokens int
	// Temperature is used when a request does not specify Temperature.
	Temperature float32
}

// Client implements model.Client on top of AWS Bedrock Converse.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
	maxTok       int
	temp         float32
}

type requestParts struct {
	modelID                 string
	messages                []brtypes.Message
	system                  []brtypes.SystemContentBlock
	toolConfig              *brtypes.ToolConfiguration
	toolNameProvToCanonical map[string]string
}

// New initializes a Bedrock-backed model client.
func New(runtime RuntimeClient, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model is required")
	}
	return &Client{
		runtime:      runtime,
		defaultModel: opts.DefaultModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
	}, nil
}

// Complete issues a chat completion request to the configured Bedrock model
// via the Converse API and translates the response into a model.Response.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	parts, err := c.prepareRequest(req)
	if err != nil {
		return model.Response{}, err
	}
	output, err := c.runtime.Converse(ctx, c.buildConverseInput(parts, req))
	if err != nil {
		if isRateLimited(err) {
			return model.Response{}, model.ErrRateLimited
		}
		return model.Response{}, fmt.Errorf("bedrock: converse: %w", err)
	}
	return translateResponse(output, parts.toolNameProvToCanonical)
}

func (c *Client) prepareRequest(req model.Request) (*requestParts, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	toolConfig, sanToCanon, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	messages, system, err := encodeMessages(req.Messages, toolNameMap(req.Tools))
	if err != nil {
		return nil, err
	}
	return &requestParts{
		modelID:                 modelID,
		messages:                messages,
		system:                  system,
		toolConfig:              toolConfig,
		toolNameProvToCanonical: sanToCanon,
	}, nil
}

func (c *Client) buildConverseInput(parts *requestParts, req model.Request) *bedrockruntime.ConverseInput {
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(parts.modelID),
		Messages: parts.messages,
	}
	if len(parts.system) > 0 {
		input.System = parts.system
	}
	if parts.toolConfig != nil {
		input.ToolConfig = parts.toolConfig
	}
	if cfg := c.inferenceConfig(req.MaxTokens, req.Temperature); cfg != nil {
		input.InferenceConfig = cfg
	}
	return input
}

func (c *Client) inferenceConfig(maxTokens int, temp float32) *brtypes.InferenceConfiguration {
	var cfg brtypes.InferenceConfiguration
	tokens := maxTokens
	if tokens <= 0 {
		tokens = c.maxTok
	}
	if tokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(tokens)) //nolint:gosec
	}
	t := temp
	if t <= 0 {
		t = c.temp
	}
	if t > 0 {
		cfg.Temperature = aws.Float32(t)
	}
	if cfg.MaxTokens == nil && cfg.Temperature == nil {
		return nil
	}
	return &cfg
}

func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429
}

func toolNameMap(defs []model.ToolDefinition) map[string]string {
	m := make(map[string]string, len(defs))
	for _, d := range defs {
		if d.Name != "" {
			m[d.Name] = sanitizeToolName(d.Name)
		}
	}
	return m
}

func encodeMessages(msgs []model.Message, canonToSan map[string]string) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	conversation := make([]brtypes.Message, 0, len(msgs))
	system := make([]brtypes.SystemContentBlock, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == model.RoleSystem {
			if m.Content != "" {
				system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
			}
			continue
		}
		blocks, err := encodeBlocks(m, canonToSan)
		if err != nil {
			return nil, nil, err
		}
		if len(blocks) == 0 {
			continue
		}
		role := brtypes.ConversationRoleAssistant
		if m.Role == model.RoleUser || m.Role == model.RoleTool {
			role = brtypes.ConversationRoleUser
		}
		conversation = append(conversation, brtypes.Message{Role: role, Content: blocks})
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeBlocks(m model.Message, canonToSan map[string]string) ([]brtypes.ContentBlock, error) {
	if m.Role == model.RoleTool {
		tr := brtypes.ToolResultBlock{
			ToolUseId: aws.String(m.ToolCallID),
			Content: []brtypes.ToolResultContentBlock{
				&brtypes.ToolResultContentBlockMemberText{Value: m.Content},
			},
		}
		return []brtypes.ContentBlock{&brtypes.ContentBlockMemberToolResult{Value: tr}}, nil
	}
	var blocks []brtypes.ContentBlock
	if m.Content != "" {
		blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: m.Content})
	}
	for _, tc := range m.ToolCalls {
		sanitized, ok := canonToSan[tc.Name]
		if !ok {
			return nil, fmt.Errorf("bedrock: tool_use references %q which is not in the current tool configuration", tc.Name)
		}
		tb := brtypes.ToolUseBlock{
			Name:      aws.String(sanitized),
			ToolUseId: aws.String(tc.ID),
			Input:     toDocument(tc.Arguments),
		}
		blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: tb})
	}
	return blocks, nil
}

func encodeTools(defs []model.ToolDefinition) (*brtypes.ToolConfiguration, map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil, nil
	}
	toolList := make([]brtypes.Tool, 0, len(defs))
	sanToCanon := make(map[string]string, len(defs))
	for _, d := range defs {
		if d.Name == "" {
			continue
		}
		sanitized := sanitizeToolName(d.Name)
		sanToCanon[sanitized] = d.Name
		spec := brtypes.ToolSpecification{
			Name:        aws.String(sanitized),
			Description: aws.String(d.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: toDocumentAny(d.InputSchema)},
		}
		toolList = append(toolList, &brtypes.ToolMemberToolSpec{Value: spec})
	}
	if len(toolList) == 0 {
		return nil, nil, nil
	}
	return &brtypes.ToolConfiguration{Tools: toolList}, sanToCanon, nil
}

// sanitizeToolName maps a canonical tool identifier to Bedrock's allowed
// [a-zA-Z0-9_-]+ charset, truncating long names with a stable hash suffix to
// respect the documented 64-character limit.
func sanitizeToolName(in string) string {
	if in == "" {
		return ""
	}
	const maxLen = 64
	out := make([]rune, 0, len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	sanitized := string(out)
	if len(sanitized) <= maxLen {
		return sanitized
	}
	sum := sha256.Sum256([]byte(in))
	suffix := hex.EncodeToString(sum[:])[:8]
	prefixLen := maxLen - 9
	return sanitized[:prefixLen] + "_" + suffix
}

func toDocument(argsJSON string) document.Interface {
	if argsJSON == "" {
		return lazyDocument(map[string]any{})
	}
	var decoded any
	if err := json.Unmarshal([]byte(argsJSON), &decoded); err != nil {
		return lazyDocument(map[string]any{})
	}
	return lazyDocument(decoded)
}

func toDocumentAny(schema any) document.Interface {
	if schema == nil {
		return lazyDocument(map[string]any{"type": "object"})
	}
	return lazyDocument(schema)
}

func lazyDocument(v any) document.Interface {
	return document.NewLazyDocument(&v)
}

func translateResponse(output *bedrockruntime.ConverseOutput, nameMap map[string]string) (model.Response, error) {
	if output == nil {
		return model.Response{}, errors.New("bedrock: response is nil")
	}
	var resp model.Response
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				resp.Content += v.Value
			case *brtypes.ContentBlockMemberToolUse:
				name := ""
				if v.Value.Name != nil {
					raw := *v.Value.Name
					if canonical, ok := nameMap[raw]; ok {
						name = canonical
					} else {
						name = raw
					}
				}
				var id string
				if v.Value.ToolUseId != nil {
					id = *v.Value.ToolUseId
				}
				args, _ := decodeDocument(v.Value.Input).MarshalJSON()
				resp.ToolCalls = append(resp.ToolCalls, model.ToolCall{
					ID:        id,
					Name:      name,
					Arguments: string(args),
				})
			}
		}
	}
	if usage := output.Usage; usage != nil {
		resp.Usage = model.TokenUsage{
			InputTokens:  int(ptrValue(usage.InputTokens)),
			OutputTokens: int(ptrValue(usage.OutputTokens)),
			TotalTokens:  int(ptrValue(usage.TotalTokens)),
		}
	}
	resp.StopReason = string(output.StopReason)
	return resp, nil
}

type rawDoc []byte

func (r rawDoc) MarshalJSON() ([]byte, error) { return r, nil }

func decodeDocument(doc document.Interface) rawDoc {
	if doc == nil {
		return rawDoc("{}")
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil || len(data) == 0 {
		return rawDoc("{}")
	}
	return rawDoc(data)
}

func ptrValue[T ~int32 | ~int64](ptr *T) T {
	if ptr == nil {
		return 0
	}
	return *ptr
}
