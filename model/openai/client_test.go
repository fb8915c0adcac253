package openai

import (
	"testing"

	"github.com/openai/openai-go"
	"github.com/stretchr/testify/assert"

	"cogateway/model"
)

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(Options{DefaultModel: "gpt-4o-mini"})
	assert.Error(t, err)
}

func TestNewRequiresDefaultModel(t *testing.T) {
	_, err := New(Options{APIKey: "sk-test"})
	assert.Error(t, err)
}

func TestNewSucceedsWithRequiredFields(t *testing.T) {
	c, err := New(Options{APIKey: "sk-test", DefaultModel: "gpt-4o-mini"})
	assert.NoError(t, err)
	assert.NotNil(t, c)
}

func TestEncodeMessagesMapsRolesToUnionVariants(t *testing.T) {
	msgs := []model.Message{
		{Role: model.RoleSystem, Content: "be terse"},
		{Role: model.RoleUser, Content: "hi"},
		{Role: model.RoleAssistant, Content: "hello"},
		{Role: model.RoleTool, Content: "42", ToolCallID: "call_1"},
	}
	out := encodeMessages(msgs)
	assert.Len(t, out, 4)
}

func TestEncodeToolsBuildsFunctionDefinitions(t *testing.T) {
	defs := []model.ToolDefinition{
		{Name: "search", Description: "search catalog", InputSchema: map[string]any{"type": "object"}},
	}
	out := encodeTools(defs)
	assert.Len(t, out, 1)
}

func TestTranslateResponseHandlesEmptyChoices(t *testing.T) {
	resp := translateResponse(&openai.ChatCompletion{})
	assert.Equal(t, model.Response{}, resp)
}

func TestTranslateResponseNilInput(t *testing.T) {
	resp := translateResponse(nil)
	assert.Equal(t, model.Response{}, resp)
}

func TestTranslateResponseExtractsContentAndUsage(t *testing.T) {
	resp := translateResponse(&openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{
				Message: openai.ChatCompletionMessage{Content: "hi there"},
			},
		},
		Usage: openai.CompletionUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	})
	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}
