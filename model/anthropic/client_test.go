package anthropic

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cogateway/model"
)

type fakeMessagesClient struct {
	resp *sdk.Message
	err  error
	got  sdk.MessageNewParams
}

func (f *fakeMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	f.got = body
	return f.resp, f.err
}

func TestNewRequiresMessagesClient(t *testing.T) {
	_, err := New(nil, Options{DefaultModel: "claude-3-5-sonnet"})
	assert.Error(t, err)
}

func TestNewRequiresDefaultModel(t *testing.T) {
	_, err := New(&fakeMessagesClient{}, Options{})
	assert.Error(t, err)
}

func TestCompleteRequiresMessages(t *testing.T) {
	c, err := New(&fakeMessagesClient{}, Options{DefaultModel: "claude-3-5-sonnet", MaxTokens: 512})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), model.Request{})
	assert.Error(t, err)
}

func TestCompleteRequiresMaxTokens(t *testing.T) {
	c, err := New(&fakeMessagesClient{}, Options{DefaultModel: "claude-3-5-sonnet"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	assert.Error(t, err)
}

func TestCompleteTranslatesTextResponse(t *testing.T) {
	fake := &fakeMessagesClient{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "text", Text: "hello there"},
			},
			Usage:      sdk.Usage{InputTokens: 10, OutputTokens: 5},
			StopReason: "end_turn",
		},
	}
	c, err := New(fake, Options{DefaultModel: "claude-3-5-sonnet", MaxTokens: 512})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), model.Request{
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: "be terse"},
			{Role: model.RoleUser, Content: "hi"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", resp.Content)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.Equal(t, "end_turn", resp.StopReason)
}

func TestCompleteCollectsToolUseBlocks(t *testing.T) {
	fake := &fakeMessagesClient{
		resp: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "tool_use", ID: "call_1", Name: "search", Input: map[string]any{"q": "headphones"}},
			},
		},
	}
	c, err := New(fake, Options{DefaultModel: "claude-3-5-sonnet", MaxTokens: 512})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Content: "find headphones"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "search", resp.ToolCalls[0].Name)
}

func TestCompleteRejectsUnsupportedSoloSystemMessage(t *testing.T) {
	c, err := New(&fakeMessagesClient{}, Options{DefaultModel: "claude-3-5-sonnet", MaxTokens: 512})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), model.Request{
		Messages: []model.Message{{Role: model.RoleSystem, Content: "only system"}},
	})
	assert.Error(t, err)
}
