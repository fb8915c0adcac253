package orchestrator

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cogateway/sessionctx"
)

func TestBuildContextSimpleModeConcatenatesInPriorityOrder(t *testing.T) {
	state := sessionctx.State{
		Preferences: map[string]string{"budget": "$500"},
	}
	docs := MemoryDocs{UserPreferences: "likes lightweight laptops", SystemLearnings: "ddr5 is standard now"}
	got, err := BuildContext(context.Background(), nil, state, docs, nil, time.Now())
	require.NoError(t, err)
	assert.Contains(t, got, "Session preferences")
	assert.Contains(t, got, "User preferences")
	assert.Contains(t, got, "System knowledge")
	assert.Contains(t, got, "context generated at")
	assert.Less(t, strings.Index(got, "Session preferences"), strings.Index(got, "User preferences"))
	assert.Less(t, strings.Index(got, "User preferences"), strings.Index(got, "System knowledge"))
}

func TestBuildContextFallsBackOnLLMError(t *testing.T) {
	client := &fakeModelClient{Err: assertErr("down")}
	got, err := BuildContext(context.Background(), client, sessionctx.State{}, MemoryDocs{}, nil, time.Now())
	require.NoError(t, err)
	assert.Contains(t, got, "context generated at")
}

func TestBuildContextUsesLLMAnswerWhenAvailable(t *testing.T) {
	client := &fakeModelClient{Replies: []string{`{"answer": "concise composed context"}`}}
	got, err := BuildContext(context.Background(), client, sessionctx.State{}, MemoryDocs{}, nil, time.Now())
	require.NoError(t, err)
	assert.Contains(t, got, "concise composed context")
}
