package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cogateway/contract"
)

func TestReflectProceedsAboveAcceptThreshold(t *testing.T) {
	client := &fakeModelClient{Replies: []string{`{"confidence": 0.9, "decision": "PROCEED"}`}}
	action, _, err := Reflect(context.Background(), client, "planner", "context", Thresholds{})
	require.NoError(t, err)
	proceed, ok := action.(Proceed)
	require.True(t, ok)
	assert.Equal(t, 0.9, proceed.Confidence)
}

func TestReflectClarifiesBelowRejectThreshold(t *testing.T) {
	client := &fakeModelClient{Replies: []string{`{"confidence": 0.1, "decision": "CLARIFY"}`}}
	action, _, err := Reflect(context.Background(), client, "verifier", "context", Thresholds{})
	require.NoError(t, err)
	_, ok := action.(RequestClarification)
	assert.True(t, ok)
}

func TestReflectDegradesToClarifyOnModelError(t *testing.T) {
	client := &fakeModelClient{Err: assertErr("boom")}
	action, _, err := Reflect(context.Background(), client, "planner", "context", Thresholds{})
	require.NoError(t, err)
	_, ok := action.(RequestClarification)
	assert.True(t, ok)
}

func TestReflectUnknownRoleErrors(t *testing.T) {
	client := &fakeModelClient{}
	_, _, err := Reflect(context.Background(), client, "nope", "context", Thresholds{})
	assert.Error(t, err)
}

func TestReflectWithInfoLoopFetchesAndReReflects(t *testing.T) {
	client := &fakeModelClient{Replies: []string{
		`{"confidence": 0.5, "decision": "NEED_INFO", "info_requests": [{"type": "memory", "query": "budget", "reason": "missing"}]}`,
		`{"confidence": 0.9, "decision": "PROCEED"}`,
	}}
	fetch := func(_ context.Context, req contract.InfoRequest) (string, error) {
		assert.Equal(t, "budget", req.Query)
		return "budget is $500", nil
	}
	action, accumulated, _, err := ReflectWithInfoLoop(context.Background(), client, "planner", "context", Thresholds{}, fetch)
	require.NoError(t, err)
	_, ok := action.(Proceed)
	assert.True(t, ok)
	assert.Contains(t, accumulated, "budget is $500")
}

func TestReflectWithInfoLoopExhaustsToClarify(t *testing.T) {
	needInfo := `{"confidence": 0.5, "decision": "NEED_INFO", "info_requests": [{"type": "memory", "query": "x"}]}`
	client := &fakeModelClient{Replies: []string{needInfo, needInfo, needInfo}}
	fetch := func(_ context.Context, _ contract.InfoRequest) (string, error) { return "still nothing", nil }
	action, _, _, err := ReflectWithInfoLoop(context.Background(), client, "planner", "context", Thresholds{}, fetch)
	require.NoError(t, err)
	_, ok := action.(RequestClarification)
	assert.True(t, ok)
}

func TestReflectWithInfoLoopNoFetcherClarifies(t *testing.T) {
	client := &fakeModelClient{Replies: []string{
		`{"confidence": 0.5, "decision": "NEED_INFO", "info_requests": [{"type": "memory", "query": "x"}]}`,
	}}
	action, _, _, err := ReflectWithInfoLoop(context.Background(), client, "planner", "context", Thresholds{}, nil)
	require.NoError(t, err)
	_, ok := action.(RequestClarification)
	assert.True(t, ok)
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertErr(msg string) error { return simpleErr(msg) }
