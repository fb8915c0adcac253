package inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cogateway/ledger"
)

func TestAppendAssignsMonotonicIDs(t *testing.T) {
	s := New()
	ctx := context.Background()

	e1 := &ledger.Event{TurnID: "t1", Type: ledger.EventTurnStarted}
	e2 := &ledger.Event{TurnID: "t1", Type: ledger.EventTicketCreated}

	require.NoError(t, s.Append(ctx, e1))
	require.NoError(t, s.Append(ctx, e2))
	assert.Equal(t, "1", e1.ID)
	assert.Equal(t, "2", e2.ID)
}

func TestAppendRequiresTurnID(t *testing.T) {
	s := New()
	err := s.Append(context.Background(), &ledger.Event{})
	assert.Error(t, err)
}

func TestAppendRequiresEvent(t *testing.T) {
	s := New()
	err := s.Append(context.Background(), nil)
	assert.Error(t, err)
}

func TestListReturnsEventsInOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, &ledger.Event{TurnID: "t1", Type: ledger.EventTurnStarted}))
	require.NoError(t, s.Append(ctx, &ledger.Event{TurnID: "t1", Type: ledger.EventTicketCreated}))
	require.NoError(t, s.Append(ctx, &ledger.Event{TurnID: "t1", Type: ledger.EventAnswerProduced}))

	page, err := s.List(ctx, "t1", "", 10)
	require.NoError(t, err)
	require.Len(t, page.Events, 3)
	assert.Equal(t, ledger.EventTurnStarted, page.Events[0].Type)
	assert.Equal(t, ledger.EventAnswerProduced, page.Events[2].Type)
	assert.Empty(t, page.NextCursor)
}

func TestListPaginatesWithCursor(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, &ledger.Event{TurnID: "t1", Type: ledger.EventTicketCreated}))
	}

	page, err := s.List(ctx, "t1", "", 2)
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	require.NotEmpty(t, page.NextCursor)

	page2, err := s.List(ctx, "t1", page.NextCursor, 2)
	require.NoError(t, err)
	assert.Len(t, page2.Events, 2)
	assert.NotEqual(t, page.Events[0].ID, page2.Events[0].ID)
}

func TestListUnknownTurnReturnsEmptyPage(t *testing.T) {
	s := New()
	page, err := s.List(context.Background(), "nope", "", 10)
	require.NoError(t, err)
	assert.Empty(t, page.Events)
}

func TestListRejectsInvalidCursor(t *testing.T) {
	s := New()
	require.NoError(t, s.Append(context.Background(), &ledger.Event{TurnID: "t1", Type: ledger.EventTurnStarted}))
	_, err := s.List(context.Background(), "t1", "not-a-cursor", 10)
	assert.Error(t, err)
}

func TestListRejectsNonPositiveLimit(t *testing.T) {
	s := New()
	_, err := s.List(context.Background(), "t1", "", 0)
	assert.Error(t, err)
}

func TestAppendDoesNotAliasCallerEvent(t *testing.T) {
	s := New()
	ctx := context.Background()
	e := &ledger.Event{TurnID: "t1", Type: ledger.EventTurnStarted}
	require.NoError(t, s.Append(ctx, e))

	e.Type = ledger.EventTurnCompleted

	page, err := s.List(ctx, "t1", "", 10)
	require.NoError(t, err)
	assert.Equal(t, ledger.EventTurnStarted, page.Events[0].Type)
}
