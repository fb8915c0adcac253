// Package ledger implements the session ledger (C2): a durable, append-only
// event log of turns, task tickets, and raw bundles. Its Store interface and
// cursor-based pagination are grounded on the teacher's runlog package; the
// gateway uses it as the canonical source of truth for turn introspection in
// the same role runlog.Store plays for agent runs.
package ledger

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of ledger event.
type EventType string

const (
	EventTurnStarted       EventType = "turn_started"
	EventTurnCompleted     EventType = "turn_completed"
	EventTicketCreated     EventType = "ticket_created"
	EventToolCallStarted   EventType = "tool_call_started"
	EventToolCallCompleted EventType = "tool_call_completed"
	EventBundleAssembled   EventType = "bundle_assembled"
	EventCapsuleProduced   EventType = "capsule_produced"
	EventAnswerProduced    EventType = "answer_produced"
)

// Event is a single immutable event appended to a turn's ledger.
//
// Store implementations assign ID when persisting. IDs are opaque,
// monotonically ordered within a turn, and suitable for cursor pagination.
type Event struct {
	ID        string
	SessionID string
	TurnID    string
	Type      EventType
	// Payload is the canonical JSON-encoded event body (a TaskTicket,
	// ToolOutput, RawBundle, etc., depending on Type).
	Payload   json.RawMessage
	Timestamp time.Time
}

// Page is a forward page of ledger events.
type Page struct {
	// Events are ordered oldest-first.
	Events []*Event
	// NextCursor is the cursor to fetch the next page; empty when exhausted.
	NextCursor string
}

// Store is an append-only event store for turn introspection.
//
// Implementations must provide stable ordering within a turn. Cursor values
// are store-owned and opaque to callers.
type Store interface {
	// Append stores the event in the ledger, assigning its ID. Append must be
	// durable: failures are surfaced to callers so the turn pipeline can fail
	// fast when canonical logging is unavailable.
	Append(ctx context.Context, e *Event) error

	// List returns the next forward page of events for the given turn ID.
	List(ctx context.Context, turnID string, cursor string, limit int) (Page, error)
}
