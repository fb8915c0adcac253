// Package inmem provides an in-memory implementation of ledger.Store,
// adapted from runlog/inmem's sequence-numbered cursor scheme. Intended for
// tests, the default in-process engine, and local development; not durable.
package inmem

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"cogateway/ledger"
)

// Store implements ledger.Store in memory.
type Store struct {
	mu      sync.Mutex
	nextSeq map[string]int64
	events  map[string][]*ledger.Event
}

// New returns a new in-memory ledger store.
func New() *Store {
	return &Store{
		nextSeq: make(map[string]int64),
		events:  make(map[string][]*ledger.Event),
	}
}

// Append implements ledger.Store.
func (s *Store) Append(_ context.Context, e *ledger.Event) error {
	if e == nil {
		return fmt.Errorf("ledger: event is required")
	}
	if e.TurnID == "" {
		return fmt.Errorf("ledger: turn_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.nextSeq[e.TurnID] + 1
	s.nextSeq[e.TurnID] = seq

	e.ID = strconv.FormatInt(seq, 10)
	ev := *e
	s.events[e.TurnID] = append(s.events[e.TurnID], &ev)
	return nil
}

// List implements ledger.Store.
func (s *Store) List(_ context.Context, turnID string, cursor string, limit int) (ledger.Page, error) {
	if turnID == "" {
		return ledger.Page{}, fmt.Errorf("ledger: turn_id is required")
	}
	if limit <= 0 {
		return ledger.Page{}, fmt.Errorf("ledger: limit must be > 0")
	}

	var after int64
	if cursor != "" {
		id, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return ledger.Page{}, fmt.Errorf("ledger: invalid cursor %q: %w", cursor, err)
		}
		after = id
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.events[turnID]
	if len(all) == 0 {
		return ledger.Page{}, nil
	}

	start := 0
	if after > 0 {
		start = int(after)
		if start >= len(all) {
			return ledger.Page{}, nil
		}
	}

	end := start + limit
	if end > len(all) {
		end = len(all)
	}

	events := append([]*ledger.Event(nil), all[start:end]...)
	var next string
	if end < len(all) {
		next = events[len(events)-1].ID
	}

	return ledger.Page{Events: events, NextCursor: next}, nil
}
