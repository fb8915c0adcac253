// Package sessionctx implements the live session context (C16): mutable
// per-session state consulted by the Context Builder and updated by the
// Summarizer at the end of each turn. One owner per session; mutation is
// guarded by a per-session lock, mirroring the corpus's general
// single-owner-per-key concurrency pattern (claims.Store keyed by claim_id,
// ledger.Store keyed by turn_id).
package sessionctx

import (
	"sync"
	"time"

	"cogateway/turn"
)

// Action is one bounded-history entry in the recent-actions deque.
type Action struct {
	At   time.Time
	Kind string
	Note string
}

const defaultRecentActionsCap = 20

// State is one session's live context.
type State struct {
	TurnCount       int
	CurrentTopic    string
	Preferences     map[string]string
	DiscoveredFacts map[string][]string // domain -> facts
	Entities        map[string]string
	RecentActions   []Action // bounded, newest last
	LastTurnSummary *turn.Summary
}

func newState() *State {
	return &State{
		Preferences:     make(map[string]string),
		DiscoveredFacts: make(map[string][]string),
		Entities:        make(map[string]string),
	}
}

// Store holds one State per session, each guarded by its own lock so
// mutation of one session never blocks another.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	mu    sync.Mutex
	state *State
}

// New returns an empty session context store.
func New() *Store {
	return &Store{sessions: make(map[string]*sessionEntry)}
}

func (s *Store) entry(sessionID string) *sessionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[sessionID]
	if !ok {
		e = &sessionEntry{state: newState()}
		s.sessions[sessionID] = e
	}
	return e
}

// Get returns a copy of sessionID's current state, safe to read without
// holding any lock, per the "copied under lock" rule for the prior-turn
// summary the Context Builder consumes.
func (s *Store) Get(sessionID string) State {
	e := s.entry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return copyState(*e.state)
}

func copyState(s State) State {
	prefs := make(map[string]string, len(s.Preferences))
	for k, v := range s.Preferences {
		prefs[k] = v
	}
	facts := make(map[string][]string, len(s.DiscoveredFacts))
	for k, v := range s.DiscoveredFacts {
		facts[k] = append([]string{}, v...)
	}
	entities := make(map[string]string, len(s.Entities))
	for k, v := range s.Entities {
		entities[k] = v
	}
	s.Preferences = prefs
	s.DiscoveredFacts = facts
	s.Entities = entities
	s.RecentActions = append([]Action{}, s.RecentActions...)
	return s
}

// Mutate applies fn to sessionID's state under that session's lock.
func (s *Store) Mutate(sessionID string, fn func(*State)) {
	e := s.entry(sessionID)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.state)
}

// RecordAction appends an action to the bounded recent-actions deque,
// dropping the oldest entry when full.
func (s *Store) RecordAction(sessionID string, a Action) {
	s.Mutate(sessionID, func(st *State) {
		st.RecentActions = append(st.RecentActions, a)
		if len(st.RecentActions) > defaultRecentActionsCap {
			st.RecentActions = st.RecentActions[len(st.RecentActions)-defaultRecentActionsCap:]
		}
	})
}

// ApplyTurnSummary records the Summarizer's output at the end of a turn:
// increments TurnCount, merges preferences_learned, and stores the summary
// for the next turn's Context Builder.
func (s *Store) ApplyTurnSummary(sessionID string, summary turn.Summary) {
	s.Mutate(sessionID, func(st *State) {
		st.TurnCount++
		for k, v := range summary.PreferencesLearned {
			st.Preferences[k] = v
		}
		if summary.Topic != "" {
			st.CurrentTopic = summary.Topic
		}
		saved := summary
		st.LastTurnSummary = &saved
	})
}
