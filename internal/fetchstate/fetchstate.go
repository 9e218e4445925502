// Package fetchstate tracks per-node pagination progress for lazy and
// background continuation of remote fetches.
//
// The store is a state container, not a validating state machine. The
// states observed in practice are: idle, first page loaded, fetching
// (lazy or background), and exhausted once a page reports no more rows.
// Nothing transitions out of exhausted.
package fetchstate

import (
	"sync"

	"github.com/querydeck-io/querydeck/internal/backend"
)

// State is the pagination progress of one node's remote query.
type State struct {
	// NodeID is the owning node.
	NodeID int64

	// EngineID identifies the backend the query ran against.
	EngineID string

	// TotalRows is the backend-reported total result size. Nil until the
	// backend reports it.
	TotalRows *int64

	// FetchedRows is the number of rows materialized so far. Never exceeds
	// TotalRows when TotalRows is known.
	FetchedRows int64

	// HasMoreRows is false once the backend reports the result exhausted.
	// No further continuation is attempted after that.
	HasMoreRows bool

	// Continuation resumes the next page: a backend-issued cursor or a
	// coordinator-computed offset.
	Continuation backend.Continuation

	// IsFetching is true while a user-triggered fetch is in flight.
	IsFetching bool

	// IsBackgroundLoading is true while a background continuation loop is
	// draining the result.
	IsBackgroundLoading bool

	// OriginalQuery is the query text the fetch resumes.
	OriginalQuery string

	// Schema is the result schema reported with the first page.
	Schema backend.Schema
}

// InFlight reports whether any fetch is currently running for this node.
func (s *State) InFlight() bool {
	return s.IsFetching || s.IsBackgroundLoading
}

// Store holds fetch state per node.
type Store struct {
	mu     sync.RWMutex
	states map[int64]*State
}

// NewStore creates an empty fetch-state store.
func NewStore() *Store {
	return &Store{states: make(map[int64]*State)}
}

// Put initializes or replaces a node's fetch state. A full re-run of the
// node goes through here, resetting any prior progress.
func (s *Store) Put(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := st
	s.states[st.NodeID] = &cp
}

// Get returns a copy of the node's fetch state.
func (s *Store) Get(nodeID int64) (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[nodeID]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// List returns copies of all fetch states.
func (s *Store) List() []State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]State, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, *st)
	}
	return out
}

// Delete removes a node's fetch state, e.g. when the node is removed.
func (s *Store) Delete(nodeID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, nodeID)
}

// TryBeginFetch atomically checks the in-flight flags and claims the
// fetch if the node is idle and has more rows. Returns false if no state
// exists, a fetch is already running, or the result is exhausted.
func (s *Store) TryBeginFetch(nodeID int64, background bool) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[nodeID]
	if !ok || st.InFlight() || !st.HasMoreRows {
		if ok {
			return *st, false
		}
		return State{}, false
	}
	// Snapshot before claiming: callers resume from the pre-claim state.
	snap := *st
	if background {
		st.IsBackgroundLoading = true
	} else {
		st.IsFetching = true
	}
	return snap, true
}

// ApplyPage records a completed continuation page: advances the fetched
// count, stores the next continuation, updates exhaustion, and clears the
// in-flight flags.
func (s *Store) ApplyPage(nodeID int64, appended int64, hasMore bool, next backend.Continuation, total *int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[nodeID]
	if !ok {
		return
	}
	st.FetchedRows += appended
	st.HasMoreRows = hasMore
	st.Continuation = next
	if total != nil {
		st.TotalRows = total
	}
	st.IsFetching = false
	st.IsBackgroundLoading = false
}

// ClearInFlight clears both in-flight flags without touching progress.
// Used on fetch failure or cancellation so the user may retry.
func (s *Store) ClearInFlight(nodeID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[nodeID]; ok {
		st.IsFetching = false
		st.IsBackgroundLoading = false
	}
}
