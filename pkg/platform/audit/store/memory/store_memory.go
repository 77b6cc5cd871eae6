package memory

import (
	"context"
	"sync"

	audit "pharmatrace/pkg/platform/audit"
)

// Store is an in-memory append-only event log. Used in dev mode and by
// tests asserting which events an operation emitted.
type Store struct {
	mu     sync.RWMutex
	events []audit.Event
}

func New() *Store {
	return &Store{}
}

func (s *Store) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a snapshot of everything appended so far.
func (s *Store) Events() []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Event, len(s.events))
	copy(out, s.events)
	return out
}

// LastAction returns the action of the most recent event, or "".
func (s *Store) LastAction() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.events) == 0 {
		return ""
	}
	return s.events[len(s.events)-1].Action
}
