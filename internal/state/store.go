package state

import (
	"sync"
)

// Listener is notified after every dispatch with the previous and the new
// state. Listeners must treat both values as read-only.
type Listener func(prev, next State)

// Store holds the panel state and applies actions through Reduce.
type Store struct {
	mu        sync.Mutex
	state     State
	listeners map[int]Listener
	nextID    int
}

// NewStore returns a store seeded with initial.
func NewStore(initial State) *Store {
	return &Store{
		state:     initial.Clone(),
		listeners: make(map[int]Listener),
	}
}

// Dispatch applies a and notifies listeners. It returns the new state.
func (s *Store) Dispatch(a Action) State {
	s.mu.Lock()
	prev := s.state
	next := Reduce(prev, a)
	s.state = next
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(prev, next)
	}
	return next.Clone()
}

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Subscribe registers l and returns a function that removes it.
func (s *Store) Subscribe(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}
