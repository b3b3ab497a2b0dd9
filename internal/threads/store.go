package threads

import (
	"sync"

	"github.com/codefionn/threaddeck/internal/logger"
)

// Listener observes every dispatched action together with the state it
// produced.
type Listener func(action Action, state State)

// Store owns the current State and serializes transitions. Listeners run
// after the lock is released, in dispatch order per caller.
type Store struct {
	mu        sync.Mutex
	state     State
	listeners map[int]Listener
	nextID    int
	log       *logger.Logger
}

// NewStore creates a store holding the empty initial state.
func NewStore() *Store {
	return &Store{
		state:     NewState(),
		listeners: make(map[int]Listener),
		log:       logger.Global().WithPrefix("threads"),
	}
}

// State returns the current snapshot.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatch reduces each action in order and notifies listeners.
func (s *Store) Dispatch(actions ...Action) State {
	type applied struct {
		action Action
		state  State
	}

	s.mu.Lock()
	results := make([]applied, 0, len(actions))
	for _, action := range actions {
		if action == nil {
			continue
		}
		s.state = Reduce(s.state, action)
		results = append(results, applied{action: action, state: s.state})
	}
	current := s.state
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, r := range results {
		s.log.Debug("dispatch %s", r.action.Type())
		for _, l := range listeners {
			l(r.action, r.state)
		}
	}
	return current
}

// Subscribe registers l and returns a function that removes it.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}
