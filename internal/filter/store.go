package filter

import (
	"sync"
)

// Listener observes committed state changes. Listeners run synchronously in
// commit order and must not commit to the same Store.
type Listener func(prev, next State)

// Store is the explicit state container for one discovery session. Controls
// edit a draft; only Apply, Reset and Resolve publish a new committed state.
type Store struct {
	// commitMu serializes commits so listeners observe them in dispatch order.
	commitMu sync.Mutex

	mu        sync.RWMutex
	committed State
	draft     State
	listeners map[int]Listener
	nextID    int
}

// NewStore creates a Store whose committed state and draft both start at initial.
func NewStore(initial State) (*Store, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &Store{
		committed: initial.clone(),
		draft:     initial.clone(),
		listeners: make(map[int]Listener),
	}, nil
}

// Committed returns the current committed state.
func (s *Store) Committed() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.committed.clone()
}

// Draft returns the current draft state.
func (s *Store) Draft() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.draft.clone()
}

// Subscribe registers l and returns a function that removes it.
func (s *Store) Subscribe(l Listener) func() {
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

// Dispatch applies actions to the draft in order. Either all of them apply or
// the draft is left unchanged.
func (s *Store) Dispatch(actions ...Action) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.draft
	for _, a := range actions {
		var err error
		next, err = Reduce(next, a)
		if err != nil {
			return s.draft.clone(), err
		}
	}
	s.draft = next
	return next.clone(), nil
}

// Apply commits the draft. It reports whether the committed state changed.
func (s *Store) Apply() (State, bool) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	next := s.draft.clone()
	s.mu.Unlock()

	return s.commit(next)
}

// Reset restores the default state into both draft and committed state.
func (s *Store) Reset() (State, bool) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	s.mu.Lock()
	s.draft = Default()
	s.mu.Unlock()

	return s.commit(Default())
}

// Resolve records a successful geocode in one step: the committed state and
// the draft both receive the location and coordinates.
func (s *Store) Resolve(location string, coords Coordinates) (State, error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	action := ResolveLocation{Location: location, Coordinates: coords}

	s.mu.Lock()
	next, err := Reduce(s.committed, action)
	if err != nil {
		s.mu.Unlock()
		return s.committed.clone(), err
	}
	draft, err := Reduce(s.draft, action)
	if err == nil {
		s.draft = draft
	}
	s.mu.Unlock()

	committed, _ := s.commit(next)
	return committed, nil
}

// commit must be called with commitMu held.
func (s *Store) commit(next State) (State, bool) {
	s.mu.Lock()
	prev := s.committed
	changed := prev.Key() != next.Key()
	if changed {
		s.committed = next
	}
	listeners := make([]Listener, 0, len(s.listeners))
	for id := 0; id < s.nextID; id++ {
		if l, ok := s.listeners[id]; ok {
			listeners = append(listeners, l)
		}
	}
	s.mu.Unlock()

	if !changed {
		return prev.clone(), false
	}
	for _, l := range listeners {
		l(prev.clone(), next.clone())
	}
	return next.clone(), true
}
