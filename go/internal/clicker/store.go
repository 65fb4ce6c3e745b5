package clicker

import "sync"

// Store holds the current View and fans changes out to listeners.
// Listeners may be called from several goroutines; a listener that gets a
// View older than one it already rendered should drop it.
type Store struct {
	mu        sync.Mutex
	view      View
	published uint64
	nextID    int
	listeners map[int]func(View)
}

// NewStore returns a store holding the zero view
func NewStore() *Store {
	v := View{}
	v.derive()
	return &Store{view: v, listeners: make(map[int]func(View))}
}

// View returns a copy of the current view
func (s *Store) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.clone()
}

// Subscribe registers fn for every later change and returns the
// unsubscribe function
func (s *Store) Subscribe(fn func(View)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// apply mutates the view, bumps its version and returns a copy for publish
func (s *Store) apply(fn func(*View)) View {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.view)
	s.view.derive()
	s.view.Version++
	return s.view.clone()
}

// publish delivers v to the listeners unless a newer view already went out
func (s *Store) publish(v View) {
	s.mu.Lock()
	if v.Version <= s.published {
		s.mu.Unlock()
		return
	}
	s.published = v.Version
	fns := make([]func(View), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}
