// Package signal provides a minimal typed event primitive: listeners connect,
// the owner fires, connections disconnect. It is the notification backbone
// for attribute-change events.
package signal

import "sync"

// Signal fans a fired value out to every connected listener.
// The zero value is not usable; construct with New.
type Signal[T any] struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]func(T)
}

// New creates an empty signal.
func New[T any]() *Signal[T] {
	return &Signal[T]{
		listeners: make(map[int]func(T)),
	}
}

// Connection represents one listener's registration on a signal.
type Connection struct {
	once       sync.Once
	disconnect func()
}

// Disconnect removes the listener. Safe to call more than once.
func (c *Connection) Disconnect() {
	c.once.Do(c.disconnect)
}

// Connect registers fn to be invoked on every subsequent Fire.
// fn is never invoked during the Connect call itself.
func (s *Signal[T]) Connect(fn func(T)) *Connection {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	return &Connection{
		disconnect: func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.listeners, id)
		},
	}
}

// Fire invokes every connected listener with v. Listeners are called
// outside the signal's lock, so a listener may disconnect itself or
// connect new listeners without deadlocking.
func (s *Signal[T]) Fire(v T) {
	s.mu.Lock()
	fns := make([]func(T), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len reports the number of connected listeners.
func (s *Signal[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}
