package session

import (
	"sync"
	"time"
)

// Store is the in-memory registry of active sessions. It exclusively owns
// all Session objects: callers only ever see clones, and mutation happens
// through Mutate, which serializes writers per session id. Mutations on
// different ids proceed independently.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

type entry struct {
	mu sync.Mutex
	s  *Session
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*entry),
	}
}

// Create allocates a new processing session for textRef with its initial
// audit step and returns a clone of it.
func (s *Store) Create(textRef string, useRetrieval bool) *Session {
	now := time.Now()
	sess := &Session{
		ID:            NewID(),
		TextRef:       textRef,
		Status:        Processing,
		UseRetrieval:  useRetrieval,
		CreatedAt:     now,
		LastUpdatedAt: now,
		Steps: []Step{
			{Timestamp: now, Status: Processing, Message: "started"},
		},
	}

	s.mu.Lock()
	s.sessions[sess.ID] = &entry{s: sess}
	s.mu.Unlock()

	return sess.Clone()
}

func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.Clone(), true
}

// Mutate applies fn to the session under its per-session lock and returns a
// clone of the result. fn must not block: collaborator calls belong outside
// Mutate so no lock is held across a suspension point.
func (s *Store) Mutate(id string, fn func(*Session)) (*Session, bool) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.s)
	e.s.LastUpdatedAt = time.Now()
	return e.s.Clone(), true
}

func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// ListOlderThan returns clones of all sessions created more than age ago.
// The result is a snapshot, not a live view.
func (s *Store) ListOlderThan(age time.Duration) []*Session {
	cutoff := time.Now().Add(-age)

	s.mu.RLock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var result []*Session
	for _, e := range entries {
		e.mu.Lock()
		if e.s.CreatedAt.Before(cutoff) {
			result = append(result, e.s.Clone())
		}
		e.mu.Unlock()
	}
	return result
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ActiveCount returns the number of sessions still processing.
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	count := 0
	for _, e := range entries {
		e.mu.Lock()
		if !e.s.IsTerminal() {
			count++
		}
		e.mu.Unlock()
	}
	return count
}
