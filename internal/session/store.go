package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the in-memory registry of active shells, one per page session.
// Nothing is persisted: state lives and dies with the process. Idle sessions
// are evicted after the configured TTL.
type Store struct {
	mu     sync.Mutex
	shells map[string]*storeEntry
	ttl    time.Duration
}

type storeEntry struct {
	shell    *Shell
	lastSeen time.Time
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{
		shells: make(map[string]*storeEntry),
		ttl:    ttl,
	}
}

// Create registers a fresh shell and returns its id.
func (s *Store) Create() (string, *Shell) {
	id := uuid.NewString()
	shell := NewShell()
	s.mu.Lock()
	s.shells[id] = &storeEntry{shell: shell, lastSeen: time.Now()}
	s.mu.Unlock()
	return id, shell
}

// Get returns the shell for id, refreshing its idle timer. Expired entries
// are treated as absent.
func (s *Store) Get(id string) (*Shell, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.shells[id]
	if !ok {
		return nil, false
	}
	now := time.Now()
	if now.Sub(entry.lastSeen) > s.ttl {
		delete(s.shells, id)
		return nil, false
	}
	entry.lastSeen = now
	return entry.shell, true
}

// Delete removes a session outright.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.shells, id)
	s.mu.Unlock()
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.shells)
}

// Run sweeps expired sessions until ctx is done.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

func (s *Store) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.shells {
		if now.Sub(entry.lastSeen) > s.ttl {
			delete(s.shells, id)
		}
	}
}
