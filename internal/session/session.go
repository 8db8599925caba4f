// Package session maps browser sessions to their poem controllers.
package session

import (
	"sync"
	"time"

	"github.com/gnemet/PoemWeaver/internal/poem"
	"github.com/google/uuid"
)

const CookieName = "poemweaver_session"

type entry struct {
	ctrl     *poem.Controller
	lastSeen time.Time
}

// Store owns one controller per session id.
type Store struct {
	newController func() *poem.Controller
	now           func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

func NewStore(newController func() *poem.Controller) *Store {
	return &Store{
		newController: newController,
		now:           time.Now,
		entries:       make(map[string]*entry),
	}
}

// Get returns the controller for id. Unknown or empty ids get a fresh
// session; created reports whether that happened.
func (s *Store) Get(id string) (ctrl *poem.Controller, sessionID string, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[id]; ok && id != "" {
		e.lastSeen = s.now()
		return e.ctrl, id, false
	}

	sessionID = uuid.NewString()
	e := &entry{ctrl: s.newController(), lastSeen: s.now()}
	s.entries[sessionID] = e
	return e.ctrl, sessionID, true
}

// Prune drops sessions idle for longer than maxIdle. Busy sessions are kept.
func (s *Store) Prune(maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxIdle)
	n := 0
	for id, e := range s.entries {
		if e.lastSeen.Before(cutoff) && !e.ctrl.Busy() {
			delete(s.entries, id)
			n++
		}
	}
	return n
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
