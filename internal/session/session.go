// Package session holds the state scoped to one signed-in user: who the
// current user is and the profiles already looked up during this login.
// It is created on login and torn down on logout.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/master-rogerio/VCZapO-sub001/internal/model"
)

// ErrEnded is returned by operations on a session after End.
var ErrEnded = errors.New("session ended")

// Session is the per-login context handed to the sync reconciler.
type Session struct {
	userID string

	mu       sync.RWMutex
	profiles map[string]model.Profile
	ended    bool
}

// Begin starts a session for userID.
func Begin(userID string) (*Session, error) {
	if userID == "" {
		return nil, errors.New("session: empty user id")
	}
	return &Session{
		userID:   userID,
		profiles: make(map[string]model.Profile),
	}, nil
}

// UserID returns the signed-in user's id.
func (s *Session) UserID() string {
	return s.userID
}

// Profile returns the memoized profile for userID.
func (s *Session) Profile(userID string) (model.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	return p, ok
}

// ProfileOrFetch returns the memoized profile for userID, calling fetch and
// memoizing the result on a miss. Concurrent misses for the same id may both
// fetch; the last write wins. A fetch error is returned and nothing is memoized.
func (s *Session) ProfileOrFetch(ctx context.Context, userID string, fetch func(context.Context, string) (model.Profile, error)) (model.Profile, error) {
	if p, ok := s.Profile(userID); ok {
		return p, nil
	}
	p, err := fetch(ctx, userID)
	if err != nil {
		return model.Profile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return p, ErrEnded
	}
	s.profiles[userID] = p
	return p, nil
}

// InvalidateProfiles drops every memoized profile.
func (s *Session) InvalidateProfiles() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles = make(map[string]model.Profile)
}

// End tears the session down. Safe to call more than once.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
	s.profiles = make(map[string]model.Profile)
}

// Ended reports whether End has been called.
func (s *Session) Ended() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ended
}
