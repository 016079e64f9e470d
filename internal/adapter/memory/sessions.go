package memory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Session is the part of a conversation the registry manages.
type Session interface {
	Close()
}

// Factory builds the session for a chat the first time it is seen. It runs
// outside the registry lock and may be called more than once for the same
// chat under contention; only one result is kept.
type Factory[S Session] func(chatID int64) S

// Sessions keeps one session per chat. Sessions are never shared between
// chats.
type Sessions[S Session] struct {
	mu      sync.Mutex
	entries map[int64]*entry[S]
	factory Factory[S]
	logger  *zap.Logger
	now     func() time.Time
}

type entry[S Session] struct {
	session  S
	lastSeen time.Time
}

func NewSessions[S Session](factory Factory[S], logger *zap.Logger) *Sessions[S] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sessions[S]{
		entries: make(map[int64]*entry[S]),
		factory: factory,
		logger:  logger,
		now:     time.Now,
	}
}

// Get returns the chat's session, creating it on first use. created is true
// only for the caller whose session was stored.
func (s *Sessions[S]) Get(chatID int64) (session S, created bool) {
	if sess, ok := s.lookup(chatID); ok {
		return sess, false
	}

	fresh := s.factory(chatID)

	s.mu.Lock()
	if e, ok := s.entries[chatID]; ok {
		e.lastSeen = s.now()
		s.mu.Unlock()
		fresh.Close()
		return e.session, false
	}
	s.entries[chatID] = &entry[S]{session: fresh, lastSeen: s.now()}
	s.mu.Unlock()

	s.logger.Debug("session created", zap.Int64("chat_id", chatID))
	return fresh, true
}

func (s *Sessions[S]) lookup(chatID int64) (S, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[chatID]
	if !ok {
		var zero S
		return zero, false
	}
	e.lastSeen = s.now()
	return e.session, true
}

func (s *Sessions[S]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep closes and forgets sessions not used within ttl. It returns how many
// were evicted.
func (s *Sessions[S]) Sweep(ttl time.Duration) int {
	cutoff := s.now().Add(-ttl)

	s.mu.Lock()
	var stale []S
	for id, e := range s.entries {
		if e.lastSeen.Before(cutoff) {
			stale = append(stale, e.session)
			delete(s.entries, id)
			s.logger.Debug("session expired", zap.Int64("chat_id", id))
		}
	}
	s.mu.Unlock()

	for _, sess := range stale {
		sess.Close()
	}
	return len(stale)
}

// Run sweeps every interval until ctx is done.
func (s *Sessions[S]) Run(ctx context.Context, interval, ttl time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := s.Sweep(ttl); n > 0 {
				s.logger.Info("expired idle sessions", zap.Int("count", n))
			}
		}
	}
}

// Close closes every session.
func (s *Sessions[S]) Close() {
	s.mu.Lock()
	all := make([]S, 0, len(s.entries))
	for id, e := range s.entries {
		all = append(all, e.session)
		delete(s.entries, id)
	}
	s.mu.Unlock()

	for _, sess := range all {
		sess.Close()
	}
}
