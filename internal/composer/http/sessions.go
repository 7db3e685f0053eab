package composerhttp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/backoffice/internal/catalog"
	"github.com/odyssey-erp/backoffice/internal/composer"
	"github.com/odyssey-erp/backoffice/internal/observability"
	"github.com/odyssey-erp/backoffice/internal/search"
	"github.com/odyssey-erp/backoffice/internal/shared"
)

// Session is one open add/edit dialog.
type Session struct {
	ID             string
	Composer       *composer.Composer
	Notices        *shared.NoticeBuffer
	Counterparties *search.Field[catalog.Party]
	Products       *search.Field[composer.CatalogProduct]

	stop     context.CancelFunc
	lastSeen time.Time
}

func (s *Session) close() {
	s.Counterparties.Close()
	s.Products.Close()
	s.Composer.Close()
	s.stop()
}

// Wait blocks until background lookups and queries have settled.
func (s *Session) Wait() {
	s.Counterparties.Wait()
	s.Products.Wait()
	s.Composer.Wait()
}

// SessionStore keeps open sessions in memory.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewSessionStore returns a store that expires sessions idle for ttl.
func NewSessionStore(ttl time.Duration, metrics *observability.Metrics, logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
		metrics:  metrics,
		logger:   logger,
	}
}

func (s *SessionStore) add(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess.ID = uuid.NewString()
	sess.lastSeen = s.now()
	s.sessions[sess.ID] = sess
	s.metrics.SessionOpened()
}

// Get returns an open session and marks it as used.
func (s *SessionStore) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("composition %s: %w", id, shared.ErrNotFound)
	}
	sess.lastSeen = s.now()
	return sess, nil
}

// Remove closes and forgets a session.
func (s *SessionStore) Remove(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if ok {
		sess.close()
		s.metrics.SessionClosed()
	}
}

// Len returns the number of open sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops sessions idle for longer than the TTL and returns how many were dropped.
func (s *SessionStore) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.ttl)
	s.mu.Lock()
	var expired []*Session
	for id, sess := range s.sessions {
		if sess.lastSeen.Before(cutoff) {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()
	for _, sess := range expired {
		sess.close()
		s.metrics.SessionClosed()
	}
	if len(expired) > 0 {
		s.logger.Info("expired composer sessions", slog.Int("count", len(expired)))
	}
	return len(expired)
}

// Run sweeps every interval until ctx is done, then closes every session.
func (s *SessionStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *SessionStore) closeAll() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.close()
		sess.Wait()
		s.metrics.SessionClosed()
	}
}
