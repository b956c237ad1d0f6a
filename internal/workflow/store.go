package workflow

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/geovista/aoi-gateway/internal/metrics"
)

// Sentinel errors for session lookup.
var (
	ErrSessionNotFound = storeError("session not found")
	ErrSessionExpired  = storeError("session expired")
)

type storeError string

func (e storeError) Error() string {
	return string(e)
}

type sessionEntry struct {
	session   *Session
	expiresAt time.Time
}

// Store keeps live workflow sessions in memory with a sliding TTL.
// Suitable for single-instance deployments; sessions are UI state and
// are not persisted anywhere else.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]sessionEntry
	ttl      time.Duration
	metrics  *metrics.Metrics
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewStore creates a session store. ttl bounds how long an idle session
// survives; cleanupInterval sets how often expired sessions are reaped.
// m may be nil.
func NewStore(ttl, cleanupInterval time.Duration, m *metrics.Metrics) *Store {
	store := &Store{
		sessions: make(map[string]sessionEntry),
		ttl:      ttl,
		metrics:  m,
		stopChan: make(chan struct{}),
	}

	go store.cleanupLoop(cleanupInterval)

	return store
}

// Put registers a session under a fresh token and sets the session ID.
func (s *Store) Put(session *Session) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	session.id = token

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[token] = sessionEntry{
		session:   session,
		expiresAt: time.Now().Add(s.ttl),
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(len(s.sessions)))
	}

	return token, nil
}

// Get returns a live session and slides its expiry forward.
func (s *Store) Get(token string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.sessions[token]
	if !exists {
		return nil, ErrSessionNotFound
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.sessions, token)
		if s.metrics != nil {
			s.metrics.ActiveSessions.Set(float64(len(s.sessions)))
		}
		return nil, ErrSessionExpired
	}

	entry.expiresAt = time.Now().Add(s.ttl)
	s.sessions[token] = entry

	return entry.session, nil
}

// Delete removes a session. Unknown tokens are a no-op.
func (s *Store) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, token)
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(len(s.sessions)))
	}
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Stop terminates the background cleanup goroutine.
func (s *Store) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

func (s *Store) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopChan:
			return
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for token, entry := range s.sessions {
		if now.After(entry.expiresAt) {
			delete(s.sessions, token)
		}
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(len(s.sessions)))
	}
}

// generateToken creates a cryptographically secure random token.
func generateToken() (string, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
