package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// DefaultLoginTTL bounds how long a redirect may sit between /auth/login and
// the provider callback before the attempt is abandoned.
const DefaultLoginTTL = 10 * time.Minute

// PendingLogin is one in-flight authorization attempt, keyed by its
// anti-forgery state value.
type PendingLogin struct {
	State     string
	Nonce     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// LoginStateStore holds pending login attempts between the authorization
// redirect and the callback. Entries are single use: Consume removes them,
// and a background sweep collects attempts that never came back.
type LoginStateStore struct {
	mu      sync.Mutex
	pending map[string]PendingLogin
	ttl     time.Duration
	now     func() time.Time
}

// NewLoginStateStore constructs the store; ttl falls back to DefaultLoginTTL.
func NewLoginStateStore(ttl time.Duration) *LoginStateStore {
	if ttl <= 0 {
		ttl = DefaultLoginTTL
	}
	return &LoginStateStore{
		pending: make(map[string]PendingLogin),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Begin registers a new attempt with fresh state and nonce values.
func (s *LoginStateStore) Begin() (PendingLogin, error) {
	state, err := randomToken()
	if err != nil {
		return PendingLogin{}, fmt.Errorf("generate state: %w", err)
	}
	nonce, err := randomToken()
	if err != nil {
		return PendingLogin{}, fmt.Errorf("generate nonce: %w", err)
	}

	now := s.now()
	attempt := PendingLogin{
		State:     state,
		Nonce:     nonce,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	s.mu.Lock()
	s.pending[state] = attempt
	s.mu.Unlock()

	return attempt, nil
}

// Consume retrieves and removes the attempt matching state. Unknown, expired,
// or already-consumed states fail with ErrStateMismatch.
func (s *LoginStateStore) Consume(state string) (PendingLogin, error) {
	if state == "" {
		return PendingLogin{}, fmt.Errorf("%w: empty state", ErrStateMismatch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	attempt, ok := s.pending[state]
	if !ok {
		return PendingLogin{}, fmt.Errorf("%w: unknown state", ErrStateMismatch)
	}
	delete(s.pending, state)
	if s.now().After(attempt.ExpiresAt) {
		return PendingLogin{}, fmt.Errorf("%w: state expired", ErrStateMismatch)
	}
	return attempt, nil
}

// Len reports the number of outstanding attempts.
func (s *LoginStateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// StartGC launches a background sweep so abandoned attempts do not accumulate.
func (s *LoginStateStore) StartGC(stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-stop:
				return
			}
		}
	}()
}

func (s *LoginStateStore) sweep() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for state, attempt := range s.pending {
		if now.After(attempt.ExpiresAt) {
			delete(s.pending, state)
		}
	}
}

func randomToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
