package identity

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

const defaultStateTTL = 10 * time.Minute

// newOpaqueString returns an unguessable base64url string of the given byte length.
func newOpaqueString(length int) string {
	buf := make([]byte, length)
	rand.Read(buf) //nolint:errcheck
	return base64.RawURLEncoding.EncodeToString(buf)
}

// StateStore tracks anti-forgery state values minted for in-flight login
// attempts. Each value is single use and expires after a short window.
type StateStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
	clock   func() time.Time
}

// NewStateStore constructs a state store with the provided TTL and clock.
func NewStateStore(ttl time.Duration, clock func() time.Time) *StateStore {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &StateStore{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		clock:   clock,
	}
}

// Issue records the state value as pending.
func (s *StateStore) Issue(state string) {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now)
	s.entries[state] = now.Add(s.ttl)
}

// Consume reports whether the state value was pending and unexpired, removing
// it either way so replays fail.
func (s *StateStore) Consume(state string) bool {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	expiresAt, ok := s.entries[state]
	if !ok {
		return false
	}
	delete(s.entries, state)
	return expiresAt.After(now)
}

func (s *StateStore) sweepLocked(now time.Time) {
	for state, expiresAt := range s.entries {
		if !expiresAt.After(now) {
			delete(s.entries, state)
		}
	}
}
