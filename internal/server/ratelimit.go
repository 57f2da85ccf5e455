package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	loginAttemptRate  = rate.Limit(1)
	loginAttemptBurst = 5
	limiterIdleWindow = 10 * time.Minute
	limiterSweepSize  = 1024
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// clientLimiter throttles login attempts per client address so a misbehaving
// client cannot hammer the identity provider through this service.
type clientLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
}

func newClientLimiter() *clientLimiter {
	return &clientLimiter{entries: make(map[string]*limiterEntry)}
}

func (l *clientLimiter) allow(clientIP string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[clientIP]
	if !ok {
		if len(l.entries) >= limiterSweepSize {
			l.sweepLocked(now)
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(loginAttemptRate, loginAttemptBurst)}
		l.entries[clientIP] = entry
	}
	entry.lastSeen = now
	return entry.limiter.Allow()
}

func (l *clientLimiter) sweepLocked(now time.Time) {
	for clientIP, entry := range l.entries {
		if now.Sub(entry.lastSeen) > limiterIdleWindow {
			delete(l.entries, clientIP)
		}
	}
}
