package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterRate  = rate.Limit(5)
	limiterBurst = 20

	// Idle limiter entries are dropped on this cadence so the map does
	// not grow without bound under scanner traffic.
	limiterCleanupInterval = time.Hour
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiter rate-limits webhook callers per remote IP.
type ipLimiter struct {
	mu          sync.Mutex
	entries     map[string]*limiterEntry
	lastCleanup time.Time
}

func newIPLimiter() *ipLimiter {
	return &ipLimiter{
		entries:     make(map[string]*limiterEntry),
		lastCleanup: time.Now(),
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastCleanup) > limiterCleanupInterval {
		for key, entry := range l.entries {
			if now.Sub(entry.lastSeen) > limiterCleanupInterval {
				delete(l.entries, key)
			}
		}
		l.lastCleanup = now
	}

	entry, ok := l.entries[ip]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(limiterRate, limiterBurst)}
		l.entries[ip] = entry
	}
	entry.lastSeen = now

	return entry.limiter.Allow()
}
