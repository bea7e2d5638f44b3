package telegram

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

// userLimiter is a token bucket per user. Idle buckets are dropped by Sweep.
type userLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	entries map[int64]*limiterEntry
}

func newUserLimiter(perSecond float64, burst int) *userLimiter {
	if burst < 1 {
		burst = 1
	}
	return &userLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		now:     time.Now,
		entries: make(map[int64]*limiterEntry),
	}
}

func (l *userLimiter) Allow(userID int64) bool {
	now := l.now()
	l.mu.Lock()
	entry, ok := l.entries[userID]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[userID] = entry
	}
	entry.seen = now
	l.mu.Unlock()
	return entry.limiter.AllowN(now, 1)
}

func (l *userLimiter) Sweep(idle time.Duration) int {
	cutoff := l.now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for id, entry := range l.entries {
		if entry.seen.Before(cutoff) {
			delete(l.entries, id)
			removed++
		}
	}
	return removed
}
