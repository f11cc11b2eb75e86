package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdle      = 10 * time.Minute
	limiterPruneSize = 1024
)

type limiterEntry struct {
	limiter *rate.Limiter
	seen    time.Time
}

// Limiter throttles connect attempts per identity.
type Limiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*limiterEntry
}

// NewLimiter allows perMinute attempts per identity with bursts of burst.
// A perMinute of zero disables limiting.
func NewLimiter(perMinute, burst int) *Limiter {
	l := &Limiter{
		burst:   burst,
		now:     time.Now,
		entries: make(map[string]*limiterEntry),
	}
	if perMinute > 0 {
		l.limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return l
}

// Allow reports whether identity may attempt a connect now.
func (l *Limiter) Allow(identity string) bool {
	if l == nil || l.limit == 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[identity]
	if !ok {
		if len(l.entries) >= limiterPruneSize {
			l.prune(now)
		}
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[identity] = e
	}
	e.seen = now
	return e.limiter.AllowN(now, 1)
}

// prune forgets identities not seen for limiterIdle.
func (l *Limiter) prune(now time.Time) {
	for identity, e := range l.entries {
		if now.Sub(e.seen) > limiterIdle {
			delete(l.entries, identity)
		}
	}
}
