package service

import (
	"sync"
	"time"
)

const anonymousOwner = "anonymous"

// rateLimiter caps uploads per owner over a sliding window.
type rateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	now    func() time.Time
	seen   map[string][]time.Time
}

// newRateLimiter returns a limiter allowing limit events per window.
// A limit of zero or less disables limiting.
func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		seen:   make(map[string][]time.Time),
	}
}

func ownerKey(owner string) string {
	if owner == "" {
		return anonymousOwner
	}
	return owner
}

// Reserve records an event for owner when it is within the limit. The
// returned undo removes the reservation again if the upload is refused
// later on.
func (l *rateLimiter) Reserve(owner string) (undo func(), ok bool) {
	if l.limit <= 0 {
		return func() {}, true
	}
	key := ownerKey(owner)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	recent := l.prune(key, now)
	if len(recent) >= l.limit {
		return nil, false
	}
	l.seen[key] = append(recent, now)

	var once sync.Once
	return func() {
		once.Do(func() { l.forget(key, now) })
	}, true
}

// Remaining returns how many more events owner may record now.
func (l *rateLimiter) Remaining(owner string) int {
	if l.limit <= 0 {
		return -1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit - len(l.prune(ownerKey(owner), l.now()))
}

// prune drops events older than the window. Callers hold mu.
func (l *rateLimiter) prune(key string, now time.Time) []time.Time {
	events := l.seen[key]
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(events) && !events[i].After(cutoff) {
		i++
	}
	events = events[i:]
	if len(events) == 0 {
		delete(l.seen, key)
		return nil
	}
	l.seen[key] = events
	return events
}

func (l *rateLimiter) forget(key string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	events := l.seen[key]
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Equal(at) {
			l.seen[key] = append(events[:i:i], events[i+1:]...)
			return
		}
	}
}
