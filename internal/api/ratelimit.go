package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const maxTrackedSubjects = 10000

// subjectLimiter keeps one token bucket per authenticated subject.
type subjectLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newSubjectLimiter(perMinute, burst int) *subjectLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &subjectLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
	}
}

// Allow reports whether subject may make another request now. A nil limiter allows
// everything.
func (l *subjectLimiter) Allow(subject string) bool {
	if l == nil {
		return true
	}

	l.mu.Lock()
	limiter, ok := l.limiters[subject]
	if !ok {
		// Crude bound on memory: forget everyone once the table is full.
		if len(l.limiters) >= maxTrackedSubjects {
			l.limiters = make(map[string]*rate.Limiter)
		}
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[subject] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}
