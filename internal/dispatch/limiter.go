package dispatch

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/SatoKazuma1/wake-on-lan-bot/internal/domain"
)

// callerLimiter throttles intents per caller with one token bucket each.
// A zero rate disables throttling.
type callerLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[domain.CallerID]*rate.Limiter
}

func newCallerLimiter(perMinute float64, burst int) *callerLimiter {
	if perMinute <= 0 {
		return &callerLimiter{}
	}
	if burst <= 0 {
		burst = 5
	}
	return &callerLimiter{
		limit:    rate.Limit(perMinute / 60.0),
		burst:    burst,
		limiters: make(map[domain.CallerID]*rate.Limiter),
	}
}

func (l *callerLimiter) Allow(caller domain.CallerID) bool {
	if l.limit == 0 {
		return true
	}
	l.mu.Lock()
	lim, ok := l.limiters[caller]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[caller] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
