package bot

import (
	"sync"

	"golang.org/x/time/rate"
)

// throttle limits how fast each guild can issue commands
type throttle struct {
	limit rate.Limit
	burst int

	limiters map[string]*rate.Limiter
	mu       sync.Mutex
}

func newThrottle(perSecond float64, burst int) *throttle {
	return &throttle{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether guildID may run a command now
func (t *throttle) Allow(guildID string) bool {
	t.mu.Lock()
	limiter, exists := t.limiters[guildID]
	if !exists {
		limiter = rate.NewLimiter(t.limit, t.burst)
		t.limiters[guildID] = limiter
	}
	t.mu.Unlock()

	return limiter.Allow()
}
