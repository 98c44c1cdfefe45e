package remote

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter paces calls per service. A zero rate disables limiting.
type Limiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	byService map[string]*rate.Limiter
}

// NewLimiter creates a limiter allowing perSecond calls per service.
func NewLimiter(perSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limit:     rate.Limit(perSecond),
		burst:     burst,
		byService: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the service may issue another call.
func (l *Limiter) Wait(ctx context.Context, service string) error {
	if l == nil || l.limit <= 0 {
		return nil
	}
	return l.get(service).Wait(ctx)
}

func (l *Limiter) get(service string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.byService[service]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.byService[service] = lim
	}
	return lim
}
