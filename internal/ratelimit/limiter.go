// Package ratelimit throttles agent write actions with a token bucket per user.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PerUser hands out one token bucket per user id. Buckets idle longer than the
// sweep interval are dropped on the next Allow.
type PerUser struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu        sync.Mutex
	limiters  map[string]*entry
	lastSweep time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewPerUser allows perMinute events per user per minute with the given burst.
func NewPerUser(perMinute float64, burst int) *PerUser {
	if burst < 1 {
		burst = 1
	}
	return &PerUser{
		limit:    rate.Limit(perMinute / 60),
		burst:    burst,
		idle:     30 * time.Minute,
		now:      time.Now,
		limiters: map[string]*entry{},
	}
}

func (p *PerUser) Allow(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	p.sweepLocked(now)

	e, ok := p.limiters[userID]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(p.limit, p.burst)}
		p.limiters[userID] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

func (p *PerUser) sweepLocked(now time.Time) {
	if now.Sub(p.lastSweep) < p.idle {
		return
	}
	p.lastSweep = now
	for id, e := range p.limiters {
		if now.Sub(e.lastSeen) > p.idle {
			delete(p.limiters, id)
		}
	}
}
