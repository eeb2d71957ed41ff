package auth

import (
	"sync"

	"golang.org/x/time/rate"
)

const (
	defaultRPS   = 5
	defaultBurst = 10
)

// limiterPool hands out one token bucket per API key (or per promoted
// unauth caller). Buckets are created lazily on first sight of a key and
// kept for the process lifetime; the relay's key sets are small and fixed.
type limiterPool struct {
	mu  sync.Mutex
	m   map[string]*rate.Limiter
	cfg SecConfig
}

func (p *limiterPool) Allow(key string) bool {
	p.mu.Lock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	l, ok := p.m[key]
	if !ok {
		rps, burst := p.cfg.RPS, p.cfg.Burst
		if rps <= 0 {
			rps = defaultRPS
		}
		if burst <= 0 {
			burst = defaultBurst
		}
		l = rate.NewLimiter(rate.Limit(rps), burst)
		p.m[key] = l
	}
	p.mu.Unlock()
	return l.Allow()
}
