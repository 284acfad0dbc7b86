package network

import (
	"net/netip"
	"time"

	"github.com/sasha-s/go-deadlock"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// senderLimiter gives each sender address its own token bucket.
type senderLimiter struct {
	mu       deadlock.Mutex
	limiters map[netip.AddrPort]*limiterEntry
	limit    rate.Limit
	burst    int
}

func newSenderLimiter(perSec float64, burst int) *senderLimiter {
	limit := rate.Limit(perSec)
	if perSec <= 0 {
		limit = rate.Inf
	}
	return &senderLimiter{
		limiters: make(map[netip.AddrPort]*limiterEntry),
		limit:    limit,
		burst:    burst,
	}
}

func (l *senderLimiter) allow(from netip.AddrPort, now time.Time) bool {
	l.mu.Lock()
	e, ok := l.limiters[from]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[from] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

// cleanup forgets senders idle for longer than idle.
func (l *senderLimiter) cleanup(now time.Time, idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for addr, e := range l.limiters {
		if now.Sub(e.lastSeen) > idle {
			delete(l.limiters, addr)
			n++
		}
	}
	return n
}
