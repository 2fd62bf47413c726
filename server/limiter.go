package server

import (
	"net"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/time/rate"
)

// rateLimiter caps queries per minute per client address. Loopback clients
// are never limited, a zero rate disables limiting entirely.
type rateLimiter struct {
	mu      sync.Mutex
	rate    int
	clients map[uint64]*rate.Limiter
}

func newRateLimiter(perMinute int) *rateLimiter {
	return &rateLimiter{
		rate:    perMinute,
		clients: make(map[uint64]*rate.Limiter),
	}
}

func (r *rateLimiter) allow(ip net.IP) bool {
	if r.rate == 0 || ip == nil || ip.IsLoopback() {
		return true
	}

	key := xxhash.Sum64(ip)

	r.mu.Lock()
	l, ok := r.clients[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(r.rate)), r.rate)
		r.clients[key] = l
	}
	r.mu.Unlock()

	return l.Allow()
}
