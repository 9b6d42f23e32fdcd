package security

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter hands out one token-bucket limiter per client IP. Idle
// clients are evicted lazily so the map stays bounded on a public
// deployment.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*client
	rate    rate.Limit
	burst   int
	ttl     time.Duration
}

type client struct {
	lim     *rate.Limiter
	lastHit time.Time
}

func NewRateLimiter(perSecond rate.Limit, burst int, idleTTL time.Duration) *RateLimiter {
	return &RateLimiter{
		clients: make(map[string]*client),
		rate:    perSecond,
		burst:   burst,
		ttl:     idleTTL,
	}
}

func (r *RateLimiter) Allow(ip string) bool {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		ip = "unknown"
	}

	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for k, v := range r.clients {
		if now.Sub(v.lastHit) > r.ttl {
			delete(r.clients, k)
		}
	}

	cl, ok := r.clients[ip]
	if !ok {
		cl = &client{lim: rate.NewLimiter(r.rate, r.burst)}
		r.clients[ip] = cl
	}
	cl.lastHit = now
	return cl.lim.Allow()
}

// ClientIP extracts the peer address without trusting forwarded headers.
func ClientIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(req.RemoteAddr)
}
