package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/points-leaderboard/internal/errors"
	"github.com/points-leaderboard/internal/metrics"
)

// DefaultLimiterIdleTTL is how long a client's limiter survives without requests
const DefaultLimiterIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter manages per-client rate limiting for API requests
type RateLimiter struct {
	limiters map[string]*clientLimiter
	mu       sync.Mutex

	limit      rate.Limit
	burstSize  int
	trustProxy bool
	idleTTL    time.Duration
	lastSweep  time.Time
	now        func() time.Time
}

// NewRateLimiter creates a new rate limiter allowing rps requests per second
// per client with bursts of burst requests. X-Forwarded-For is only honored
// when trustProxy is set.
func NewRateLimiter(rps, burst int, trustProxy bool) *RateLimiter {
	if burst < 1 {
		burst = rps
	}
	return &RateLimiter{
		limiters:   make(map[string]*clientLimiter),
		limit:      rate.Limit(rps),
		burstSize:  burst,
		trustProxy: trustProxy,
		idleTTL:    DefaultLimiterIdleTTL,
		lastSweep:  time.Now(),
		now:        time.Now,
	}
}

// allow takes one token from the client's limiter
func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= rl.idleTTL {
		rl.sweep(now)
	}

	entry, exists := rl.limiters[key]
	if !exists {
		entry = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burstSize)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// sweep drops limiters idle for longer than idleTTL. Callers hold mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) >= rl.idleTTL {
			delete(rl.limiters, key)
		}
	}
	rl.lastSweep = now
}

// size returns the number of tracked clients
func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// clientIP returns the remote host, or the first X-Forwarded-For hop when
// the server sits behind a trusted proxy
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			return strings.TrimSpace(strings.Split(forwarded, ",")[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware creates a middleware that enforces rate limiting
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.allow(clientIP(r, rl.trustProxy)) {
				metrics.RateLimitRejections.Inc()
				catErr := errors.NewRateLimitError()
				respondError(w, catErr.StatusCode, catErr.Code, catErr.Message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
