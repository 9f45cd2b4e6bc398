package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"telecare/pkg/config"
	"telecare/pkg/errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// ipLimiters tracks a token bucket per client IP. Entries idle for longer
// than idleEviction are dropped so the map does not grow without bound.
type ipLimiters struct {
	mu    sync.Mutex
	byIP  map[string]*ipLimiter
	limit rate.Limit
	burst int
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const idleEviction = 10 * time.Minute

func newIPLimiters(limit rate.Limit, burst int) *ipLimiters {
	l := &ipLimiters{
		byIP:  make(map[string]*ipLimiter),
		limit: limit,
		burst: burst,
	}
	go l.evictIdle()
	return l
}

func (l *ipLimiters) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.byIP[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byIP[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

func (l *ipLimiters) evictIdle() {
	ticker := time.NewTicker(idleEviction)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-idleEviction)
		l.mu.Lock()
		for ip, entry := range l.byIP {
			if entry.lastSeen.Before(cutoff) {
				delete(l.byIP, ip)
			}
		}
		l.mu.Unlock()
	}
}

// clientIP resolves the caller's address, honoring X-Forwarded-For when the
// gateway sits behind a proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := net.ParseIP(xff); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// NewHTTPRateLimitMiddleware throttles REST traffic per client IP and caps
// the number of in-flight requests across all clients.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	limiters := newIPLimiters(
		rate.Limit(cfg.RateLimiting.HTTP.RequestsPerSecond),
		cfg.RateLimiting.HTTP.Burst,
	)

	var inflight chan struct{}
	if cfg.RateLimiting.HTTP.MaxConcurrent > 0 {
		inflight = make(chan struct{}, cfg.RateLimiting.HTTP.MaxConcurrent)
	}

	return func(c *gin.Context) {
		if inflight != nil {
			select {
			case inflight <- struct{}{}:
				defer func() { <-inflight }()
			default:
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
					"error":   string(errors.ErrCodeUnavailable),
					"message": "too many concurrent requests",
				})
				return
			}
		}

		if !limiters.allow(clientIP(c.Request)) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   string(errors.ErrCodeRateLimit),
				"message": "rate limit exceeded",
			})
			return
		}

		c.Next()
	}
}
