package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"rolechat/pkg/cache"
	"rolechat/pkg/config"
	"rolechat/pkg/errors"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long a client's bucket is kept after its last request.
const limiterIdleTTL = 10 * time.Minute

// clientIP prefers the first X-Forwarded-For entry and falls back to the
// peer address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateLimitKey buckets signed-in callers by user and everyone else by IP.
func rateLimitKey(c *gin.Context) string {
	if identity := IdentityFromContext(c); identity != nil {
		return "user:" + identity.Key
	}
	return "ip:" + clientIP(c.Request)
}

// NewHTTPRateLimitMiddleware applies a token bucket per caller plus an
// optional cap on in-flight requests. Mount it after SessionMiddleware so
// signed-in users get their own bucket.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	limit := rate.Limit(cfg.RateLimiting.HTTP.RequestsPerSecond)
	burst := cfg.RateLimiting.HTTP.Burst
	buckets := cache.New[*rate.Limiter](limiterIdleTTL)
	newBucket := func() *rate.Limiter { return rate.NewLimiter(limit, burst) }

	var inFlight chan struct{}
	if n := cfg.RateLimiting.HTTP.MaxConcurrent; n > 0 {
		inFlight = make(chan struct{}, n)
	}

	return func(c *gin.Context) {
		if inFlight != nil {
			select {
			case inFlight <- struct{}{}:
				defer func() { <-inFlight }()
			default:
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "too many concurrent requests"})
				return
			}
		}

		if !buckets.Touch(rateLimitKey(c), newBucket).Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
				"code":  string(errors.ErrCodeRateLimit),
			})
			return
		}
		c.Next()
	}
}
