package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// A client bucket idle past limiterClientTTL is dropped on the next sweep.
const (
	limiterSweepInterval = 5 * time.Minute
	limiterClientTTL     = 10 * time.Minute
)

type clientLimiter struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// limiterRegistry tracks one token bucket per client IP and sweeps stale
// clients in the background.
type limiterRegistry struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter

	rps    rate.Limit
	burst  int
	logger *zap.Logger
}

func newLimiterRegistry(rps, burst int, logger *zap.Logger) *limiterRegistry {
	r := &limiterRegistry{
		clients: make(map[string]*clientLimiter),
		rps:     rate.Limit(rps),
		burst:   burst,
		logger:  logger,
	}
	go r.sweep()
	return r
}

// allow takes one token from the client's bucket, creating the bucket on
// first sight.
func (r *limiterRegistry) allow(ip string) bool {
	r.mu.Lock()
	c, ok := r.clients[ip]
	if !ok {
		c = &clientLimiter{bucket: rate.NewLimiter(r.rps, r.burst)}
		r.clients[ip] = c
	}
	c.lastSeen = time.Now()
	r.mu.Unlock()

	return c.bucket.Allow()
}

func (r *limiterRegistry) sweep() {
	for {
		time.Sleep(limiterSweepInterval)

		r.mu.Lock()
		evicted := 0
		for ip, c := range r.clients {
			if time.Since(c.lastSeen) > limiterClientTTL {
				delete(r.clients, ip)
				evicted++
			}
		}
		remaining := len(r.clients)
		r.mu.Unlock()

		if evicted > 0 {
			r.logger.Debug("rate limiter swept stale clients",
				zap.Int("evicted", evicted),
				zap.Int("remaining", remaining),
			)
		}
	}
}

// RateLimiter returns a Gin middleware enforcing a per-IP token bucket: rps
// steady-state requests per second with the given burst. Rejected requests
// get a 429 with a Retry-After header.
func RateLimiter(rps, burst int, logger *zap.Logger) gin.HandlerFunc {
	registry := newLimiterRegistry(rps, burst, logger)

	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !registry.allow(ip) {
			logger.Debug("rate limit exceeded",
				zap.String("ip", ip),
				zap.String("path", c.FullPath()),
			)
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
