package middleware

import (
	"net/http"
	"sync"
	"time"

	"callcore/pkg/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// LimiterStore hands out one token bucket per key, such as a client IP or a
// recipient. Idle buckets are forgotten after a while.
type LimiterStore struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
	idle     time.Duration
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewLimiterStore(r rate.Limit, burst int) *LimiterStore {
	return &LimiterStore{
		limiters: make(map[string]*limiterEntry),
		rate:     r,
		burst:    burst,
		idle:     10 * time.Minute,
	}
}

func (s *LimiterStore) Get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry, ok := s.limiters[key]
	if !ok {
		if len(s.limiters) > 1024 {
			s.evictIdle(now)
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(s.rate, s.burst)}
		s.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

func (s *LimiterStore) Allow(key string) bool {
	return s.Get(key).Allow()
}

func (s *LimiterStore) evictIdle(now time.Time) {
	for key, e := range s.limiters {
		if now.Sub(e.lastSeen) > s.idle {
			delete(s.limiters, key)
		}
	}
}

// NewHTTPRateLimitMiddleware limits requests per client IP.
func NewHTTPRateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	if !cfg.RateLimiting.Enabled {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	store := NewLimiterStore(rate.Limit(cfg.RateLimiting.HTTP.RequestsPerSecond), cfg.RateLimiting.HTTP.Burst)

	return func(c *gin.Context) {
		if !store.Allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
