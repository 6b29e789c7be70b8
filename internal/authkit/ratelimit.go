package authkit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const limiterIdleSweepInterval = 5 * time.Minute

// clientRateLimiter keeps one token bucket per client key.
type clientRateLimiter struct {
	limiters  sync.Map
	limit     rate.Limit
	burst     int
	mutex     sync.Mutex
	lastSweep time.Time
	logger    *zap.Logger
}

func newClientRateLimiter(requestsPerSecond float64, burst int, logger *zap.Logger) *clientRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &clientRateLimiter{
		limit:     rate.Limit(requestsPerSecond),
		burst:     burst,
		lastSweep: time.Now(),
		logger:    logger,
	}
}

func (limiter *clientRateLimiter) limiterFor(key string) *rate.Limiter {
	if existing, ok := limiter.limiters.Load(key); ok {
		return existing.(*rate.Limiter)
	}
	created := rate.NewLimiter(limiter.limit, limiter.burst)
	actual, _ := limiter.limiters.LoadOrStore(key, created)
	limiter.sweepIdle()
	return actual.(*rate.Limiter)
}

// sweepIdle drops limiters whose buckets are full again.
func (limiter *clientRateLimiter) sweepIdle() {
	limiter.mutex.Lock()
	defer limiter.mutex.Unlock()
	if time.Since(limiter.lastSweep) < limiterIdleSweepInterval {
		return
	}
	limiter.lastSweep = time.Now()
	limiter.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(limiter.burst) {
			limiter.limiters.Delete(key)
		}
		return true
	})
}

// middleware answers 429 once a client exhausts its bucket. A non-positive rate disables limiting.
func (limiter *clientRateLimiter) middleware() gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		if limiter.limit <= 0 {
			contextGin.Next()
			return
		}
		key := contextGin.ClientIP()
		bucket := limiter.limiterFor(key)
		if !bucket.Allow() {
			reservation := bucket.Reserve()
			delay := reservation.Delay()
			reservation.Cancel()
			retryAfter := max(int(delay.Seconds()), 1)
			contextGin.Header("Retry-After", strconv.Itoa(retryAfter))
			limiter.logger.Warn("rate limit exceeded",
				zap.String("code", "auth.rate_limited"),
				zap.String("path", contextGin.FullPath()),
				zap.String("ip", key),
				zap.Int("retry_after", retryAfter))
			contextGin.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limit_exceeded"})
			return
		}
		contextGin.Next()
	}
}
