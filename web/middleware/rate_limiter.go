package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RateLimiterConfig holds configuration for rate limiting
type RateLimiterConfig struct {
	MessagesPerMinute int           // Max messages per caller per minute
	FilesPerHour      int           // Max attachment uploads per caller per hour
	BurstSize         int           // Allow burst of N requests
	CleanupInterval   time.Duration // How often to clean up old entries
}

// TokenBucket implements a token bucket rate limiter
type TokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
	mu         sync.Mutex
}

// NewTokenBucket creates a new token bucket
func NewTokenBucket(maxTokens float64, refillRate float64) *TokenBucket {
	return &TokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// Allow checks if a request can proceed and consumes a token if so
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()

	tb.tokens = min(tb.maxTokens, tb.tokens+(elapsed*tb.refillRate))
	tb.lastRefill = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}

// Full reports whether the bucket has refilled to capacity.
func (tb *TokenBucket) Full() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	elapsed := tb.now().Sub(tb.lastRefill).Seconds()
	return tb.tokens+(elapsed*tb.refillRate) >= tb.maxTokens
}

// Remaining returns the number of tokens remaining
func (tb *TokenBucket) Remaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	elapsed := tb.now().Sub(tb.lastRefill).Seconds()
	tokens := min(tb.maxTokens, tb.tokens+(elapsed*tb.refillRate))
	return int(tokens)
}

// RateLimiter keeps one bucket per caller key (client id or remote address).
type RateLimiter struct {
	config        RateLimiterConfig
	messageLimits map[string]*TokenBucket
	fileLimits    map[string]*TokenBucket
	mu            sync.Mutex
	logger        *zap.Logger
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

// NewRateLimiter creates a rate limiter and starts its cleanup loop.
func NewRateLimiter(config RateLimiterConfig, logger *zap.Logger) *RateLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 10 * time.Minute
	}
	limiter := &RateLimiter{
		config:        config,
		messageLimits: make(map[string]*TokenBucket),
		fileLimits:    make(map[string]*TokenBucket),
		logger:        logger,
		stopCleanup:   make(chan struct{}),
	}

	go limiter.cleanupRoutine()

	return limiter
}

func (rl *RateLimiter) cleanupRoutine() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup drops buckets that have refilled completely; a returning caller
// starts from a new full bucket.
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	dropped := 0
	for _, buckets := range []map[string]*TokenBucket{rl.messageLimits, rl.fileLimits} {
		for key, bucket := range buckets {
			if bucket.Full() {
				delete(buckets, key)
				dropped++
			}
		}
	}
	if dropped > 0 {
		rl.logger.Debug("Rate limiter buckets released",
			zap.Int("dropped", dropped),
			zap.Int("message_limiters", len(rl.messageLimits)),
			zap.Int("file_limiters", len(rl.fileLimits)))
	}
}

// Forget drops the buckets of key, used when a workspace goes away.
func (rl *RateLimiter) Forget(key string) {
	rl.mu.Lock()
	delete(rl.messageLimits, key)
	delete(rl.fileLimits, key)
	rl.mu.Unlock()
}

// Tracked reports how many callers currently hold buckets.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	seen := make(map[string]struct{}, len(rl.messageLimits)+len(rl.fileLimits))
	for key := range rl.messageLimits {
		seen[key] = struct{}{}
	}
	for key := range rl.fileLimits {
		seen[key] = struct{}{}
	}
	return len(seen)
}

// Stop stops the cleanup routine
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}

// AllowMessage checks if a message can be sent for the given caller
func (rl *RateLimiter) AllowMessage(key string) bool {
	rl.mu.Lock()
	bucket, exists := rl.messageLimits[key]
	if !exists {
		refillRate := float64(rl.config.MessagesPerMinute) / 60.0
		bucket = NewTokenBucket(float64(rl.config.BurstSize), refillRate)
		rl.messageLimits[key] = bucket
	}
	rl.mu.Unlock()

	return bucket.Allow()
}

// AllowFile checks if an attachment upload can proceed for the given caller
func (rl *RateLimiter) AllowFile(key string) bool {
	rl.mu.Lock()
	bucket, exists := rl.fileLimits[key]
	if !exists {
		refillRate := float64(rl.config.FilesPerHour) / 3600.0
		bucket = NewTokenBucket(float64(rl.config.FilesPerHour), refillRate)
		rl.fileLimits[key] = bucket
	}
	rl.mu.Unlock()

	return bucket.Allow()
}

// GetMessageLimit returns remaining message tokens for a caller
func (rl *RateLimiter) GetMessageLimit(key string) (remaining int, limit int) {
	rl.mu.Lock()
	bucket, exists := rl.messageLimits[key]
	rl.mu.Unlock()

	if !exists {
		return rl.config.BurstSize, rl.config.BurstSize
	}
	return bucket.Remaining(), rl.config.BurstSize
}

// callerKey prefers the client cookie id and falls back to the remote address
// for server-to-server calls such as the backend endpoint.
func callerKey(c *gin.Context) string {
	if id := c.GetString(ClientKey); id != "" {
		return id
	}
	return c.ClientIP()
}

// RateLimitMiddleware creates a Gin middleware for rate limiting.
// limitType is "message" or "file".
func RateLimitMiddleware(limiter *RateLimiter, limitType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := callerKey(c)
		var allowed bool
		var remaining, limit int

		switch limitType {
		case "message":
			allowed = limiter.AllowMessage(key)
			remaining, limit = limiter.GetMessageLimit(key)
		case "file":
			allowed = limiter.AllowFile(key)
			// For files, we don't expose remaining (too complex with hourly buckets)
			remaining, limit = limiter.config.FilesPerHour, limiter.config.FilesPerHour
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "unknown limit type"})
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			limiter.logger.Warn("Rate limit exceeded",
				zap.String("caller", key),
				zap.String("limit_type", limitType),
				zap.Int("limit", limit))

			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"limit":       limit,
				"remaining":   remaining,
				"retry_after": 60,
			})
			return
		}

		c.Next()
	}
}
