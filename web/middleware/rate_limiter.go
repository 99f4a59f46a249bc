package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RateLimiterConfig holds per-session rate limits.
type RateLimiterConfig struct {
	MessagesPerMinute int
	FilesPerHour      int
	BurstSize         int
	CleanupInterval   time.Duration
}

// tokenBucket is a classic token bucket: capacity tokens, refilled at a
// constant rate, one token per request.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(maxTokens, refillRate float64) *tokenBucket {
	return &tokenBucket{
		tokens:     maxTokens,
		maxTokens:  maxTokens,
		refillRate: refillRate,
		lastRefill: time.Now(),
	}
}

func (tb *tokenBucket) allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.tokens = min(tb.maxTokens, tb.tokens+(elapsed*tb.refillRate))
	tb.lastRefill = now

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}

func (tb *tokenBucket) remaining() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	elapsed := time.Since(tb.lastRefill).Seconds()
	return int(min(tb.maxTokens, tb.tokens+(elapsed*tb.refillRate)))
}

// Limit kinds. Message sends and file uploads draw from separate buckets.
const (
	LimitMessage = "message"
	LimitFile    = "file"
)

// SessionRateLimiter keeps one bucket per (kind, session) pair.
type SessionRateLimiter struct {
	config      RateLimiterConfig
	mu          sync.Mutex
	buckets     map[string]*tokenBucket
	logger      *zap.Logger
	stopCleanup chan struct{}
}

func NewSessionRateLimiter(config RateLimiterConfig, logger *zap.Logger) *SessionRateLimiter {
	limiter := &SessionRateLimiter{
		config:      config,
		buckets:     make(map[string]*tokenBucket),
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}
	go limiter.cleanupRoutine()
	return limiter
}

func (srl *SessionRateLimiter) cleanupRoutine() {
	interval := srl.config.CleanupInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			srl.cleanup()
		case <-srl.stopCleanup:
			return
		}
	}
}

// cleanup drops the whole bucket map once it grows large. Buckets are cheap
// to rebuild and sessions expire independently, so precision isn't needed.
func (srl *SessionRateLimiter) cleanup() {
	srl.mu.Lock()
	defer srl.mu.Unlock()
	if len(srl.buckets) > 1000 {
		srl.logger.Info("Cleaning up rate limiter cache", zap.Int("buckets", len(srl.buckets)))
		srl.buckets = make(map[string]*tokenBucket)
	}
}

func (srl *SessionRateLimiter) Stop() {
	close(srl.stopCleanup)
}

func (srl *SessionRateLimiter) bucketFor(kind string, sessionID uuid.UUID) *tokenBucket {
	key := kind + ":" + sessionID.String()

	srl.mu.Lock()
	defer srl.mu.Unlock()
	bucket, ok := srl.buckets[key]
	if !ok {
		switch kind {
		case LimitFile:
			bucket = newTokenBucket(float64(srl.config.FilesPerHour), float64(srl.config.FilesPerHour)/3600.0)
		default:
			bucket = newTokenBucket(float64(srl.config.BurstSize), float64(srl.config.MessagesPerMinute)/60.0)
		}
		srl.buckets[key] = bucket
	}
	return bucket
}

// Allow consumes one token from the session's bucket for the given kind.
func (srl *SessionRateLimiter) Allow(kind string, sessionID uuid.UUID) bool {
	return srl.bucketFor(kind, sessionID).allow()
}

// Limits returns (remaining, limit) for rate limit headers.
func (srl *SessionRateLimiter) Limits(kind string, sessionID uuid.UUID) (int, int) {
	limit := srl.config.BurstSize
	if kind == LimitFile {
		limit = srl.config.FilesPerHour
	}
	return srl.bucketFor(kind, sessionID).remaining(), limit
}

// RateLimitMiddleware enforces the given limit kind on the route. Requests
// without a session pass through: the first send has no session yet, and a
// brand-new session has a full bucket anyway.
func RateLimitMiddleware(limiter *SessionRateLimiter, kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID, ok := SessionID(c)
		if !ok {
			c.Next()
			return
		}

		allowed := limiter.Allow(kind, sessionID)
		remaining, limit := limiter.Limits(kind, sessionID)
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			logger, _ := c.Get("logger")
			if zapLogger, _ := logger.(*zap.Logger); zapLogger != nil {
				zapLogger.Warn("Rate limit exceeded",
					zap.String("session_id", sessionID.String()),
					zap.String("limit_type", kind),
					zap.Int("limit", limit))
			}
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
