package limiter

import (
	"sync"
	"time"

	"github.com/Shugur-Network/publisher/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimit defines the limits applied to every key
type RateLimit struct {
	PerSecond    float64       // Sustained requests per second
	BurstSize    int           // Maximum burst size allowed
	BanThreshold int           // Number of violations before banning
	BanDuration  time.Duration // Duration of the ban
}

// Counter tracks rate limiting state for a specific key
type Counter struct {
	limiter     *rate.Limiter
	banCount    int       // Violations since the last ban expired
	lastBanTime time.Time // Last time a ban was issued
	lastSeen    time.Time
}

// RateLimiter keeps one token bucket per key, typically a client IP.
type RateLimiter struct {
	limit  RateLimit
	counts map[string]*Counter
	mutex  sync.Mutex
	now    func() time.Time
}

// NewRateLimiter creates a rate limiter applying limit to every key
func NewRateLimiter(limit RateLimit) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		counts: make(map[string]*Counter),
		now:    time.Now,
	}
}

// Allow reports whether one more request from key fits its budget.
func (rl *RateLimiter) Allow(key string) bool {
	// Skip rate limiting for empty keys (in-process callers)
	if key == "" {
		return true
	}

	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	counter, exists := rl.counts[key]
	if !exists {
		counter = &Counter{
			limiter: rate.NewLimiter(rate.Limit(rl.limit.PerSecond), rl.limit.BurstSize),
		}
		rl.counts[key] = counter
	}
	counter.lastSeen = now

	if rl.limit.BanThreshold > 0 && counter.banCount >= rl.limit.BanThreshold {
		if now.Sub(counter.lastBanTime) <= rl.limit.BanDuration {
			return false
		}
		counter.banCount = 0
	}

	if counter.limiter.AllowN(now, 1) {
		return true
	}

	counter.banCount++
	counter.lastBanTime = now
	if rl.limit.BanThreshold > 0 && counter.banCount == rl.limit.BanThreshold {
		logger.Warn("Rate limit exceeded, client banned",
			zap.String("key", key),
			zap.Duration("ban_duration", rl.limit.BanDuration))
	} else {
		logger.Debug("Rate limit exceeded",
			zap.String("key", key),
			zap.Int("ban_count", counter.banCount))
	}
	return false
}

// Reset forgets all state for key
func (rl *RateLimiter) Reset(key string) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	delete(rl.counts, key)
}

// Len returns the number of tracked keys
func (rl *RateLimiter) Len() int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	return len(rl.counts)
}

// Cleanup removes counters idle for longer than maxIdle
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	for key, counter := range rl.counts {
		if now.Sub(counter.lastSeen) > maxIdle {
			delete(rl.counts, key)
		}
	}
}
