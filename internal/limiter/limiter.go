package limiter

import (
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Limit defines the budget applied to every key.
type Limit struct {
	PerSecond    float64       // Sustained rate
	BurstSize    int           // Tokens available at once
	BanThreshold int           // Rejections before the key is banned
	BanDuration  time.Duration // How long a ban lasts
}

type counter struct {
	limiter     *rate.Limiter
	violations  int
	bannedUntil time.Time
	lastSeen    time.Time
}

// RateLimiter keeps one token bucket per key (a client address for upgrade
// requests). Keys that keep exceeding the budget are banned for BanDuration.
type RateLimiter struct {
	limit  Limit
	counts map[string]*counter
	mutex  sync.Mutex
	log    *zap.Logger
	now    func() time.Time
}

// NewRateLimiter creates a limiter applying limit to every key.
func NewRateLimiter(limit Limit, log *zap.Logger) *RateLimiter {
	if limit.BurstSize < 1 {
		limit.BurstSize = 1
	}
	return &RateLimiter{
		limit:  limit,
		counts: make(map[string]*counter),
		log:    log,
		now:    time.Now,
	}
}

// Allow reports whether key may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	// Skip rate limiting for empty keys
	if key == "" {
		return true
	}

	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	c, exists := rl.counts[key]
	if !exists {
		c = &counter{limiter: rate.NewLimiter(rate.Limit(rl.limit.PerSecond), rl.limit.BurstSize)}
		rl.counts[key] = c
	}
	c.lastSeen = now

	if now.Before(c.bannedUntil) {
		return false
	}

	if c.limiter.AllowN(now, 1) {
		c.violations = 0
		return true
	}

	c.violations++
	if rl.limit.BanThreshold > 0 && c.violations >= rl.limit.BanThreshold {
		c.bannedUntil = now.Add(rl.limit.BanDuration)
		c.violations = 0
		rl.log.Warn("Rate limit exceeded, client banned",
			zap.String("key", key),
			zap.Duration("ban_duration", rl.limit.BanDuration))
		return false
	}

	rl.log.Debug("Rate limit exceeded", zap.String("key", key), zap.Int("violations", c.violations))
	return false
}

// Banned reports whether key is currently banned.
func (rl *RateLimiter) Banned(key string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	c, ok := rl.counts[key]
	return ok && rl.now().Before(c.bannedUntil)
}

// Reset forgets all state for key.
func (rl *RateLimiter) Reset(key string) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	delete(rl.counts, key)
}

// Cleanup removes keys unseen for idle that are not banned.
func (rl *RateLimiter) Cleanup(idle time.Duration) int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	removed := 0
	for key, c := range rl.counts {
		if now.Sub(c.lastSeen) > idle && !now.Before(c.bannedUntil) {
			delete(rl.counts, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	return len(rl.counts)
}
