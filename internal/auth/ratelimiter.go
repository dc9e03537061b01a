package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TenantRateLimiter enforces a per-identity requests-per-minute budget
// independent of the monthly/daily spend budget in internal/budget: this
// caps request rate, not cost. Each UserID gets its own token bucket,
// created lazily on first use and reclaimed after cleanupTTL of inactivity.
type TenantRateLimiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	lastAccess   map[string]time.Time
	defaultRate  rate.Limit
	defaultBurst int
	cleanupTTL   time.Duration
	stop         chan struct{}
}

// TenantRateLimiterConfig mirrors config.RateLimitConfig.
type TenantRateLimiterConfig struct {
	RequestsPerMinute int
	BurstSize         int
	CleanupTTL        time.Duration
}

// NewTenantRateLimiter creates a limiter and starts its cleanup loop. Call
// Close to stop the loop when the limiter is no longer needed.
func NewTenantRateLimiter(cfg TenantRateLimiterConfig) *TenantRateLimiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = cfg.RequestsPerMinute
	}
	if cfg.CleanupTTL <= 0 {
		cfg.CleanupTTL = 10 * time.Minute
	}

	trl := &TenantRateLimiter{
		limiters:     make(map[string]*rate.Limiter),
		lastAccess:   make(map[string]time.Time),
		defaultRate:  rate.Limit(float64(cfg.RequestsPerMinute) / 60.0),
		defaultBurst: cfg.BurstSize,
		cleanupTTL:   cfg.CleanupTTL,
		stop:         make(chan struct{}),
	}
	go trl.cleanupLoop()
	return trl
}

// Allow reports whether userID has budget remaining under its token bucket,
// consuming one token if so.
func (trl *TenantRateLimiter) Allow(userID string) bool {
	return trl.getLimiter(userID).Allow()
}

func (trl *TenantRateLimiter) getLimiter(userID string) *rate.Limiter {
	trl.mu.Lock()
	defer trl.mu.Unlock()

	trl.lastAccess[userID] = time.Now()
	if l, ok := trl.limiters[userID]; ok {
		return l
	}
	l := rate.NewLimiter(trl.defaultRate, trl.defaultBurst)
	trl.limiters[userID] = l
	return l
}

func (trl *TenantRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(trl.cleanupTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			trl.cleanupStale()
		case <-trl.stop:
			return
		}
	}
}

func (trl *TenantRateLimiter) cleanupStale() {
	trl.mu.Lock()
	defer trl.mu.Unlock()
	cutoff := time.Now().Add(-trl.cleanupTTL)
	for id, last := range trl.lastAccess {
		if last.Before(cutoff) {
			delete(trl.limiters, id)
			delete(trl.lastAccess, id)
		}
	}
}

// Close stops the cleanup loop.
func (trl *TenantRateLimiter) Close() {
	close(trl.stop)
}
