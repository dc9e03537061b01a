package auth

import (
	"testing"
	"time"
)

func TestTenantRateLimiter_AllowsWithinBurst(t *testing.T) {
	trl := NewTenantRateLimiter(TenantRateLimiterConfig{RequestsPerMinute: 60, BurstSize: 3})
	defer trl.Close()

	for i := 0; i < 3; i++ {
		if !trl.Allow("user-1") {
			t.Fatalf("request %d should be allowed within burst", i)
		}
	}
	if trl.Allow("user-1") {
		t.Error("request beyond burst should be denied")
	}
}

func TestTenantRateLimiter_IsolatesByUser(t *testing.T) {
	trl := NewTenantRateLimiter(TenantRateLimiterConfig{RequestsPerMinute: 60, BurstSize: 1})
	defer trl.Close()

	if !trl.Allow("user-1") {
		t.Fatal("user-1's first request should be allowed")
	}
	if trl.Allow("user-1") {
		t.Error("user-1's second request should be denied")
	}
	if !trl.Allow("user-2") {
		t.Error("user-2 should have its own independent bucket")
	}
}

func TestTenantRateLimiter_DefaultsAppliedForZeroConfig(t *testing.T) {
	trl := NewTenantRateLimiter(TenantRateLimiterConfig{})
	defer trl.Close()

	if !trl.Allow("user-1") {
		t.Error("a limiter built from zero-value config should still allow an initial request")
	}
}

func TestTenantRateLimiter_CleanupRemovesStaleEntries(t *testing.T) {
	trl := NewTenantRateLimiter(TenantRateLimiterConfig{RequestsPerMinute: 60, BurstSize: 1, CleanupTTL: 20 * time.Millisecond})
	defer trl.Close()

	trl.Allow("user-1")
	time.Sleep(80 * time.Millisecond)

	trl.mu.Lock()
	_, tracked := trl.limiters["user-1"]
	trl.mu.Unlock()
	if tracked {
		t.Error("stale limiter should have been reclaimed by the cleanup loop")
	}
}
