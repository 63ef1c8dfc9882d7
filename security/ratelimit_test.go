package security

import (
	"fmt"
	"testing"
	"time"
)

func TestRateLimiter_Burst(t *testing.T) {
	rl := NewRateLimiter(1, 3, nil)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		if !rl.Allow("192.0.2.1") {
			t.Fatalf("request %d should be allowed within burst", i+1)
		}
	}
	if rl.Allow("192.0.2.1") {
		t.Error("request beyond burst should be denied")
	}
	if !rl.Allow("192.0.2.2") {
		t.Error("other identifier should have its own bucket")
	}
}

func TestRateLimiter_LRUEviction(t *testing.T) {
	rl := NewRateLimiterWithConfig(1, 1, 3, nil)
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		rl.Allow(fmt.Sprintf("id-%d", i))
	}
	if got := rl.Len(); got != 3 {
		t.Errorf("Len() = %d, want 3", got)
	}

	// id-0 was evicted, so it gets a fresh bucket.
	if !rl.Allow("id-0") {
		t.Error("evicted identifier should start with a full bucket")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(10, 10, nil)
	defer rl.Stop()

	rl.Allow("a")
	rl.Allow("b")

	rl.Cleanup(time.Hour)
	if got := rl.Len(); got != 2 {
		t.Errorf("Len() after Cleanup(1h) = %d, want 2", got)
	}

	time.Sleep(5 * time.Millisecond)
	rl.Cleanup(time.Millisecond)
	if got := rl.Len(); got != 0 {
		t.Errorf("Len() after Cleanup(1ms) = %d, want 0", got)
	}
}

func TestRateLimiter_StopIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, 1, nil)
	rl.Stop()
	rl.Stop()
}
