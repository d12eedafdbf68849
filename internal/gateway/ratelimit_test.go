package gateway

import "testing"

func TestRateLimiterDisabledWhenZero(t *testing.T) {
	rl := NewRateLimiter(0, 5)
	if rl.Enabled() {
		t.Error("rpm=0 should disable limiting")
	}
	for i := 0; i < 100; i++ {
		if !rl.Allow() {
			t.Fatal("disabled limiter must always allow")
		}
	}
}

func TestRateLimiterBurstThenThrottle(t *testing.T) {
	rl := NewRateLimiter(60, 3)
	if !rl.Enabled() {
		t.Fatal("rpm=60 should enable limiting")
	}

	allowed := 0
	for i := 0; i < 10; i++ {
		if rl.Allow() {
			allowed++
		}
	}
	if allowed < 3 || allowed > 4 {
		t.Errorf("allowed %d requests in burst, want about 3", allowed)
	}
}
