package gateway

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestLimiter(limit int) (*RateLimiter, *time.Time) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(limit)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestRateLimiter_Allow(t *testing.T) {
	rl, _ := newTestLimiter(5)
	defer rl.Stop()

	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow("192.168.1.1"), "request %d should be allowed", i+1)
	}
	assert.False(t, rl.Allow("192.168.1.1"))
	assert.True(t, rl.Allow("192.168.1.2"), "limits are per IP")
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	rl, now := newTestLimiter(2)
	defer rl.Stop()

	assert.True(t, rl.Allow("ip"))
	*now = now.Add(30 * time.Second)
	assert.True(t, rl.Allow("ip"))
	assert.False(t, rl.Allow("ip"))
	assert.Equal(t, 30, rl.RetryAfter("ip"))

	*now = now.Add(30 * time.Second)
	assert.True(t, rl.Allow("ip"), "oldest request left the window")
	assert.False(t, rl.Allow("ip"))
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl, _ := newTestLimiter(0)
	defer rl.Stop()

	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow("ip"))
	}
	assert.Equal(t, 0, rl.RetryAfter("ip"))
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl, now := newTestLimiter(3)
	defer rl.Stop()

	rl.Allow("a")
	rl.Allow("b")
	*now = now.Add(2 * time.Minute)
	rl.Allow("b")

	rl.cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.NotContains(t, rl.limits, "a")
	assert.Len(t, rl.limits["b"], 1)
}

func TestRateLimiter_StopTwice(t *testing.T) {
	rl := NewRateLimiter(1)
	rl.Stop()
	rl.Stop()
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", clientIP(r))

	r.Header.Set("X-Real-IP", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", clientIP(r))

	r.Header.Set("X-Forwarded-For", "10.0.0.3, 10.0.0.4")
	assert.Equal(t, "10.0.0.3", clientIP(r))
}
