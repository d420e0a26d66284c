package server

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/palemoky/bad-cards/internal/config"
)

func newLimiter(t *testing.T, perSecond, perMinute, banSeconds int) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(config.RateLimitConfig{MaxPerSecond: perSecond, MaxPerMinute: perMinute, BanDuration: banSeconds})
	t.Cleanup(rl.Stop)
	return rl
}

func TestRateLimiter_Allow(t *testing.T) {
	t.Parallel()

	rl := newLimiter(t, 5, 10, 1)
	ip := "127.0.0.1"

	for i := range 5 {
		assert.True(t, rl.Allow(ip), "Request %d should be allowed", i)
	}

	assert.False(t, rl.Allow(ip), "6th request should be blocked")
	assert.True(t, rl.IsBanned(ip))
	assert.False(t, rl.IsBanned("10.0.0.9"))
}

func TestRateLimiter_BanExpires(t *testing.T) {
	t.Parallel()

	rl := newLimiter(t, 2, 50, 2)
	now := time.Now()
	rl.now = func() time.Time { return now }
	ip := "192.168.1.1"

	assert.True(t, rl.Allow(ip))
	assert.True(t, rl.Allow(ip))
	assert.False(t, rl.Allow(ip))
	assert.True(t, rl.IsBanned(ip))

	now = now.Add(2100 * time.Millisecond)
	assert.False(t, rl.IsBanned(ip))
	assert.True(t, rl.Allow(ip))
}

func TestRateLimiter_MinuteLimit(t *testing.T) {
	t.Parallel()

	rl := newLimiter(t, 100, 5, 1)
	ip := "10.0.0.1"

	for range 5 {
		assert.True(t, rl.Allow(ip))
	}
	assert.False(t, rl.Allow(ip))
}

func TestRateLimiter_EvictsIdle(t *testing.T) {
	t.Parallel()

	rl := newLimiter(t, 10, 10, 1)
	now := time.Now()
	rl.now = func() time.Time { return now }
	rl.Allow("10.0.0.1")

	now = now.Add(11 * time.Minute)
	rl.evictIdle()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Empty(t, rl.requests)
}

func TestRateLimiter_Concurrency(t *testing.T) {
	t.Parallel()

	rl := newLimiter(t, 100, 200, 1)
	var wg sync.WaitGroup
	var mu sync.Mutex
	successCount := 0

	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.Allow("concurrent-test") {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, successCount)
}

func TestClientIP_ProxyHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		expectedIP string
	}{
		{"Direct connection", "192.168.1.1:12345", nil, "192.168.1.1"},
		{"X-Forwarded-For single IP", "10.0.0.1:12345", map[string]string{"X-Forwarded-For": "203.0.113.1"}, "203.0.113.1"},
		{"X-Forwarded-For multiple IPs", "10.0.0.1:12345", map[string]string{"X-Forwarded-For": "203.0.113.1, 10.0.0.2, 10.0.0.3"}, "203.0.113.1"},
		{"X-Real-IP", "10.0.0.1:12345", map[string]string{"X-Real-IP": "203.0.113.2"}, "203.0.113.2"},
		{"X-Forwarded-For wins over X-Real-IP", "10.0.0.1:12345", map[string]string{"X-Forwarded-For": "203.0.113.3", "X-Real-IP": "203.0.113.4"}, "203.0.113.3"},
		{"Malformed remote addr", "unix-socket", nil, "unix-socket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req, _ := http.NewRequest(http.MethodGet, "/", http.NoBody)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expectedIP, ClientIP(req))
		})
	}
}

func TestMessageRateLimiter(t *testing.T) {
	t.Parallel()

	ml := NewMessageRateLimiter(5)
	connID := "conn-1"

	for i := range 5 {
		allowed, warning := ml.AllowMessage(connID)
		assert.True(t, allowed)
		// 阈值为 5/2=2，第 3 条起提醒
		assert.Equal(t, i >= 2, warning, "message %d", i)
	}

	allowed, warning := ml.AllowMessage(connID)
	assert.False(t, allowed)
	assert.True(t, warning)
	assert.Equal(t, 1, ml.Warnings(connID))
}

func TestMessageRateLimiter_WindowResetKeepsWarnings(t *testing.T) {
	t.Parallel()

	ml := NewMessageRateLimiter(1)
	now := time.Now()
	ml.now = func() time.Time { return now }

	ml.AllowMessage("c")
	allowed, _ := ml.AllowMessage("c")
	assert.False(t, allowed)

	now = now.Add(time.Second)
	allowed, warning := ml.AllowMessage("c")
	assert.True(t, allowed)
	assert.False(t, warning)
	assert.Equal(t, 1, ml.Warnings("c"))

	ml.Remove("c")
	assert.Zero(t, ml.Warnings("c"))
}

func TestOriginChecker_AllowAll(t *testing.T) {
	t.Parallel()

	req, _ := http.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("Origin", "https://evil.com")

	assert.True(t, NewOriginChecker([]string{"*"}).Check(req))
	assert.True(t, NewOriginChecker(nil).Check(req))
}

func TestOriginChecker_SpecificOrigins(t *testing.T) {
	t.Parallel()

	oc := NewOriginChecker([]string{"https://example.com", "https://App.example.com"})

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"https://example.com", true},
		{"https://app.example.com", true},
		{"https://evil.com", false},
		{"http://example.com", false},
		{"", true},
	}

	for _, tt := range tests {
		req, _ := http.NewRequest(http.MethodGet, "/", http.NoBody)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.allowed, oc.Check(req), "Origin: %s", tt.origin)
	}
}
