package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/users", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	req.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")

	assert.Equal(t, "203.0.113.7", clientIP(req, false), "header must be ignored without a trusted proxy")
	assert.Equal(t, "198.51.100.1", clientIP(req, true))

	req.Header.Del("X-Forwarded-For")
	assert.Equal(t, "203.0.113.7", clientIP(req, true))
}

func TestSpoofedForwardedForSharesBudget(t *testing.T) {
	rl := NewRateLimiter(1, 1, false)
	handler := RateLimitMiddleware(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for _, spoofed := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"} {
		req := httptest.NewRequest(http.MethodPost, "/api/users", nil)
		req.RemoteAddr = "203.0.113.7:5555"
		req.Header.Set("X-Forwarded-For", spoofed)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
	assert.Equal(t, 1, rl.size())
}

func TestIdleLimitersExpire(t *testing.T) {
	now := time.Date(2024, 3, 13, 9, 30, 0, 0, time.UTC)
	rl := NewRateLimiter(10, 10, false)
	rl.now = func() time.Time { return now }
	rl.lastSweep = now

	rl.allow("203.0.113.7")
	rl.allow("198.51.100.1")
	assert.Equal(t, 2, rl.size())

	now = now.Add(DefaultLimiterIdleTTL / 2)
	rl.allow("198.51.100.1")

	now = now.Add(DefaultLimiterIdleTTL / 2)
	rl.allow("192.0.2.1")
	assert.Equal(t, 2, rl.size(), "only the idle client is dropped")

	rl.mu.Lock()
	_, kept := rl.limiters["198.51.100.1"]
	_, dropped := rl.limiters["203.0.113.7"]
	rl.mu.Unlock()
	assert.True(t, kept)
	assert.False(t, dropped)
}
