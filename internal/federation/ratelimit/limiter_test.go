package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_AdmitsUnderLimit(t *testing.T) {
	l := New(3, time.Minute)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("b.example").Allowed)
	}
	assert.False(t, l.Allow("b.example").Allowed)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := New(1, time.Minute)

	assert.True(t, l.Allow("b.example").Allowed)
	assert.False(t, l.Allow("b.example").Allowed)
	assert.True(t, l.Allow("c.example").Allowed)
}

func TestLimiter_WindowSlides(t *testing.T) {
	now := time.Now()
	l := New(2, time.Minute, WithClock(func() time.Time { return now }))

	assert.True(t, l.Allow("b.example").Allowed)
	assert.True(t, l.Allow("b.example").Allowed)
	assert.False(t, l.Allow("b.example").Allowed)

	// The first admission expires; one slot frees up, not both.
	now = now.Add(61 * time.Second)
	assert.True(t, l.Allow("b.example").Allowed)
}

func TestLimiter_Reset(t *testing.T) {
	l := New(1, time.Minute)
	assert.True(t, l.Allow("b.example").Allowed)
	l.Reset("b.example")
	assert.True(t, l.Allow("b.example").Allowed)
}

func TestMiddleware_RejectsWith429(t *testing.T) {
	l := New(1, time.Minute)
	handler := Middleware(l, ByClientIP)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/inbox", nil)
	req.RemoteAddr = "203.0.113.7:44321"

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestByClientIP_PrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/inbox", nil)
	req.RemoteAddr = "10.0.0.1:9999"
	req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")

	assert.Equal(t, "198.51.100.4", ByClientIP(req))
}
