package httpmiddleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func hit(h http.Handler, remoteAddr string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/coupons/c1/apply", nil)
	req.RemoteAddr = remoteAddr
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 30, 0, time.UTC)
	cfg := RateLimitConfig{Max: 2, Window: time.Minute, now: func() time.Time { return now }}
	h := RateLimit(cfg)(okHandler())

	w := hit(h, "10.0.0.1:9999", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1749988860", w.Header().Get("X-RateLimit-Reset"))

	require.Equal(t, http.StatusOK, hit(h, "10.0.0.1:9999", nil).Code)

	w = hit(h, "10.0.0.1:9999", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"code":429,"message":"rate limit exceeded"}`, w.Body.String())

	// Other clients have their own budget.
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.2:9999", nil).Code)

	// The next window starts fresh.
	now = now.Add(time.Minute)
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:9999", nil).Code)
}

type brokenCounter struct{}

func (brokenCounter) Incr(context.Context, string, time.Time, time.Duration) (int64, error) {
	return 0, errors.New("redis down")
}

func TestRateLimit_FailsOpen(t *testing.T) {
	h := RateLimit(RateLimitConfig{Max: 1, Window: time.Minute, Counter: brokenCounter{}})(okHandler())

	for range 3 {
		w := hit(h, "10.0.0.1:1", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestMemoryCounter_DropsPastWindows(t *testing.T) {
	c := NewMemoryCounter()
	ctx := context.Background()
	w1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	w2 := w1.Add(time.Minute)

	n, err := c.Incr(ctx, "a", w1, time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	n, _ = c.Incr(ctx, "a", w1, time.Minute)
	assert.EqualValues(t, 2, n)

	n, _ = c.Incr(ctx, "b", w2, time.Minute)
	assert.EqualValues(t, 1, n)
	assert.NotContains(t, c.entries, "a")

	n, _ = c.Incr(ctx, "a", w2, time.Minute)
	assert.EqualValues(t, 1, n)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		header map[string]string
		want   string
	}{
		{name: "remote addr", remote: "192.168.1.1:1234", want: "192.168.1.1"},
		{name: "remote addr without port", remote: "192.168.1.1", want: "192.168.1.1"},
		{name: "forwarded for", remote: "10.0.0.1:1", header: map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, want: "203.0.113.5"},
		{name: "real ip", remote: "10.0.0.1:1", header: map[string]string{"X-Real-IP": "198.51.100.7"}, want: "198.51.100.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}
