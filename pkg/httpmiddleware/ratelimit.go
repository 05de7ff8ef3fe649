package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Counter counts hits per key within fixed windows. Incr adds one hit to
// the window starting at windowStart and returns the total for that window.
type Counter interface {
	Incr(ctx context.Context, key string, windowStart time.Time, window time.Duration) (int64, error)
}

// RateLimitConfig configures RateLimit.
type RateLimitConfig struct {
	// Max is the number of requests allowed per key and window.
	Max int
	// Window is the fixed window length.
	Window time.Duration
	// Counter stores the hit counts. Defaults to an in-process MemoryCounter.
	Counter Counter
	// KeyFunc extracts the limit key. Defaults to ClientIP.
	KeyFunc func(*http.Request) string

	now func() time.Time
}

// RateLimit rejects requests beyond Max per key and window with 429. When
// the counter fails the request is let through and the failure logged.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.Counter == nil {
		cfg.Counter = NewMemoryCounter()
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := cfg.now()
			start := now.Truncate(cfg.Window)
			resetAt := start.Add(cfg.Window)

			hits, err := cfg.Counter.Incr(r.Context(), cfg.KeyFunc(r), start, cfg.Window)
			if err != nil {
				zctx.From(r.Context()).Warn("Rate limit counter failed, allowing request", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			remaining := max(int64(cfg.Max)-hits, 0)
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if hits > int64(cfg.Max) {
				wait := math.Ceil(resetAt.Sub(now).Seconds())
				h.Set("Retry-After", strconv.Itoa(int(max(wait, 0))))
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MemoryCounter is a Counter for a single process. Entries from past windows
// are dropped lazily.
type MemoryCounter struct {
	mu      sync.Mutex
	entries map[string]*windowCount
}

type windowCount struct {
	start time.Time
	hits  int64
}

// NewMemoryCounter returns an empty MemoryCounter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{entries: make(map[string]*windowCount)}
}

func (m *MemoryCounter) Incr(_ context.Context, key string, windowStart time.Time, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || !e.start.Equal(windowStart) {
		e = &windowCount{start: windowStart}
		m.entries[key] = e
		m.sweep(windowStart)
	}
	e.hits++
	return e.hits, nil
}

// sweep removes entries from windows before current. Called with mu held.
func (m *MemoryCounter) sweep(current time.Time) {
	for key, e := range m.entries {
		if e.start.Before(current) {
			delete(m.entries, key)
		}
	}
}

// ClientIP returns the first X-Forwarded-For address, then X-Real-IP, then
// the host of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
