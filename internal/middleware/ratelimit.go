package middleware

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/imaginethisprinted/aistudio/internal/api"
)

// window counts the model runs one client started in the current period.
type window struct {
	count int
	until time.Time
}

// limiter is a fixed window counter per client IP. Expired windows are swept
// once the map grows past sweepAt so idle clients do not pile up.
type limiter struct {
	mu      sync.Mutex
	limit   int
	per     time.Duration
	now     func() time.Time
	windows map[string]*window
	sweepAt int
}

func newLimiter(limit int, per time.Duration) *limiter {
	return &limiter{
		limit:   limit,
		per:     per,
		now:     time.Now,
		windows: make(map[string]*window),
		sweepAt: 1024,
	}
}

// take records one request for ip. It returns the remaining allowance, or
// ok=false and the time until the window resets.
func (l *limiter) take(ip string) (remaining int, retry time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if len(l.windows) >= l.sweepAt {
		l.sweep(now)
	}
	w, found := l.windows[ip]
	if !found || !now.Before(w.until) {
		w = &window{until: now.Add(l.per)}
		l.windows[ip] = w
	}
	if w.count >= l.limit {
		return 0, w.until.Sub(now), false
	}
	w.count++
	return l.limit - w.count, 0, true
}

func (l *limiter) sweep(now time.Time) {
	for ip, w := range l.windows {
		if !now.Before(w.until) {
			delete(l.windows, ip)
		}
	}
	if len(l.windows) >= l.sweepAt {
		l.sweepAt = 2 * len(l.windows)
	}
}

// RateLimit allows limit paid generation requests per client IP in each
// window of length per.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	return newLimiter(limit, per).middleware
}

func (l *limiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remaining, retry, ok := l.take(clientIP(r))
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(api.ErrorResponse{
				Error:   "rate_limited",
				Message: "too many generation requests, retry later",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP prefers the first valid X-Forwarded-For entry, then the remote host.
func clientIP(r *http.Request) string {
	for _, part := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if ip := net.ParseIP(strings.TrimSpace(part)); ip != nil {
			return ip.String()
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && net.ParseIP(host) != nil {
		return host
	}
	return r.RemoteAddr
}
