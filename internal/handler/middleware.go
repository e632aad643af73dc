package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

// Logger writes one structured access log line per request.
func Logger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// RateLimiter keeps one token bucket per key and forgets keys that have been
// idle for longer than the idle TTL.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows rps requests per second per key with bursts of burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{
		entries: make(map[string]*limiterEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: 15 * time.Minute,
		now:     time.Now,
	}
}

// Allow reports whether a request for key may proceed now.
func (l *RateLimiter) Allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	ent, ok := l.entries[key]
	if !ok {
		ent = &limiterEntry{lim: rate.NewLimiter(l.rps, l.burst)}
		l.entries[key] = ent
	}
	ent.lastSeen = now
	l.mu.Unlock()

	return ent.lim.AllowN(now, 1)
}

// Cleanup drops keys idle for longer than the idle TTL.
func (l *RateLimiter) Cleanup() {
	cutoff := l.now().Add(-l.idleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()
	for k, ent := range l.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(l.entries, k)
		}
	}
}

// Run calls Cleanup every interval until ctx is done.
func (l *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Cleanup()
		}
	}
}

// Middleware rejects requests over the limit with 429. key picks the bucket
// for a request.
func (l *RateLimiter) Middleware(key func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(key(r)) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
