package platform

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// EdgeRateLimiter applies a sliding-window-ish per-client budget at the edge.
// It is deliberately outside the scheduling path: admission here has nothing
// to do with per-project quota (quota.Meter); it only protects the HTTP
// surface from being hammered by a single client.
type EdgeRateLimiter struct {
	perMinute int
	mu        sync.Mutex
	clients   map[string]*rate.Limiter
}

// NewEdgeRateLimiter builds a limiter allowing perMinute requests/minute/IP,
// bursting up to perMinute itself.
func NewEdgeRateLimiter(perMinute int) *EdgeRateLimiter {
	return &EdgeRateLimiter{
		perMinute: perMinute,
		clients:   make(map[string]*rate.Limiter),
	}
}

func (l *EdgeRateLimiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.clients[key]
	if !ok {
		perSecond := float64(l.perMinute) / 60.0
		lim = rate.NewLimiter(rate.Limit(perSecond), l.perMinute)
		l.clients[key] = lim
	}
	return lim
}

// Remaining reports the approximate number of tokens left for key, used to
// populate X-RateLimit-Remaining.
func (l *EdgeRateLimiter) Remaining(key string) int {
	lim := l.limiterFor(key)
	return int(lim.Tokens())
}

// Middleware enforces the per-client budget, keyed by remote address, and
// responds 429 with the remaining-budget header when exceeded.
func (l *EdgeRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l == nil || l.perMinute <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		key := clientKey(r)
		lim := l.limiterFor(key)
		if !lim.AllowN(time.Now(), 1) {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprintln(w, `{"error":"rate limit exceeded"}`)
			return
		}
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", int(lim.Tokens())))
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
