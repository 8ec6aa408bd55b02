package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cuemby/ciorch/pkg/config"
	"github.com/cuemby/ciorch/pkg/orcherr"
)

// limiterSet hands out one token-bucket limiter per key (bearer token or
// client IP).
type limiterSet struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

func newLimiterSet(window time.Duration, limit int) *limiterSet {
	perSecond := float64(limit) / window.Seconds()
	return &limiterSet{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(perSecond),
		burst:    limit,
	}
}

func (s *limiterSet) allow(key string) bool {
	s.mu.Lock()
	l, ok := s.limiters[key]
	if !ok {
		l = rate.NewLimiter(s.r, s.burst)
		s.limiters[key] = l
	}
	s.mu.Unlock()
	return l.Allow()
}

// rateLimit builds middleware that throttles authenticated data-endpoint
// traffic by bearer token, falling back to client IP for unauthenticated
// routes such as /api/auth/login (§6).
func rateLimit(set *limiterSet, keyFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if !set.allow(key) {
				w.Header().Set("Retry-After", "60")
				writeError(w, r, orcherr.New(orcherr.KindRateLimited, "rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func byToken(r *http.Request) string {
	if tok := tokenFromContext(r); tok != "" {
		return tok
	}
	return byIP(r)
}

func byIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// newDataLimiter and newAuthLimiter build the two limiter pools named in
// config.RateLimit: a looser one for authenticated data endpoints and a
// stricter per-IP one guarding the login route.
func newDataLimiter(cfg config.RateLimit) *limiterSet {
	return newLimiterSet(cfg.Window, cfg.Limit)
}

func newAuthLimiter(cfg config.RateLimit) *limiterSet {
	return newLimiterSet(cfg.AuthWindow, cfg.AuthLimit)
}
