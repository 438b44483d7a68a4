package httpx

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RouteClass groups endpoints that share a rate budget. Limits are configured
// per class, counted per actor, so a chatty client on one class does not
// starve another.
type RouteClass string

const (
	RouteClassMove       RouteClass = "move"
	RouteClassRead       RouteClass = "read"
	RouteClassInvalidate RouteClass = "invalidate"
	RouteClassExport     RouteClass = "export"
)

// ClassLimit is a fixed-window budget for one route class.
type ClassLimit struct {
	Limit  int
	Window time.Duration
}

// Decision is the structured outcome of a rate check. RetryAfter is only
// meaningful when Allowed is false.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts requests per actor+route-class key.
type Limiter interface {
	Allow(ctx context.Context, actorKey string, class RouteClass) (Decision, error)
}

// MemoryLimiter is a mutex-guarded fixed-window limiter for single-instance
// deployments and tests. Multi-instance deployments should use RedisLimiter.
type MemoryLimiter struct {
	limits map[RouteClass]ClassLimit
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count   int
	resetAt time.Time
}

func NewMemoryLimiter(limits map[RouteClass]ClassLimit) *MemoryLimiter {
	return &MemoryLimiter{
		limits:  limits,
		now:     time.Now,
		windows: map[string]*window{},
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, actorKey string, class RouteClass) (Decision, error) {
	limit, ok := l.limits[class]
	if !ok || limit.Limit <= 0 {
		return Decision{Allowed: true}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := string(class) + ":" + actorKey
	w := l.windows[key]
	if w == nil || !now.Before(w.resetAt) {
		l.windows[key] = &window{count: 1, resetAt: now.Add(limit.Window)}
		return Decision{Allowed: true, Remaining: limit.Limit - 1}, nil
	}

	if w.count >= limit.Limit {
		return Decision{Allowed: false, RetryAfter: w.resetAt.Sub(now)}, nil
	}
	w.count++
	return Decision{Allowed: true, Remaining: limit.Limit - w.count}, nil
}

// WithRateLimit enforces the given route class on every request passing
// through. Actor identity comes from X-Actor-Id with a client-IP fallback.
// Limiter backend errors fail open: day-to-day board traffic must not stop
// because the counter store is down.
func WithRateLimit(limiter Limiter, class RouteClass, logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, err := limiter.Allow(r.Context(), actorKey(r), class)
			if err != nil {
				if logger != nil {
					logger.Warn("rate limiter unavailable, failing open", "err", err, "class", string(class))
				}
				next.ServeHTTP(w, r)
				return
			}
			if !decision.Allowed {
				secs := int(math.Ceil(decision.RetryAfter.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"code":        "rate_limited",
					"retry_after": secs,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func actorKey(r *http.Request) string {
	if actor := strings.TrimSpace(r.Header.Get("X-Actor-Id")); actor != "" {
		return actor
	}
	return clientKey(r)
}

func clientKey(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		parts := strings.Split(ip, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
