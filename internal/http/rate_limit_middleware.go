package httpx

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimiter counts requests per key in fixed windows.
type RateLimiter interface {
	Allow(key string, limit int, window time.Duration) rateDecision
	Close()
}

type rateDecision struct {
	allowed   bool
	count     int
	windowEnd time.Time
}

// rateRule is the per-host budget a route enforces. A zero limit disables it.
type rateRule struct {
	route  string
	limit  int
	window time.Duration
}

type fixedWindow struct {
	count int
	end   time.Time
}

type memoryRateLimiter struct {
	mu        sync.Mutex
	windows   map[string]fixedWindow
	now       func() time.Time
	nextPrune time.Time
}

// NewMemoryRateLimiter returns a process-local limiter. Expired windows are
// pruned on the next Allow after a minute has passed.
func NewMemoryRateLimiter() RateLimiter {
	return &memoryRateLimiter{
		windows: make(map[string]fixedWindow),
		now:     time.Now,
	}
}

func (rl *memoryRateLimiter) Allow(key string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.After(rl.nextPrune) {
		for k, w := range rl.windows {
			if now.After(w.end) {
				delete(rl.windows, k)
			}
		}
		rl.nextPrune = now.Add(time.Minute)
	}

	w, ok := rl.windows[key]
	if !ok || now.After(w.end) {
		w = fixedWindow{end: now.Add(window)}
	}
	if w.count >= limit {
		return rateDecision{count: w.count, windowEnd: w.end}
	}
	w.count++
	rl.windows[key] = w
	return rateDecision{allowed: true, count: w.count, windowEnd: w.end}
}

func (rl *memoryRateLimiter) Close() {}

// withRateLimit answers 429 once the caller's host has spent rule's budget.
// Callers are keyed on the connection's remote address only; forwarding
// headers are client-controlled.
func (r *Router) withRateLimit(rule rateRule, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if rule.limit <= 0 || r.limiter == nil {
			next(w, req)
			return
		}
		decision := r.limiter.Allow(rule.route+"|ip:"+remoteHost(req), rule.limit, rule.window)

		remaining := rule.limit - decision.count
		if remaining < 0 || !decision.allowed {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rule.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !decision.windowEnd.IsZero() {
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
		}

		if !decision.allowed {
			r.recordRateLimitHit(rule.route, "ip")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, req)
	}
}

func remoteHost(req *http.Request) string {
	addr := strings.TrimSpace(req.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if addr == "" {
		return "unknown"
	}
	return addr
}
