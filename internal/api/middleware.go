package api

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/emperorhan/treasury-sync/internal/metrics"
)

const (
	staleLimiterTTL = 10 * time.Minute
	cleanupInterval = time.Minute
)

type limitRule struct {
	method string // empty matches any method
	prefix string
	suffix string
	rps    rate.Limit
	burst  int
}

func (r limitRule) key() string {
	return r.method + ":" + r.prefix + "*" + r.suffix
}

func (r limitRule) matches(method, path string) bool {
	if r.method != "" && !strings.EqualFold(r.method, method) {
		return false
	}
	return strings.HasPrefix(path, r.prefix) && strings.HasSuffix(path, r.suffix)
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware limits requests per client IP and per route class.
// Refreshes and event queries reach the node, so they get tighter budgets
// than cached reads.
type RateLimitMiddleware struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rules    []limitRule
	exempt   map[string]bool
	clock    clock.Clock
	logger   *slog.Logger
	stopOnce sync.Once
	stopCh   chan struct{}
}

type RateLimitOption func(*RateLimitMiddleware)

func WithRateLimitClock(c clock.Clock) RateLimitOption {
	return func(rl *RateLimitMiddleware) { rl.clock = c }
}

// WithReadLimit overrides the budget of GET requests.
func WithReadLimit(rps float64, burst int) RateLimitOption {
	return func(rl *RateLimitMiddleware) {
		for i := range rl.rules {
			if rl.rules[i].method == http.MethodGet {
				rl.rules[i].rps = rate.Limit(rps)
				rl.rules[i].burst = burst
			}
		}
	}
}

// NewRateLimitMiddleware starts a sweeper goroutine that drops idle
// limiters; Stop releases it.
func NewRateLimitMiddleware(logger *slog.Logger, opts ...RateLimitOption) *RateLimitMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	rl := &RateLimitMiddleware{
		limiters: make(map[string]*limiterEntry),
		rules: []limitRule{
			{method: http.MethodPost, prefix: "/v1/accounts/", suffix: "/refresh", rps: rate.Limit(1), burst: 3},
			{method: http.MethodPost, prefix: "/v1/events/query", rps: rate.Limit(2), burst: 5},
			{method: http.MethodGet, prefix: "/v1/", rps: rate.Limit(20), burst: 40},
			{rps: rate.Limit(5), burst: 10},
		},
		exempt: map[string]bool{"/healthz": true, "/metrics": true},
		clock:  clock.New(),
		logger: logger.With("component", "api_ratelimit"),
		stopCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(rl)
	}
	go rl.cleanupLoop()
	return rl
}

// Stop is safe to call more than once.
func (rl *RateLimitMiddleware) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *RateLimitMiddleware) cleanupLoop() {
	ticker := rl.clock.Ticker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stopCh:
			return
		case <-ticker.C:
			rl.evictStale()
		}
	}
}

func (rl *RateLimitMiddleware) evictStale() {
	now := rl.clock.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, e := range rl.limiters {
		if now.Sub(e.lastSeen) > staleLimiterTTL {
			delete(rl.limiters, key)
		}
	}
}

// LimiterCount returns the number of tracked client/route limiters.
func (rl *RateLimitMiddleware) LimiterCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimitMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.exempt[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		rule := rl.ruleFor(r.Method, r.URL.Path)
		ip := clientIP(r)
		if !rl.limiterFor(rule, ip).Allow() {
			metrics.APIRateLimited.WithLabelValues(rule.key()).Inc()
			rl.logger.Warn("rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"client_ip", ip,
			)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(rule.rps)))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func retryAfterSeconds(l rate.Limit) int {
	if l <= 0 {
		return 60
	}
	secs := int(1 / float64(l))
	if secs < 1 {
		return 1
	}
	return secs
}

func (rl *RateLimitMiddleware) ruleFor(method, path string) limitRule {
	for _, rule := range rl.rules {
		if rule.matches(method, path) {
			return rule
		}
	}
	return rl.rules[len(rl.rules)-1]
}

func (rl *RateLimitMiddleware) limiterFor(rule limitRule, ip string) *rate.Limiter {
	key := rule.key() + "|" + ip
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if e, ok := rl.limiters[key]; ok {
		e.lastSeen = now
		return e.limiter
	}
	l := rate.NewLimiter(rule.rps, rule.burst)
	rl.limiters[key] = &limiterEntry{limiter: l, lastSeen: now}
	return l
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then the
// connection's remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.written {
		sw.status = code
		sw.written = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.written {
		sw.status = http.StatusOK
		sw.written = true
	}
	return sw.ResponseWriter.Write(b)
}

// Flush keeps event streams working through the wrapper.
func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// RequestLogMiddleware tags every request with an X-Request-Id, counts it by
// route pattern and status, and logs it. Mutating requests log at Info,
// reads at Debug.
func RequestLogMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	reqLogger := logger.With("component", "api_request")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()

		level := slog.LevelDebug
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			level = slog.LevelInfo
		}
		reqLogger.Log(r.Context(), level, "api request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"route", route,
			"status", sw.status,
			"remote_addr", r.RemoteAddr,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
