package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/sandeepkv93/tenant-session-engine/internal/http/response"
	"github.com/sandeepkv93/tenant-session-engine/internal/observability"
)

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
	ResetAt    time.Time
}

type RateLimitPolicy struct {
	Limit  int
	Window time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error)
}

type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

// localLimiter keeps one token bucket per key in process memory.
type localLimiter struct {
	mu      sync.Mutex
	buckets map[string]*localBucket
	cleanup time.Time
	now     func() time.Time
}

type localBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewLocalLimiter() Limiter {
	return &localLimiter{
		buckets: make(map[string]*localBucket),
		cleanup: time.Now().Add(time.Minute),
		now:     time.Now,
	}
}

func (l *localLimiter) Allow(_ context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = normalizePolicy(policy)
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.cleanup) {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > 2*policy.Window {
				delete(l.buckets, k)
			}
		}
		l.cleanup = now.Add(policy.Window)
	}

	b, ok := l.buckets[key]
	if !ok {
		every := policy.Window / time.Duration(policy.Limit)
		b = &localBucket{limiter: rate.NewLimiter(rate.Every(every), policy.Limit)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	reservation := b.limiter.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay, ResetAt: now.Add(delay)}, nil
	}
	remaining := int(b.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining, ResetAt: now.Add(policy.Window)}, nil
}

// redisLimiter is a fixed-window counter shared by every replica.
type redisLimiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client redis.UniversalClient, prefix string) Limiter {
	if prefix == "" {
		prefix = "tse"
	}
	return &redisLimiter{client: client, prefix: prefix + ":ratelimit", now: time.Now}
}

func (l *redisLimiter) Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = normalizePolicy(policy)
	now := l.now()
	window := now.UnixNano() / int64(policy.Window)
	resetAt := time.Unix(0, (window+1)*int64(policy.Window))
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, window)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, policy.Window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, err
	}
	count := int(incr.Val())
	if count > policy.Limit {
		return Decision{Allowed: false, RetryAfter: resetAt.Sub(now), ResetAt: resetAt}, nil
	}
	return Decision{Allowed: true, Remaining: policy.Limit - count, ResetAt: resetAt}, nil
}

type RateLimiter struct {
	limiter Limiter
	policy  RateLimitPolicy
	mode    FailureMode
	scope   string
	keyFunc func(r *http.Request) string
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return NewDistributedRateLimiter(NewLocalLimiter(), limit, window, FailClosed, "local")
}

func NewDistributedRateLimiter(limiter Limiter, limit int, window time.Duration, mode FailureMode, scope string) *RateLimiter {
	if scope == "" {
		scope = "api"
	}
	return &RateLimiter{
		limiter: limiter,
		policy:  normalizePolicy(RateLimitPolicy{Limit: limit, Window: window}),
		mode:    mode,
		scope:   scope,
		keyFunc: clientIPKey,
	}
}

func (rl *RateLimiter) WithKeyFunc(keyFunc func(r *http.Request) string) *RateLimiter {
	if keyFunc != nil {
		rl.keyFunc = keyFunc
	}
	return rl
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.keyFunc(r)
			if key == "" {
				key = clientIPKey(r)
			}
			decision, err := rl.limiter.Allow(r.Context(), rl.scope+":"+key, rl.policy)
			if err != nil {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "backend_error", string(rl.mode))
				if rl.mode == FailOpen {
					slog.WarnContext(r.Context(), "rate limiter backend unavailable, allowing request",
						"scope", rl.scope,
						"error", err.Error(),
					)
					next.ServeHTTP(w, r)
					return
				}
				writeRateLimitHeaders(w.Header(), rl.policy.Limit, 0, time.Now().Add(rl.policy.Window))
				w.Header().Set("Retry-After", retryAfterHeader(rl.policy.Window))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			writeRateLimitHeaders(w.Header(), rl.policy.Limit, decision.Remaining, decision.ResetAt)
			if !decision.Allowed {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "deny", string(rl.mode))
				w.Header().Set("Retry-After", retryAfterHeader(decision.RetryAfter))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			observability.RecordRateLimitDecision(r.Context(), rl.scope, "allow", string(rl.mode))
			next.ServeHTTP(w, r)
		})
	}
}

func clientIPKey(r *http.Request) string {
	return ClientIP(r)
}

const maxKeyedBodyBytes = 64 << 10

// CredentialEmailKey keys credential endpoints on the submitted email, so
// guesses against one account share a budget across source addresses. The
// body is restored for the handler. Requests without an email fall back to
// the client IP.
func CredentialEmailKey(r *http.Request) string {
	if r.Body == nil || r.Method != http.MethodPost {
		return ""
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxKeyedBodyBytes))
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(raw), r.Body))
	if err != nil {
		return ""
	}
	var body struct {
		Email string `json:"email"`
	}
	if json.Unmarshal(raw, &body) != nil {
		return ""
	}
	email := strings.ToLower(strings.TrimSpace(body.Email))
	if email == "" {
		return ""
	}
	return "email:" + email
}

// ClientIP returns the request's remote address without the port. RealIP
// middleware upstream has already applied trusted forwarding headers.
func ClientIP(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return host
}

func retryAfterHeader(d time.Duration) string {
	seconds := int(d.Round(time.Second).Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

func writeRateLimitHeaders(h http.Header, limit int, remaining int, resetAt time.Time) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(max(limit, 0)))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(remaining, 0)))
	if resetAt.IsZero() {
		resetAt = time.Now().Add(time.Second)
	}
	h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

func normalizePolicy(policy RateLimitPolicy) RateLimitPolicy {
	if policy.Limit <= 0 {
		policy.Limit = 1
	}
	if policy.Window <= 0 {
		policy.Window = time.Minute
	}
	return policy
}
