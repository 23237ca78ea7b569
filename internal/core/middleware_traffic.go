package core

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"golang.org/x/time/rate"

	"storefront/internal/types"
)

// RateLimit enforces a per-client request budget using s.RateLimitStore.
// The client key is the first X-Forwarded-For entry or the remote address.
// If no store is configured the middleware passes through; store errors fail
// open.
//
// Every checked response carries X-RateLimit-Limit and X-RateLimit-Remaining.
// Denied requests get 429 with Retry-After.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.RateLimitStore == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := extractClientIP(r)
		ctx := types.WithClientKey(r.Context(), key)

		result, err := s.RateLimitStore.Take(ctx, key)
		if err != nil {
			s.Logger.ErrorContext(ctx, "rate limit store error",
				slog.String("client", key),
				slog.String("error", err.Error()),
			)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

		if !result.Allowed {
			s.Logger.WarnContext(ctx, "rate limit exceeded",
				slog.String("client", key),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)

			retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

			Error(w, r, types.NewAppError(types.ErrCodeRateLimit, "Too many requests. Please slow down.", nil))
			return
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CompressionMiddleware gzips responses for clients that accept it.
func CompressionMiddleware(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}

// TokenBucketStore is an in-process RateLimitStore holding one token bucket
// per client key. Idle buckets are dropped by Sweep.
type TokenBucketStore struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewTokenBucketStore creates a store refilling rps tokens per second up to
// burst. Buckets unused for longer than idle are swept.
func NewTokenBucketStore(rps float64, burst int, idle time.Duration) *TokenBucketStore {
	return &TokenBucketStore{
		limit:    rate.Limit(rps),
		burst:    burst,
		idle:     idle,
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
}

// Take implements RateLimitStore.
func (s *TokenBucketStore) Take(_ context.Context, key string) (RateLimitResult, error) {
	now := s.now()

	s.mu.Lock()
	v, ok := s.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.visitors[key] = v
	}
	v.lastSeen = now
	s.mu.Unlock()

	res := RateLimitResult{Limit: s.burst}
	r := v.limiter.ReserveN(now, 1)
	if !r.OK() {
		return res, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		res.RetryAfter = delay
		return res, nil
	}

	res.Allowed = true
	if tokens := int(v.limiter.TokensAt(now)); tokens > 0 {
		res.Remaining = tokens
	}
	return res, nil
}

// Sweep removes buckets idle for longer than the configured duration.
func (s *TokenBucketStore) Sweep() int {
	cutoff := s.now().Add(-s.idle)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, v := range s.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(s.visitors, key)
			removed++
		}
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *TokenBucketStore) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// extractClientIP extracts the client's IP address from the request. It uses
// the first X-Forwarded-For entry when present, else RemoteAddr without port.
func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
