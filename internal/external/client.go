// Package external talks to remote HTTP APIs: Stripe, and the storefront API
// itself from the buyer CLI. Every outbound request goes through BaseClient,
// which owns circuit breaking, retries and error mapping.
package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"storefront/internal/types"

	"github.com/sony/gobreaker/v2"
)

// RetryPolicy configures the retry behavior for the BaseClient.
type RetryPolicy struct {
	MaxRetries int
	MinWait    time.Duration
	MaxWait    time.Duration
}

// DefaultRetryPolicy allows three retries between 500ms and 10s apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		MinWait:    500 * time.Millisecond,
		MaxWait:    10 * time.Second,
	}
}

// BaseClient is an *http.Client behind a circuit breaker and a retry loop.
type BaseClient struct {
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker[*http.Response]
	retryPolicy RetryPolicy
	userAgent   string
	sleepFn     func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger

	// passServerErrors returns the final 5xx response instead of an error.
	passServerErrors bool
}

// BaseClientOption is a functional option for configuring a BaseClient.
type BaseClientOption func(*BaseClient)

// WithSleepFunc replaces the wait between retries. Tests use it to skip
// real delays.
func WithSleepFunc(fn func(time.Duration)) BaseClientOption {
	return func(c *BaseClient) {
		c.sleepFn = func(ctx context.Context, d time.Duration) error {
			fn(d)
			return ctx.Err()
		}
	}
}

// WithLogger sets the logger used for circuit breaker state changes.
func WithLogger(logger *slog.Logger) BaseClientOption {
	return func(c *BaseClient) {
		c.logger = logger
	}
}

// WithServerErrorPassthrough makes Do return the last 5xx response after
// retries are exhausted, for callers whose server errors carry a JSON body
// they need to read. The breaker still counts the failure.
func WithServerErrorPassthrough() BaseClientOption {
	return func(c *BaseClient) {
		c.passServerErrors = true
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NewBaseClient creates a BaseClient with its own circuit breaker named
// breakerName. The breaker opens after six consecutive failed attempts and
// probes again after 30s.
func NewBaseClient(
	httpClient *http.Client,
	breakerName string,
	retryPolicy RetryPolicy,
	userAgent string,
	opts ...BaseClientOption,
) *BaseClient {
	bc := newBaseClient(httpClient, retryPolicy, userAgent, opts)
	logger := bc.logger
	bc.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return bc
}

// NewBaseClientWithBreaker creates a BaseClient around an existing breaker,
// letting several clients share one failure budget.
func NewBaseClientWithBreaker(
	httpClient *http.Client,
	breaker *gobreaker.CircuitBreaker[*http.Response],
	retryPolicy RetryPolicy,
	userAgent string,
	opts ...BaseClientOption,
) *BaseClient {
	bc := newBaseClient(httpClient, retryPolicy, userAgent, opts)
	bc.breaker = breaker
	return bc
}

func newBaseClient(httpClient *http.Client, retryPolicy RetryPolicy, userAgent string, opts []BaseClientOption) *BaseClient {
	bc := &BaseClient{
		client:      httpClient,
		retryPolicy: retryPolicy,
		userAgent:   userAgent,
		sleepFn:     sleepContext,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(bc)
	}
	return bc
}

// Do sends req through the breaker, retrying 429 and 5xx answers with
// backoff. Any other response, 4xx included, is returned to the caller, who
// must close its body. When retries run out or the breaker is open, Do
// returns an upstream AppError, unless WithServerErrorPassthrough is set and
// the last answer was a 5xx.
func (c *BaseClient) Do(req *http.Request) (*http.Response, error) {
	if requestID := types.GetRequestID(req.Context()); requestID != "" {
		req.Header.Set("X-Request-Id", requestID)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	// The body is buffered once and replayed on every attempt.
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to buffer request body", err)
		}
	}

	var (
		lastResp *http.Response
		lastErr  error
	)
	attempts := c.retryPolicy.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
			req.ContentLength = int64(len(body))
		}

		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, err := c.client.Do(req)
			if err != nil {
				return nil, err
			}
			if retryable(r.StatusCode) {
				return r, fmt.Errorf("upstream returned %d", r.StatusCode)
			}
			return r, nil
		})
		if err == nil {
			return resp, nil
		}

		lastErr = err
		lastResp = nil
		if resp != nil {
			if attempt < attempts {
				resp.Body.Close()
			} else {
				lastResp = resp
			}
		}

		if breakerRejected(err) {
			break
		}
		if attempt < attempts {
			if sleepErr := c.sleepFn(req.Context(), c.computeBackoff(attempt-1, resp)); sleepErr != nil {
				lastErr = sleepErr
				break
			}
		}
	}

	if lastResp != nil {
		if c.passServerErrors && lastResp.StatusCode >= 500 {
			return lastResp, nil
		}
		lastResp.Body.Close()
	}
	return nil, c.mapError(lastResp, lastErr)
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func breakerRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// computeBackoff returns the wait before retry number attempt+1. A
// Retry-After header wins when present; otherwise the wait is drawn
// uniformly from [MinWait, MinWait*2^attempt], capped at MaxWait.
func (c *BaseClient) computeBackoff(attempt int, resp *http.Response) time.Duration {
	p := c.retryPolicy
	if resp != nil {
		if wait, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
			return min(max(wait, p.MinWait), p.MaxWait)
		}
	}

	ceiling := min(float64(p.MinWait)*math.Pow(2, float64(attempt)), float64(p.MaxWait))
	floor := float64(p.MinWait)
	if ceiling <= floor {
		return p.MinWait
	}
	return time.Duration(floor + rand.Float64()*(ceiling-floor))
}

// retryAfter parses a Retry-After value given as seconds or an HTTP date.
func retryAfter(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t), true
	}
	return 0, false
}

func (c *BaseClient) mapError(resp *http.Response, err error) *types.AppError {
	switch {
	case breakerRejected(err):
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "circuit breaker open", err)
	case resp != nil && resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "upstream rate limit exceeded", err)
	case resp != nil && resp.StatusCode >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, fmt.Sprintf("upstream returned %d after retries", resp.StatusCode), err)
	default:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "upstream request failed", err)
	}
}
