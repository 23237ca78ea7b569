package core

import (
	"context"
	"time"
)

// RateLimitStore abstracts the backing store for rate limiting. The default
// is an in-process token bucket per client key.
type RateLimitStore interface {
	// Take consumes one token for key and reports whether the request may
	// proceed.
	Take(ctx context.Context, key string) (RateLimitResult, error)
}

// RateLimitResult contains the outcome of a rate limit check.
type RateLimitResult struct {
	// Allowed indicates whether the request is within the rate limit.
	Allowed bool
	// Limit is the bucket size.
	Limit int
	// Remaining is the number of whole tokens left after this request.
	Remaining int
	// RetryAfter is how long until the next token is available when denied.
	RetryAfter time.Duration
}
