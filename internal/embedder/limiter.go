package embedder

import (
	"context"
	"math"

	"golang.org/x/time/rate"
)

// newLimiter returns a token bucket for requestsPerSecond; zero or negative
// means unlimited.
func newLimiter(requestsPerSecond float64) *rate.Limiter {
	if requestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := max(int(math.Ceil(requestsPerSecond)), 1)
	return rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

// wait blocks until the limiter admits one request
func wait(ctx context.Context, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	return l.Wait(ctx)
}
