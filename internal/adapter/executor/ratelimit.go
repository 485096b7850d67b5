package executor

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"agentroute/internal/domain"
)

// RateLimited throttles dispatches to the wrapped executor with a token bucket.
type RateLimited struct {
	inner   domain.AgentExecutor
	limiter *rate.Limiter
}

// NewRateLimited allows perSecond dispatches with the given burst.
func NewRateLimited(inner domain.AgentExecutor, perSecond float64, burst int) *RateLimited {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{inner: inner, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Execute waits for a token, then dispatches.
func (r *RateLimited) Execute(ctx context.Context, task domain.AgentTask) (*domain.PhaseResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("dispatch rate limit: %w", err)
	}
	return r.inner.Execute(ctx, task)
}

var _ domain.AgentExecutor = (*RateLimited)(nil)
