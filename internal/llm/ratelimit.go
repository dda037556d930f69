package llm

import (
	"context"

	"github.com/ZaidMadanat/alfworld-whiteagent/internal/agent"
	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/time/rate"
)

// RateLimited throttles calls to another model.
type RateLimited struct {
	next    agent.Model
	limiter *rate.Limiter
}

// NewRateLimited allows requestsPerMinute calls, with a burst of one.
func NewRateLimited(next agent.Model, requestsPerMinute int) *RateLimited {
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60), 1),
	}
}

// Complete waits for a token and then delegates.
func (r *RateLimited) Complete(ctx context.Context, req agent.CompletionRequest) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", goerr.Wrap(err, "rate limit wait", goerr.V("model", req.Model))
	}
	return r.next.Complete(ctx, req)
}
