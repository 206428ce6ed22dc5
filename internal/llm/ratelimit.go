package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedProvider spaces out request opens to stay under a
// requests-per-minute budget. Waiting honors ctx, so a cancelled ask does
// not sit in the queue.
type RateLimitedProvider struct {
	inner   Provider
	limiter *rate.Limiter
}

// WrapWithRateLimit returns p unchanged when requestsPerMin is not positive.
func WrapWithRateLimit(p Provider, requestsPerMin float64, burst int) Provider {
	if requestsPerMin <= 0 {
		return p
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedProvider{
		inner:   p,
		limiter: rate.NewLimiter(rate.Limit(requestsPerMin)/60.0, burst),
	}
}

func (p *RateLimitedProvider) Name() string {
	return p.inner.Name()
}

func (p *RateLimitedProvider) Capabilities() Capabilities {
	return p.inner.Capabilities()
}

func (p *RateLimitedProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return p.inner.Stream(ctx, req)
}

func (p *RateLimitedProvider) Generate(ctx context.Context, req Request) (Event, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return Event{}, fmt.Errorf("rate limit wait: %w", err)
	}
	return p.inner.Generate(ctx, req)
}
