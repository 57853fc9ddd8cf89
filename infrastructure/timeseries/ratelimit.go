package timeseries

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/priceflow/pam-engine/internal/ports"
)

// RateLimitedResolver throttles lookups against a delegate resolver.
// Provider-facing resolvers get their limiter injected here instead of
// keeping implicit module-level rate state.
type RateLimitedResolver struct {
	delegate ports.TimeseriesResolver
	limiter  *rate.Limiter
}

// NewRateLimitedResolver wraps a resolver with a token-bucket limiter
// allowing rps lookups per second with the given burst.
func NewRateLimitedResolver(delegate ports.TimeseriesResolver, rps float64, burst int) *RateLimitedResolver {
	return &RateLimitedResolver{
		delegate: delegate,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Resolve waits for limiter capacity, then delegates. A cancelled
// context surfaces as the context's error.
func (r *RateLimitedResolver) Resolve(ctx context.Context, q ports.SeriesQuery) (ports.SeriesPoint, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return ports.SeriesPoint{}, err
	}
	return r.delegate.Resolve(ctx, q)
}
