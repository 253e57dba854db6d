package remote

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/kimhsiao/memonexus/syncengine/internal/logging"
)

// RateLimited bounds the rate of Apply calls to the wrapped Writer.
type RateLimited struct {
	next    Writer
	limiter *rate.Limiter
}

// NewRateLimited wraps next with a token bucket of perSecond and burst.
// A non-positive perSecond returns next unchanged.
func NewRateLimited(next Writer, perSecond float64, burst int) Writer {
	if perSecond <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Apply waits for a token, then forwards. A wait that cannot complete
// (ctx done or deadline too short) is a transient failure.
func (r *RateLimited) Apply(ctx context.Context, m Mutation) Result {
	if err := r.limiter.Wait(ctx); err != nil {
		logging.Warn("Remote write rate limit wait aborted",
			map[string]interface{}{"id": m.ID})
		return Transient(err)
	}
	return r.next.Apply(ctx, m)
}
