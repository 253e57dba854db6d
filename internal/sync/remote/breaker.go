package remote

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kimhsiao/memonexus/syncengine/internal/logging"
)

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	Name        string
	MaxFailures uint32        // consecutive transient failures before opening
	OpenTimeout time.Duration // time spent open before a trial request
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:        "remote-write",
		MaxFailures: 5,
		OpenTimeout: 30 * time.Second,
	}
}

var errTransient = errors.New("transient remote failure")

// Breaker stops calling the remote after repeated transient failures.
// While open, Apply returns TransientFailure without a remote call, so the
// items stay queued for the next drain.
type Breaker struct {
	next Writer
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker wraps next with a circuit breaker.
func NewBreaker(next Writer, cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = DefaultBreakerConfig().MaxFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultBreakerConfig().OpenTimeout
	}
	if cfg.Name == "" {
		cfg.Name = DefaultBreakerConfig().Name
	}

	maxFailures := cfg.MaxFailures
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn("Remote circuit breaker state changed",
				map[string]interface{}{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				})
		},
	}

	return &Breaker{
		next: next,
		cb:   gobreaker.NewCircuitBreaker(settings),
	}
}

// Apply forwards to the wrapped Writer unless the breaker is open. Only
// transient failures count against the breaker; conflicts and fatal
// rejections are answers from a healthy remote.
func (b *Breaker) Apply(ctx context.Context, m Mutation) Result {
	var res Result
	_, err := b.cb.Execute(func() (interface{}, error) {
		res = b.next.Apply(ctx, m)
		if res.Kind == TransientFailure {
			if res.Err != nil {
				return nil, res.Err
			}
			return nil, errTransient
		}
		return nil, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return Transient(err)
	}
	return res
}

// State returns the breaker state name.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
