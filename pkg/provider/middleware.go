package provider

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"

	"github.com/kart-io/commshub/pkg/channel"
	commserrors "github.com/kart-io/commshub/pkg/errors"
	"github.com/kart-io/commshub/pkg/logger"
	"github.com/kart-io/commshub/pkg/status"
)

// Middleware decorates a Dispatcher.
type Middleware func(next Dispatcher) Dispatcher

// Chain applies middlewares so the first one is outermost.
func Chain(d Dispatcher, mws ...Middleware) Dispatcher {
	for i := len(mws) - 1; i >= 0; i-- {
		d = mws[i](d)
	}
	return d
}

// Wrap returns reg with every constructed dispatcher decorated by mws.
func Wrap(reg Registration, mws ...Middleware) Registration {
	if len(mws) == 0 || reg.New == nil {
		return reg
	}
	newFn := reg.New
	reg.New = func() (Dispatcher, error) {
		d, err := newFn()
		if err != nil {
			return nil, err
		}
		return Chain(d, mws...), nil
	}
	return reg
}

// BackoffFunc returns the delay before retry attempt n (1-based).
type BackoffFunc func(attempt int, base time.Duration) time.Duration

// RetryPolicy configures WithRetry.
type RetryPolicy struct {
	// MaxAttempts includes the first call. Values below 2 disable retries.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Backoff     BackoffFunc
}

// WithRetry retries a dispatch when the provider returns an error or every
// result is a server error. Argument errors and partially successful calls
// are not retried, so recipients that were reached are never sent twice.
func WithRetry(policy RetryPolicy, log logger.Logger) Middleware {
	log = logger.OrDiscard(log)
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 200 * time.Millisecond
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}
	if policy.Backoff == nil {
		policy.Backoff = ExponentialBackoff
	}
	return func(next Dispatcher) Dispatcher {
		if policy.MaxAttempts < 2 {
			return next
		}
		return DispatcherFunc(func(ctx context.Context, comm channel.Communication, dc *channel.DispatchContext) ([]*status.DispatchResult, error) {
			var (
				results []*status.DispatchResult
				err     error
			)
			for attempt := 1; ; attempt++ {
				results, err = next.Dispatch(ctx, comm, dc)
				if !retryable(results, err) || attempt >= policy.MaxAttempts {
					if attempt > 1 {
						log.Debug("Provider retries finished", "attempts", attempt, "error", err)
					}
					return results, err
				}

				delay := min(policy.Backoff(attempt, policy.BaseDelay), policy.MaxDelay)
				log.Warn("Retrying provider dispatch", "attempt", attempt, "delay", delay, "error", err)
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return results, ctx.Err()
				case <-timer.C:
				}
			}
		})
	}
}

func retryable(results []*status.DispatchResult, err error) bool {
	if err != nil {
		return !commserrors.IsArgument(err) && !isContextError(err)
	}
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if r == nil || !r.Status.IsServerError() {
			return false
		}
	}
	return true
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// ExponentialBackoff doubles the delay per attempt with up to 25% jitter.
func ExponentialBackoff(attempt int, base time.Duration) time.Duration {
	d := float64(base) * math.Pow(2, float64(attempt-1))
	return time.Duration(d + d*0.25*rand.Float64())
}

// LinearBackoff grows the delay linearly.
func LinearBackoff(attempt int, base time.Duration) time.Duration {
	return time.Duration(attempt) * base
}

// ConstantBackoff always waits base.
func ConstantBackoff(_ int, base time.Duration) time.Duration {
	return base
}

// WithRateLimit makes every dispatch take a token from limiter first. A
// dispatch that cannot get a token before ctx ends fails with ctx.Err().
func WithRateLimit(limiter Limiter) Middleware {
	return func(next Dispatcher) Dispatcher {
		if limiter == nil {
			return next
		}
		return DispatcherFunc(func(ctx context.Context, comm channel.Communication, dc *channel.DispatchContext) ([]*status.DispatchResult, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
			return next.Dispatch(ctx, comm, dc)
		})
	}
}
