package provider

import (
	"context"
	"sync"
	"time"
)

// Limiter hands out dispatch permits.
type Limiter interface {
	// Wait blocks until a permit is available or ctx is done.
	Wait(ctx context.Context) error
	// TryAcquire takes a permit without blocking.
	TryAcquire() bool
}

// TokenBucket is a Limiter refilling rate tokens per interval up to capacity.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   int
	tokens     int
	rate       int
	interval   time.Duration
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket creates a full bucket. A burst below 1 defaults to rate.
func NewTokenBucket(rate, burst int, interval time.Duration) *TokenBucket {
	if rate < 1 {
		rate = 1
	}
	if burst < 1 {
		burst = rate
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &TokenBucket{
		capacity:   burst,
		tokens:     burst,
		rate:       rate,
		interval:   interval,
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// TryAcquire implements Limiter.
func (tb *TokenBucket) TryAcquire() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	if tb.tokens > 0 {
		tb.tokens--
		return true
	}
	return false
}

// Wait implements Limiter.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.TryAcquire() {
			return nil
		}
		timer := time.NewTimer(tb.nextRefill())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Available returns the number of tokens left.
func (tb *TokenBucket) Available() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refill()
	return tb.tokens
}

func (tb *TokenBucket) nextRefill() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	d := tb.lastRefill.Add(tb.interval).Sub(tb.now())
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// refill must be called with mu held.
func (tb *TokenBucket) refill() {
	elapsed := tb.now().Sub(tb.lastRefill)
	if elapsed < tb.interval {
		return
	}
	intervals := int(elapsed / tb.interval)
	tb.tokens = min(tb.capacity, tb.tokens+intervals*tb.rate)
	tb.lastRefill = tb.lastRefill.Add(time.Duration(intervals) * tb.interval)
}
