package transfer

import (
	"context"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter caps aggregate throughput of every worker sharing it. The
// bucket starts empty, refills at bytesPerSec and holds at most one second
// of budget.
type RateLimiter struct {
	limiter *rate.Limiter
	burst   int64
}

// NewRateLimiter creates a limiter for bytesPerSec. A value <= 0 means
// unlimited.
func NewRateLimiter(bytesPerSec float64) *RateLimiter {
	if bytesPerSec <= 0 || math.IsInf(bytesPerSec, 1) || math.IsNaN(bytesPerSec) {
		return &RateLimiter{}
	}
	burst := int64(math.Ceil(bytesPerSec))
	if burst > math.MaxInt32 {
		burst = math.MaxInt32
	}
	limiter := rate.NewLimiter(rate.Limit(bytesPerSec), int(burst))
	// drain the initial burst so the first Consume already waits n/rate
	limiter.ReserveN(time.Now(), int(burst))
	return &RateLimiter{limiter: limiter, burst: burst}
}

// Unlimited reports whether Consume never blocks.
func (l *RateLimiter) Unlimited() bool {
	return l == nil || l.limiter == nil
}

// Consume blocks until n bytes of budget are available and debits them.
// Requests larger than the burst are debited one burst at a time. The only
// error is ctx's.
func (l *RateLimiter) Consume(ctx context.Context, n int64) error {
	if l.Unlimited() {
		return nil
	}
	for n > 0 {
		step := min(n, l.burst)
		if err := l.limiter.WaitN(ctx, int(step)); err != nil {
			return err
		}
		n -= step
	}
	return nil
}
