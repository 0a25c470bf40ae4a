package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/deusflow/newsgraph/internal/retry"
)

// Limiter spaces calls to an upstream API at least one interval apart. GDELT
// asks clients to stay under one request every five seconds.
type Limiter struct {
	mu       sync.Mutex
	lim      *rate.Limiter
	interval time.Duration
	calls    int
	waited   time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a limiter; a non-positive interval disables it. A nil sleep
// uses a context-aware timer.
func New(interval time.Duration, sleep func(ctx context.Context, d time.Duration) error) *Limiter {
	if sleep == nil {
		sleep = retry.Sleep
	}
	rl := &Limiter{
		interval: interval,
		now:      time.Now,
		sleep:    sleep,
	}
	if interval > 0 {
		rl.lim = rate.NewLimiter(rate.Every(interval), 1)
	}
	return rl
}

// Wait blocks until the next call is allowed. The first call never waits.
func (rl *Limiter) Wait(ctx context.Context) error {
	if rl == nil || rl.lim == nil {
		return nil
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	r := rl.lim.ReserveN(now, 1)
	if d := r.DelayFrom(now); d > 0 {
		if err := rl.sleep(ctx, d); err != nil {
			r.CancelAt(now)
			return err
		}
		rl.waited += d
	}
	rl.calls++
	return nil
}

// GetStats returns how many calls passed and the total time spent waiting.
func (rl *Limiter) GetStats() map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return map[string]interface{}{
		"calls":     rl.calls,
		"waited_ms": rl.waited.Milliseconds(),
		"interval":  rl.interval.String(),
	}
}
