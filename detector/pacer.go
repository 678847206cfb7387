package detector

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer drives the per-tick FPS loop with a drift-compensating tick:
// next_tick <- max(next_tick + 1/fps, now()). Built on a
// golang.org/x/time/rate.Limiter with a burst of 1 so a slow tick
// catches up by at most one tick's worth of budget rather than
// accumulating an unbounded backlog.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer constructs a Pacer ticking at fps ticks/second. fps <= 0 is
// treated as 1 to avoid a zero-rate limiter.
func NewPacer(fps int) *Pacer {
	if fps <= 0 {
		fps = 1
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Limit(fps), 1)}
}

// Wait blocks until the next tick is due or ctx is cancelled.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// SleepWithHeartbeat sleeps for d, calling heartbeat once per interval
// so patrol-mode idle windows still keep the agent's liveness fresh
// (spec §4.4 "sleep patrol_interval_seconds with heartbeat").
func SleepWithHeartbeat(ctx context.Context, d time.Duration, interval time.Duration, heartbeat func()) error {
	if interval <= 0 {
		interval = time.Second
	}
	deadline := time.Now().Add(d)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		wait := interval
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			if wait == interval {
				heartbeat()
			}
		}
	}
}
