package geo

import (
	"context"
	"sync"
	"time"
)

// Throttle admits at most budget lookups per fixed window. The first window
// opens at the first call; once the budget is spent, Allow blocks until the
// window has elapsed and then opens a new one.
type Throttle struct {
	mu     sync.Mutex
	budget int
	window time.Duration
	count  int
	start  time.Time

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func NewThrottle(budget uint, window time.Duration) *Throttle {
	return &Throttle{
		budget: int(budget),
		window: window,
		now:    time.Now,
		sleep:  sleepContext,
	}
}

// Allow reserves one lookup, waiting if the window is exhausted. It returns
// how long it waited. Cancellation of ctx aborts the wait without consuming
// budget.
func (t *Throttle) Allow(ctx context.Context) (time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if t.start.IsZero() || now.Sub(t.start) >= t.window {
		t.start = now
		t.count = 0
	}

	var waited time.Duration
	if t.count >= t.budget {
		waited = t.start.Add(t.window).Sub(now)
		if err := t.sleep(ctx, waited); err != nil {
			return 0, err
		}
		t.start = t.now()
		t.count = 0
	}
	t.count++
	return waited, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Unlimited admits every lookup immediately.
type Unlimited struct{}

func (Unlimited) Allow(context.Context) (time.Duration, error) { return 0, nil }
