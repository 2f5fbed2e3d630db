package supervisor

import (
	"context"
	"time"
)

// StableRun is how long a run must last before the backoff window resets.
const StableRun = 30 * time.Second

// Backoff is a jittered exponential backoff. Not safe for concurrent use.
type Backoff struct {
	min, max time.Duration
	cur      time.Duration
}

func NewBackoff(min, max time.Duration) *Backoff {
	if min <= 0 {
		min = 250 * time.Millisecond
	}
	if max < min {
		max = min
	}
	return &Backoff{min: min, max: max, cur: min}
}

// Next returns the wait before the next attempt (with up to 20% jitter)
// and doubles the window, capped at max.
func (b *Backoff) Next() time.Duration {
	wait := b.cur
	if j := time.Duration(int64(wait) / 5); j > 0 {
		wait += time.Duration(time.Now().UnixNano() % int64(j+1))
	}
	b.cur *= 2
	if b.cur > b.max {
		b.cur = b.max
	}
	return wait
}

func (b *Backoff) Reset() { b.cur = b.min }

// ResetIfStable resets the window when the previous run lasted at least StableRun,
// so rare failures don't cause long delays.
func (b *Backoff) ResetIfStable(ran time.Duration) {
	if ran >= StableRun {
		b.Reset()
	}
}

// Sleep waits for d or until ctx is done. It reports whether the full wait elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
