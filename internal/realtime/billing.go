package realtime

import "time"

// billingClock is the per-room recurring deduction timer. It is owned by the
// room worker, which is the only goroutine that arms, reads or disarms it,
// so at most one armed clock can exist per room. Disarm is terminal until
// the room is rebuilt (booking re-entry).
type billingClock struct {
	period time.Duration
	ticker *time.Ticker
	armed  bool
}

func newBillingClock(period time.Duration) *billingClock {
	return &billingClock{period: period}
}

// Arm starts the ticker exactly once; it reports false when already armed.
func (b *billingClock) Arm() bool {
	if b.armed {
		return false
	}
	b.armed = true
	b.ticker = time.NewTicker(b.period)
	return true
}

// C returns the tick channel, nil while disarmed (a nil channel never fires
// in a select).
func (b *billingClock) C() <-chan time.Time {
	if !b.armed {
		return nil
	}
	return b.ticker.C
}

// Disarm stops the ticker. The stop completes before any terminal state
// transition is observed by callers, since both run on the room worker.
func (b *billingClock) Disarm() {
	if !b.armed {
		return
	}
	b.armed = false
	b.ticker.Stop()
	b.ticker = nil
}

func (b *billingClock) Armed() bool { return b.armed }
