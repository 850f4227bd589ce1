package capture

import (
	"context"
	"time"
)

// TickSource paces frame polling. The channel closes when ctx is done.
type TickSource interface {
	Ticks(ctx context.Context) <-chan time.Time
}

// Interval ticks at a fixed period, one per display frame at ~33ms. Ticks are
// dropped, not queued, while the consumer is busy.
type Interval time.Duration

// Ticks implements TickSource.
func (i Interval) Ticks(ctx context.Context) <-chan time.Time {
	d := time.Duration(i)
	if d <= 0 {
		d = 33 * time.Millisecond
	}
	out := make(chan time.Time)
	go func() {
		defer close(out)
		t := time.NewTicker(d)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				select {
				case out <- now:
				case <-ctx.Done():
					return
				default:
				}
			}
		}
	}()
	return out
}

// ManualTicks is driven by the caller, one Tick at a time.
type ManualTicks struct {
	ch chan time.Time
}

// NewManualTicks creates an unbuffered manual tick source.
func NewManualTicks() *ManualTicks {
	return &ManualTicks{ch: make(chan time.Time)}
}

// Ticks implements TickSource. The shared channel is never closed; consumers
// stop on ctx.
func (m *ManualTicks) Ticks(context.Context) <-chan time.Time {
	return m.ch
}

// Tick hands one tick to the consumer. It returns false if nobody took it
// within a second.
func (m *ManualTicks) Tick() bool {
	select {
	case m.ch <- time.Now():
		return true
	case <-time.After(time.Second):
		return false
	}
}
