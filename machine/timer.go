package machine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterruptPeriod is the number of ticks between timer interrupts
const DefaultInterruptPeriod = 500

// Timer is a monotonic tick counter with a single interrupt handler.
// Time only moves when Advance is called, either directly (tests) or by Run.
type Timer struct {
	now     atomic.Uint64
	handler func()

	// serializes interrupts so handlers never overlap
	mutex sync.Mutex
}

// NewTimer creates a timer starting at tick 0
func NewTimer() *Timer {
	return &Timer{}
}

// Now returns the current tick count
func (t *Timer) Now() uint64 {
	return t.now.Load()
}

// SetInterruptHandler registers the callback invoked on every interrupt.
// A later call replaces the previous handler.
func (t *Timer) SetInterruptHandler(handler func()) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.handler = handler
}

// Advance moves time forward by ticks and raises one interrupt
func (t *Timer) Advance(ticks uint64) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.now.Add(ticks)
	if t.handler != nil {
		t.handler()
	}
}

// Run advances the timer by period ticks every interval until ctx is done
func (t *Timer) Run(ctx context.Context, interval time.Duration, period uint64) {
	if period == 0 {
		period = DefaultInterruptPeriod
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Advance(period)
		}
	}
}
