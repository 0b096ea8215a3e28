package threads

import (
	"log/slog"
	"math"
	"runtime"
	"sync"
)

// Timer is the hardware clock the Alarm is driven by
type Timer interface {
	Now() uint64
	SetInterruptHandler(handler func())
}

// Alarm puts threads to sleep until a tick deadline and wakes them from the
// timer interrupt. All queue mutations happen under mutex, which stands in for
// disabling interrupts: TimerInterrupt and Cancel can never both observe the
// same entry.
type Alarm struct {
	timer  Timer
	queue  *WaitQueue
	yield  func()
	logger *slog.Logger
	mutex  sync.Mutex
}

// NewAlarm creates an alarm and installs it as timer's interrupt handler.
// Only one alarm should be attached to a timer.
func NewAlarm(timer Timer, logger *slog.Logger) *Alarm {
	if logger == nil {
		logger = slog.Default()
	}

	a := &Alarm{
		timer:  timer,
		queue:  NewWaitQueue(),
		yield:  runtime.Gosched,
		logger: logger,
	}
	timer.SetInterruptHandler(a.TimerInterrupt)
	return a
}

// TimerInterrupt readies every thread whose deadline has passed, in deadline
// order, then yields the processor.
func (a *Alarm) TimerInterrupt() {
	a.mutex.Lock()
	now := a.timer.Now()
	for {
		entry := a.queue.Peek()
		if entry == nil || entry.Deadline > now {
			break
		}
		a.queue.Pop()
		a.logger.Debug("alarm fired",
			slog.String("thread", entry.Thread.String()),
			slog.Uint64("deadline", entry.Deadline),
			slog.Uint64("now", now),
		)
		entry.Thread.ready()
	}
	a.mutex.Unlock()

	a.yield()
}

// WaitUntil suspends t for at least ticks timer ticks. A zero wait still
// blocks until the next interrupt.
func (a *Alarm) WaitUntil(t *Thread, ticks uint64) {
	a.schedule(t, ticks)
	t.park()
}

// Cancel removes any pending deadline for t and readies it immediately.
// It returns false, with no effect, if t has no pending deadline.
func (a *Alarm) Cancel(t *Thread) bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if _, found := a.queue.Remove(t); !found {
		return false
	}
	t.ready()
	return true
}

// Pending reports whether t has a deadline that has not fired yet
func (a *Alarm) Pending(t *Thread) bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.queue.Contains(t)
}

// Len returns the number of sleeping threads
func (a *Alarm) Len() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.queue.Len()
}

// Now returns the current tick count
func (a *Alarm) Now() uint64 {
	return a.timer.Now()
}

// Deadline returns the tick ticks from now, saturating at math.MaxUint64
// so a very long wait never wraps into the past.
func (a *Alarm) Deadline(ticks uint64) uint64 {
	now := a.timer.Now()
	if ticks > math.MaxUint64-now {
		return math.MaxUint64
	}
	return now + ticks
}

// schedule enqueues t without parking it and returns the deadline
func (a *Alarm) schedule(t *Thread, ticks uint64) uint64 {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	deadline := a.Deadline(ticks)
	a.queue.Push(t, deadline)
	return deadline
}
