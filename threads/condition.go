package threads

import (
	"container/list"
	"fmt"
	"sync"
)

type waiterState int

const (
	waiterWaiting waiterState = iota
	waiterSignalled
	waiterTimedOut
)

type waiter struct {
	thread *Thread
	timed  bool // also registered with the alarm
	state  waiterState
	elem   *list.Element
}

// Condition is a monitor-style condition variable bound to a Lock. Every
// method must be called with the lock held by the calling thread.
//
// The internal mutex guards the wait list and waiter states. Releasing the
// lock and joining the wait list happen under it, so a wake between the two is
// never lost. Lock order is Condition.mutex before Alarm.mutex.
type Condition struct {
	lock    *Lock
	alarm   *Alarm
	waiters *list.List
	mutex   sync.Mutex
}

// NewCondition creates a condition variable over lock. alarm may be nil if
// SleepFor is never used.
func NewCondition(lock *Lock, alarm *Alarm) *Condition {
	return &Condition{
		lock:    lock,
		alarm:   alarm,
		waiters: list.New(),
	}
}

// Sleep releases the lock, waits for Wake or WakeAll, then reacquires the lock
func (c *Condition) Sleep(t *Thread) {
	c.mustHold(t, "Sleep")

	c.mutex.Lock()
	c.enqueue(t, false)
	c.lock.Release(t)
	c.mutex.Unlock()

	t.park()
	c.lock.Acquire(t)
}

// SleepFor is Sleep with a timeout in ticks. It returns true if a Wake or
// WakeAll claimed the waiter and false if the deadline fired first. Either
// way the caller resumes holding the lock exactly once.
func (c *Condition) SleepFor(t *Thread, timeout uint64) bool {
	c.mustHold(t, "SleepFor")
	if c.alarm == nil {
		panic("threads: SleepFor on a condition without an alarm")
	}

	c.mutex.Lock()
	w := c.enqueue(t, true)
	c.alarm.schedule(t, timeout)
	c.lock.Release(t)
	c.mutex.Unlock()

	t.park()

	c.mutex.Lock()
	signalled := w.state == waiterSignalled
	if !signalled {
		c.waiters.Remove(w.elem)
		w.state = waiterTimedOut
	}
	c.mutex.Unlock()

	c.lock.Acquire(t)
	return signalled
}

// Wake readies the oldest waiter, if any
func (c *Condition) Wake(t *Thread) {
	c.mustHold(t, "Wake")

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if front := c.waiters.Front(); front != nil {
		c.signal(c.waiters.Remove(front).(*waiter))
	}
}

// WakeAll readies every waiter
func (c *Condition) WakeAll(t *Thread) {
	c.mustHold(t, "WakeAll")

	c.mutex.Lock()
	defer c.mutex.Unlock()

	for front := c.waiters.Front(); front != nil; front = c.waiters.Front() {
		c.signal(c.waiters.Remove(front).(*waiter))
	}
}

// Waiting returns the number of threads on the wait list
func (c *Condition) Waiting() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.waiters.Len()
}

// Lock returns the lock the condition is bound to
func (c *Condition) Lock() *Lock {
	return c.lock
}

func (c *Condition) enqueue(t *Thread, timed bool) *waiter {
	w := &waiter{thread: t, timed: timed}
	w.elem = c.waiters.PushBack(w)
	return w
}

// signal delivers a wakeup to w, which has already left the wait list.
// A timed waiter whose deadline cannot be cancelled was readied by the timer;
// it will see the signalled state once it runs.
func (c *Condition) signal(w *waiter) {
	w.state = waiterSignalled
	if w.timed {
		c.alarm.Cancel(w.thread)
		return
	}
	w.thread.ready()
}

func (c *Condition) mustHold(t *Thread, op string) {
	if !c.lock.IsHeldBy(t) {
		panic(fmt.Sprintf("threads: %s called %s without holding the condition lock", t, op))
	}
}
