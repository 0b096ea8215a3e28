package threads

import (
	"container/list"
	"fmt"
	"sync"
)

// Lock is a mutual exclusion lock that tracks its holder. Waiters are served
// in FIFO order and ownership is handed directly to the next waiter.
type Lock struct {
	holder  *Thread
	waiters *list.List
	mutex   sync.Mutex
}

// NewLock creates an unheld lock
func NewLock() *Lock {
	return &Lock{
		waiters: list.New(),
	}
}

// Acquire blocks t until it holds the lock
func (l *Lock) Acquire(t *Thread) {
	l.mutex.Lock()
	if l.holder == t {
		l.mutex.Unlock()
		panic(fmt.Sprintf("threads: %s acquired a lock it already holds", t))
	}
	if l.holder == nil {
		l.holder = t
		l.mutex.Unlock()
		return
	}
	l.waiters.PushBack(t)
	l.mutex.Unlock()

	// Release hands ownership over before readying us
	t.park()
}

// Release gives up the lock held by t
func (l *Lock) Release(t *Thread) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if l.holder != t {
		panic(fmt.Sprintf("threads: %s released a lock it does not hold", t))
	}

	front := l.waiters.Front()
	if front == nil {
		l.holder = nil
		return
	}
	next := l.waiters.Remove(front).(*Thread)
	l.holder = next
	next.ready()
}

// IsHeldBy reports whether t currently holds the lock
func (l *Lock) IsHeldBy(t *Thread) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.holder == t
}
