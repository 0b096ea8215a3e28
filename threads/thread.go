package threads

import (
	"fmt"
	"sync/atomic"
)

var nextThreadID atomic.Uint64

// Thread is a kernel thread handle. Each thread runs on its own goroutine and
// blocks by parking; some other party makes it runnable again with ready.
//
// Every park is matched by exactly one ready. The wake token is buffered so a
// ready that lands before the park is not lost.
type Thread struct {
	id   uint64
	name string
	wake chan struct{}
	done chan struct{}
}

// NewThread creates a thread handle for the calling goroutine
func NewThread(name string) *Thread {
	return &Thread{
		id:   nextThreadID.Add(1),
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Go forks a new thread running fn
func Go(name string, fn func(t *Thread)) *Thread {
	t := NewThread(name)
	go func() {
		defer close(t.done)
		fn(t)
	}()
	return t
}

// ID returns the unique thread id
func (t *Thread) ID() uint64 {
	return t.id
}

// Name returns the thread name
func (t *Thread) Name() string {
	return t.name
}

func (t *Thread) String() string {
	return fmt.Sprintf("%s#%d", t.name, t.id)
}

// Join blocks until a thread started with Go has returned
func (t *Thread) Join() {
	<-t.done
}

// Finished reports whether a thread started with Go has returned
func (t *Thread) Finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// park suspends the calling thread until ready is called for it
func (t *Thread) park() {
	<-t.wake
}

// ready moves t to the ready set. Readying a thread twice is a kernel bug.
func (t *Thread) ready() {
	select {
	case t.wake <- struct{}{}:
	default:
		panic(fmt.Sprintf("threads: %s readied twice", t))
	}
}
