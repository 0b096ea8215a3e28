package threads

// Future runs a function on its own thread. Get blocks until the function
// has returned; every call after the first returns the cached value.
type Future[T any] struct {
	thread *Thread
	lock   *Lock
	joined bool
	result T
}

// NewFuture forks a thread named name that computes fn
func NewFuture[T any](name string, fn func(t *Thread) T) *Future[T] {
	f := &Future[T]{lock: NewLock()}
	f.thread = Go(name, func(t *Thread) {
		f.result = fn(t)
	})
	return f
}

// Thread returns the thread computing the value
func (f *Future[T]) Thread() *Thread {
	return f.thread
}

// Done reports whether the value is available without blocking
func (f *Future[T]) Done() bool {
	return f.thread.Finished()
}

// Get returns the computed value, waiting for it on behalf of t
func (f *Future[T]) Get(t *Thread) T {
	f.lock.Acquire(t)
	defer f.lock.Release(t)

	if !f.joined {
		f.thread.Join()
		f.joined = true
	}
	return f.result
}
