package threads

import (
	"container/heap"
	"fmt"
)

// WaitEntry is a sleeping thread and the tick at which it becomes ready
type WaitEntry struct {
	Thread   *Thread
	Deadline uint64

	seq   uint64 // insertion order, breaks deadline ties
	index int    // position in the heap
}

// WaitQueue orders sleeping threads by deadline, ties broken by insertion
// order. A thread appears at most once. It is not safe for concurrent use;
// the Alarm serializes access.
type WaitQueue struct {
	entries  entryHeap
	byThread map[*Thread]*WaitEntry
	nextSeq  uint64
}

// NewWaitQueue creates an empty queue
func NewWaitQueue() *WaitQueue {
	return &WaitQueue{
		byThread: make(map[*Thread]*WaitEntry),
	}
}

// Push adds t with the given deadline
func (q *WaitQueue) Push(t *Thread, deadline uint64) *WaitEntry {
	if _, exists := q.byThread[t]; exists {
		panic(fmt.Sprintf("threads: %s is already in the wait queue", t))
	}

	entry := &WaitEntry{Thread: t, Deadline: deadline, seq: q.nextSeq}
	q.nextSeq++
	heap.Push(&q.entries, entry)
	q.byThread[t] = entry
	return entry
}

// Peek returns the entry with the earliest deadline, or nil
func (q *WaitQueue) Peek() *WaitEntry {
	if len(q.entries) == 0 {
		return nil
	}
	return q.entries[0]
}

// Pop removes and returns the entry with the earliest deadline, or nil
func (q *WaitQueue) Pop() *WaitEntry {
	if len(q.entries) == 0 {
		return nil
	}
	entry := heap.Pop(&q.entries).(*WaitEntry)
	delete(q.byThread, entry.Thread)
	return entry
}

// Remove takes t out of the queue. It returns false if t was not queued.
func (q *WaitQueue) Remove(t *Thread) (*WaitEntry, bool) {
	entry, exists := q.byThread[t]
	if !exists {
		return nil, false
	}
	heap.Remove(&q.entries, entry.index)
	delete(q.byThread, t)
	return entry, true
}

// Contains reports whether t is queued
func (q *WaitQueue) Contains(t *Thread) bool {
	_, exists := q.byThread[t]
	return exists
}

// Len returns the number of queued threads
func (q *WaitQueue) Len() int {
	return len(q.entries)
}

type entryHeap []*WaitEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].Deadline != h[j].Deadline {
		return h[i].Deadline < h[j].Deadline
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	entry := x.(*WaitEntry)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}
