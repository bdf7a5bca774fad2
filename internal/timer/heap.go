// Package timer implements the per-connection expiry min-heap: a classical
// binary heap plus an fd-keyed index so adjust and cancel run in O(log n)
// without a linear scan.
package timer

import (
	"container/heap"
	"errors"
	"time"
)

// ErrAlreadyPresent is returned by Add when fd already has a live entry.
var ErrAlreadyPresent = errors.New("timer: fd already has an active entry")

// OnExpire is invoked on the heap owner's goroutine when a timer fires. It
// must not block.
type OnExpire func(fd int)

type entry struct {
	deadline time.Time
	fd       int
	onExpire OnExpire
	index    int // position in the heap slice, maintained by Swap
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Heap is a min-heap of (deadline, fd, onExpire) entries, indexed by fd for
// O(log n) Adjust and Cancel. It is not safe for concurrent use; the spec
// confines it to a single owning goroutine (the event loop).
type Heap struct {
	h     entryHeap
	byFd  map[int]*entry
	nowFn func() time.Time
}

// New creates an empty Heap. nowFn defaults to time.Now; tests may supply a
// deterministic clock.
func New(nowFn func() time.Time) *Heap {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Heap{
		byFd:  make(map[int]*entry),
		nowFn: nowFn,
	}
}

// Add inserts a new entry for fd with the given timeout. It is an error to
// add a duplicate fd; the caller must Cancel first.
func (t *Heap) Add(fd int, timeout time.Duration, onExpire OnExpire) error {
	if _, ok := t.byFd[fd]; ok {
		return ErrAlreadyPresent
	}
	e := &entry{
		deadline: t.nowFn().Add(timeout),
		fd:       fd,
		onExpire: onExpire,
	}
	heap.Push(&t.h, e)
	t.byFd[fd] = e
	return nil
}

// Adjust replaces fd's deadline with now+timeout and resifts it into
// position. It is a no-op if fd has no entry.
func (t *Heap) Adjust(fd int, timeout time.Duration) {
	e, ok := t.byFd[fd]
	if !ok {
		return
	}
	e.deadline = t.nowFn().Add(timeout)
	heap.Fix(&t.h, e.index)
}

// Cancel removes fd's entry, if any.
func (t *Heap) Cancel(fd int) {
	e, ok := t.byFd[fd]
	if !ok {
		return
	}
	heap.Remove(&t.h, e.index)
	delete(t.byFd, fd)
}

// Len reports the number of live entries.
func (t *Heap) Len() int { return len(t.h) }

// Tick pops and invokes every expired entry's onExpire callback in
// non-decreasing deadline order, then returns the number of milliseconds
// until the new top entry expires, or -1 if the heap is empty.
func (t *Heap) Tick() int {
	now := t.nowFn()
	for t.h.Len() > 0 {
		top := t.h[0]
		if top.deadline.After(now) {
			break
		}
		heap.Pop(&t.h)
		delete(t.byFd, top.fd)
		top.onExpire(top.fd)
		now = t.nowFn()
	}

	if t.h.Len() == 0 {
		return -1
	}

	wait := t.h[0].deadline.Sub(now)
	if wait < 0 {
		wait = 0
	}
	return int(wait / time.Millisecond)
}
