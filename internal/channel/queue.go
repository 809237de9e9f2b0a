package channel

import (
	"sync/atomic"

	"github.com/kestrelnet/reactor/internal/frame"
)

// unflushedQueue is the producer-facing, lock-free MPSC queue spec.md §5
// names as a channel's only shared mutable state besides the reactor's
// public run-queue. There is no teacher analog (ublk never fans multiple
// goroutines into one queue); this is Dmitry Vyukov's intrusive MPSC
// node queue, reproduced directly rather than imported — the pack's own
// lock-free-queue reference (hayabusa-cloud-lfq, in other_examples) is a
// generic bounded ring buffer, not an intrusive unbounded list, so it
// doesn't fit frame.Frame's existing Next link; see DESIGN.md.
//
// Push is safe from any number of goroutines. Pop must only ever be
// called from the single consumer (the owning reactor thread).
type unflushedQueue struct {
	stub frame.Frame
	head atomic.Pointer[frame.Frame]
	tail *frame.Frame
}

func newUnflushedQueue() *unflushedQueue {
	q := &unflushedQueue{}
	q.head.Store(&q.stub)
	q.tail = &q.stub
	return q
}

// Empty is a non-consuming peek at whether the queue currently holds no
// frames. Consumer-only, same as Pop — it reads q.tail, which only the
// consumer ever writes.
func (q *unflushedQueue) Empty() bool {
	tail := q.tail
	return tail == &q.stub && tail.Next.Load() == nil
}

// Push enqueues f. Safe for concurrent use by multiple producers.
func (q *unflushedQueue) Push(f *frame.Frame) {
	f.Next.Store(nil)
	prev := q.head.Swap(f)
	prev.Next.Store(f)
}

// Pop dequeues the oldest frame, or returns nil if the queue is
// (possibly transiently) empty. Consumer-only.
func (q *unflushedQueue) Pop() *frame.Frame {
	tail := q.tail
	next := tail.Next.Load()

	if tail == &q.stub {
		if next == nil {
			return nil
		}
		q.tail = next
		tail = next
		next = next.Next.Load()
	}

	if next != nil {
		q.tail = next
		return tail
	}

	if tail != q.head.Load() {
		// A push is in flight between the Swap and the prev.Next.Store;
		// the list is momentarily inconsistent. Report empty and retry
		// next tick rather than spin.
		return nil
	}

	// tail is the last node in the list: splice in the stub so future
	// pushes link after it, then see if a push landed concurrently.
	q.Push(&q.stub)
	next = tail.Next.Load()
	if next != nil {
		q.tail = next
		return tail
	}
	return nil
}
