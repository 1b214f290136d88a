package queue

import "sync/atomic"

// Remote is a lock-free multi-producer/single-consumer intrusive queue that
// additionally tracks a consumer-active bit, so producers know whether they
// are responsible for waking the consumer.
//
// The active bit and the work list share one atomic.Pointer[T] word:
//   - nil              -> empty, consumer inactive
//   - sentinel          -> empty, consumer active
//   - any other value  -> a LIFO chain of pending operations, consumer active
//
// This lets a single pointer-wide CAS carry both the list and the bit,
// without a double-width or tagged-pointer atomic. The sentinel is supplied
// by the caller because only the caller (which knows T's concrete type) can
// manufacture a T value guaranteed never to collide with a real operation.
type Remote[T Linked[T]] struct {
	head     atomic.Pointer[T]
	sentinel T
}

// NewRemote creates a Remote queue using sentinel as the distinguished
// "empty, active" marker. sentinel must never be enqueued as real work.
func NewRemote[T Linked[T]](sentinel T) *Remote[T] {
	return &Remote[T]{sentinel: sentinel}
}

// Enqueue links op onto the queue and reports whether this call observed
// (and resolved) the inactive-to-active transition — i.e. whether the
// caller is now obligated to wake the consumer. Exactly one Enqueue call
// returns true per inactive interval.
func (q *Remote[T]) Enqueue(op T) (wasInactive bool) {
	var zero T
	for {
		old := q.head.Load()
		switch {
		case old == nil:
			op.SetNext(zero)
			if q.head.CompareAndSwap(old, ptr(op)) {
				return true
			}
		case *old == q.sentinel:
			op.SetNext(zero)
			if q.head.CompareAndSwap(old, ptr(op)) {
				return false
			}
		default:
			op.SetNext(*old)
			if q.head.CompareAndSwap(old, ptr(op)) {
				return false
			}
		}
	}
}

// TryMarkInactiveOrDequeueAll atomically extracts the full pending list (in
// FIFO insertion order) if the queue is non-empty, leaving the consumer
// marked active; if the queue is empty, it marks the consumer inactive and
// returns an empty list.
func (q *Remote[T]) TryMarkInactiveOrDequeueAll() *Local[T] {
	out := &Local[T]{}
	for {
		old := q.head.Load()
		if old == nil {
			return out
		}
		if *old == q.sentinel {
			if q.head.CompareAndSwap(old, nil) {
				return out
			}
			continue
		}
		if q.head.CompareAndSwap(old, ptr(q.sentinel)) {
			// old is the head of a LIFO chain (newest first); reverse it
			// in place into FIFO order (oldest first) before handing it
			// to the caller.
			var zero, prev T
			newTail := *old
			cur := *old
			for cur != zero {
				next := cur.Next()
				cur.SetNext(prev)
				prev = cur
				cur = next
			}
			out.PushChain(prev, newTail)
			return out
		}
	}
}

func ptr[T any](v T) *T { return &v }

// PushChain installs an already-linked chain [head..tail] as the entire
// contents of q. q must be empty.
func (q *Local[T]) PushChain(head, tail T) {
	q.head, q.tail = head, tail
}
