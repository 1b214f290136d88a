// Package queue implements the intrusive local and remote work queues that
// feed a driver loop: a single-producer/single-consumer FIFO owned by the
// driver goroutine, and a lock-free multi-producer/single-consumer queue
// with an embedded consumer-active bit used to coalesce wake-ups.
package queue

// Linked is satisfied by the intrusive link field of a queued item. T is
// expected to be a pointer type, so its zero value is nil and comparisons
// against it are cheap.
type Linked[T any] interface {
	comparable
	Next() T
	SetNext(T)
}

// Local is an intrusive singly-linked FIFO. push_back, pop_front, empty and
// append are all O(1). Not safe for concurrent use: exactly one goroutine —
// the driver — may touch a given Local at a time.
type Local[T Linked[T]] struct {
	head, tail T
}

// Empty reports whether no operation is currently waiting to resume.
func (q *Local[T]) Empty() bool {
	var zero T
	return q.head == zero
}

// PushBack appends op to the tail of the queue.
func (q *Local[T]) PushBack(op T) {
	var zero T
	op.SetNext(zero)
	if q.tail == zero {
		q.head, q.tail = op, op
		return
	}
	q.tail.SetNext(op)
	q.tail = op
}

// PopFront removes and returns the head of the queue. The second return
// value is false if the queue was empty.
func (q *Local[T]) PopFront() (T, bool) {
	var zero T
	if q.head == zero {
		return zero, false
	}
	op := q.head
	q.head = op.Next()
	if q.head == zero {
		q.tail = zero
	}
	op.SetNext(zero)
	return op, true
}

// Append moves the contents of other onto the tail of q in O(1), leaving
// other empty.
func (q *Local[T]) Append(other *Local[T]) {
	var zero T
	if other.head == zero {
		return
	}
	if q.head == zero {
		q.head = other.head
	} else {
		q.tail.SetNext(other.head)
	}
	q.tail = other.tail
	other.head, other.tail = zero, zero
}

// Swap exchanges the contents of q and other in O(1). The driver uses this
// to snapshot the queue before draining it, so operations scheduled during
// the drain land on the (now fresh) queue rather than being processed in
// the same pass.
func (q *Local[T]) Swap(other *Local[T]) {
	q.head, other.head = other.head, q.head
	q.tail, other.tail = other.tail, q.tail
}
