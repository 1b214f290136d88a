// Package cq abstracts the completion-queue contract the driver loop
// depends on: a blocking Next that dequeues {tag, ok} pairs, a Shutdown
// that eventually makes Next return false once every Arrive'd completion
// has been delivered, and a reusable one-shot Alarm used to wake the
// driver out of a blocked Next without a real completion.
package cq

import "sync"

// Queue is a blocking tag dequeue, modeled after grpc::CompletionQueue.
// Next returns a nil tag (with ok=false) once the queue has been shut
// down and every previously submitted tag has been delivered; a non-nil
// tag is always a real event, whose ok may itself be false. nil is
// therefore never used as an event tag.
type Queue interface {
	// Next blocks until a tag is available or the queue shuts down.
	Next() (tag any, ok bool)

	// Shutdown requests that Next eventually return false. Safe to call
	// from any goroutine, any number of times.
	Shutdown()
}

// Channel is the reference Queue implementation: an unbounded buffer of
// pending events fed by goroutines that perform one blocking call and
// then report their tag. This is the Go-native equivalent of the C-core
// completion queue: instead of a polling thread invoking a C callback,
// each in-flight call owns a goroutine that blocks on exactly the one
// operation it issued. The buffer is unbounded (a growable slice, not a
// fixed-capacity Go channel) so that Post and Complete never block their
// caller — in particular so a verb that completes synchronously from the
// driver goroutine itself (AsyncFinish, AsyncFinishWithError) can never
// deadlock the driver against its own backlog.
type Channel struct {
	mu      sync.Mutex
	cond    *sync.Cond
	events  []event
	closed  bool
	pending int64 // Arrive'd completions not yet delivered via Complete
}

type event struct {
	tag any
	ok  bool
}

// NewChannel creates a completion queue, pre-sizing its internal buffer to
// depth entries. depth is a capacity hint only: the buffer grows without
// bound past it, it is never a limit on how many events may be pending.
func NewChannel(depth int) *Channel {
	c := &Channel{}
	if depth > 0 {
		c.events = make([]event, 0, depth)
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Next implements Queue. Once Shutdown has been called, Next keeps
// delivering buffered events and only reports shutdown (nil, false) once the
// buffer is empty AND every Arrive'd completion has been delivered via
// Complete — so a call that was already in flight when Shutdown was called
// is never silently dropped.
func (c *Channel) Next() (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.events) == 0 && (!c.closed || c.pending > 0) {
		c.cond.Wait()
	}
	if len(c.events) == 0 {
		return nil, false
	}
	ev := c.events[0]
	c.events = c.events[1:]
	return ev.tag, ev.ok
}

// Shutdown implements Queue. It does not itself wait for anything: it
// only flips a flag and wakes any blocked Next. Next then continues to
// deliver both already-buffered events and any still-pending Arrive'd
// completions, and only starts returning false once both are exhausted.
// A call that begins concurrently with Shutdown (Arrive has not yet run)
// is not covered by this guarantee, the same way grpc::CompletionQueue
// requires no new work be submitted once Shutdown has been called.
func (c *Channel) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cond.Broadcast()
}

// Post delivers {tag, ok} to a future Next call. Safe to call from any
// goroutine, including the driver goroutine itself, and never blocks.
// Post is a no-op after Shutdown: it is for tags, like the Alarm
// wake-up sentinel, that are not part of the runtime's "every tag is
// eventually returned" contract and so have nothing to flush. Completions
// for in-flight runtime calls must go through Arrive/Complete instead.
func (c *Channel) Post(tag any, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events = append(c.events, event{tag: tag, ok: ok})
	c.cond.Signal()
}

// Arrive records that one more completion is expected before the queue
// may report shutdown: call it when a runtime call is issued, before it
// can possibly block. Every Arrive must be paired with exactly one later
// Complete, even if Shutdown is called in between.
func (c *Channel) Arrive() {
	c.mu.Lock()
	c.pending++
	c.mu.Unlock()
}

// Complete delivers {tag, ok} for a previously Arrive'd call. Unlike
// Post, Complete always delivers, Shutdown or no: this is what lets
// Next keep draining genuinely in-flight completions instead of
// dropping them once the queue is closed.
func (c *Channel) Complete(tag any, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event{tag: tag, ok: ok})
	c.pending--
	c.cond.Broadcast()
}

// Alarm is a reusable one-shot wake-up primitive: Set posts a fixed tag to
// a Channel, causing a blocked Next to return {tag, true} promptly. It is
// the Go-native analogue of grpc::Alarm used by agrpc's completion-queue
// adaptor to break a context out of a blocking Next when in-process work
// (not a runtime completion) needs attention.
type Alarm struct {
	tag any
}

// NewAlarm creates an Alarm that will post tag when Set is called.
func NewAlarm(tag any) *Alarm {
	return &Alarm{tag: tag}
}

// Set fires the alarm against cq. Safe to call from any goroutine,
// concurrently with itself.
func (a *Alarm) Set(cq *Channel) {
	cq.Post(a.tag, true)
}
