package grpcexec

import (
	"context"
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/behrlich/grpcexec/internal/cq"
	"github.com/behrlich/grpcexec/internal/logging"
	"github.com/behrlich/grpcexec/internal/queue"
)

// wakeUpSentinel is the fixed, distinguished tag posted by a Context's
// Alarm. It is a dedicated, never-scheduled Operation so its address can
// never collide with a real operation's tag.
var wakeUpSentinel = &Operation{}

// Context is the single-threaded execution context: it owns the
// completion-queue handle, the local and remote queues, and the alarm used
// for self-wake-up. Its address is captured by every Operation created
// through it, so it must never be moved or copied after construction.
type Context struct {
	cq    *cq.Channel
	alarm *cq.Alarm

	local  queue.Local[*Operation]
	remote *queue.Remote[*Operation]

	// remoteReadPending mirrors spec's remote_read_pending: false means
	// the driver must (re-)poll the remote queue this iteration.
	remoteReadPending bool

	// lastOK is the ok flag from the most recently dequeued completion.
	// Safe to read from the operation's resume without synchronization
	// because each Next call hands back at most one operation, and the
	// driver runs that operation's resume before calling Next again. See DESIGN.md for the Open Question this
	// resolves.
	lastOK bool

	driverGoroutineID atomic.Uint64

	stopped bool

	affinityCPU int
	hasAffinity bool

	logger   *logging.Logger
	metrics  *Metrics
	observer Observer
}

// Option configures a Context at construction time.
type Option func(*Context)

// WithDriverAffinity pins the driver goroutine's OS thread to the given
// CPU once Run starts, the same way the teacher pins its io_uring
// processing thread — a genuine fit here too, since the driver is a
// dedicated, long-lived OS thread for the lifetime of Run.
func WithDriverAffinity(cpu int) Option {
	return func(c *Context) {
		c.affinityCPU = cpu
		c.hasAffinity = true
	}
}

// WithLogger overrides the default logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Context) { c.logger = l }
}

// WithMetrics overrides the default metrics instance.
func WithMetrics(m *Metrics) Option {
	return func(c *Context) { c.metrics = m }
}

// WithObserver installs an Observer that is notified of driver-loop
// events live, alongside the atomic counters Metrics accumulates. Useful
// for wiring a push-based exporter instead of (or in addition to) polling
// Metrics.Snapshot. The default Observer is NoOpObserver.
func WithObserver(o Observer) Option {
	return func(c *Context) { c.observer = o }
}

// WithCompletionQueue overrides the initial capacity of the
// completion-queue buffer (default 64). The buffer grows past it as
// needed, so depth never limits how many completions may be pending.
func WithCompletionQueue(depth int) Option {
	return func(c *Context) { c.cq = cq.NewChannel(depth) }
}

// NewContext creates a Context ready to have senders connected against it.
// Run must be called before any scheduled operation can make progress.
func NewContext(opts ...Option) *Context {
	c := &Context{
		logger:   logging.Default(),
		metrics:  NewMetrics(),
		observer: NoOpObserver{},
		cq:       cq.NewChannel(64),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.remote = queue.NewRemote[*Operation](wakeUpSentinel)
	c.alarm = cq.NewAlarm(wakeUpSentinel)
	return c
}

// CompletionQueue returns the context's completion-queue channel, for
// wiring a Responder adaptor's invocation goroutines.
func (c *Context) CompletionQueue() *cq.Channel { return c.cq }

// Scheduler returns a Scheduler handle borrowing this context.
func (c *Context) Scheduler() Scheduler { return Scheduler{ctx: c} }

// schedule enqueues op for execution, choosing the direct or remote path
// depending on which goroutine is calling.
func (c *Context) schedule(op *Operation, resume func(bool)) {
	op.resume = resume
	if isDriverGoroutine(c) {
		c.local.PushBack(op)
		return
	}
	wasInactive := c.remote.Enqueue(op)
	c.metrics.RecordRemoteEnqueue(wasInactive)
	c.observer.ObserveRemoteEnqueue(wasInactive)
	if wasInactive {
		c.alarm.Set(c.cq)
	}
}

// isDriverGoroutine reports whether the calling goroutine is the one
// currently executing Run on c.
func isDriverGoroutine(c *Context) bool {
	id := c.driverGoroutineID.Load()
	if id == 0 {
		return false
	}
	return getGoroutineID() == id
}

// getGoroutineID returns the current goroutine's numeric id, parsed from
// the runtime's stack dump. Go has no built-in goroutine-identity
// accessor; this is the idiomatic workaround used throughout the pack
// wherever "am I on thread X" must be answered without a real TLS slot.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

// Run drives the context until stopCtx is cancelled or the completion
// queue shuts down. At most one goroutine may be inside Run for a given
// Context at a time; calling Run reentrantly or concurrently on the same
// Context is a programmer error.
func (c *Context) Run(stopCtx context.Context) error {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Errorf("driver loop terminating on programmer error: %v", r)
			panic(r)
		}
	}()

	self := getGoroutineID()
	if current := c.driverGoroutineID.Load(); current != 0 {
		if current == self {
			panic(newProgrammerError("Context.Run", ErrCodeReentrantRun))
		}
		panic(newProgrammerError("Context.Run", ErrCodeConcurrentRun))
	}
	if !c.driverGoroutineID.CompareAndSwap(0, self) {
		panic(newProgrammerError("Context.Run", ErrCodeConcurrentRun))
	}
	defer c.driverGoroutineID.Store(0)

	if c.hasAffinity {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		var mask unix.CPUSet
		mask.Set(c.affinityCPU)
		if err := unix.SchedSetaffinity(0, &mask); err != nil {
			c.logger.Warnf("failed to pin driver to CPU %d: %v", c.affinityCPU, err)
		} else {
			c.logger.Debugf("driver pinned to CPU %d", c.affinityCPU)
		}
	}

	stopOp := &Operation{}
	stopOp.resume = func(bool) { c.stopped = true }

	watcherDone := make(chan struct{})
	go func() {
		select {
		case <-stopCtx.Done():
			c.schedule(stopOp, stopOp.resume)
		case <-watcherDone:
		}
	}()
	defer close(watcherDone)

	c.logger.Debugf("driver loop starting")
	defer c.logger.Debugf("driver loop exiting")

	for {
		// 1. Drain local: snapshot-swap so work scheduled during this
		// pass lands on the fresh queue and is processed next iteration.
		var batch queue.Local[*Operation]
		c.local.Swap(&batch)
		c.metrics.RecordLocalDrain()
		c.observer.ObserveLocalDrain()
		for {
			op, ok := batch.PopFront()
			if !ok {
				break
			}
			op.resume(c.lastOK)
		}

		// 2. Observe stop.
		if c.stopped {
			return nil
		}

		// 3. Migrate remote work.
		if !c.remoteReadPending {
			drained := c.remote.TryMarkInactiveOrDequeueAll()
			if !drained.Empty() {
				c.local.Append(drained)
				c.metrics.RecordRemoteMigration()
			} else {
				c.remoteReadPending = true
			}
		}

		// 4. Block on completion queue, unless migrated work is already
		// waiting on the local queue: that work runs first, next iteration.
		if !c.local.Empty() {
			continue
		}
		tag, ok := c.cq.Next()
		if tag == nil {
			c.drainAbandoned()
			return ErrRuntimeShutdown
		}
		c.lastOK = ok

		if tag == wakeUpSentinel {
			c.remoteReadPending = false
			c.metrics.RecordWakeUpObserved()
			continue
		}

		op, isOp := tag.(*Operation)
		if !isOp || op == nil {
			panic(newProgrammerError("Context.Run", ErrCodeUnknownTag))
		}
		c.local.PushBack(op)
	}
}

// drainAbandoned completes every operation still sitting in the local or
// remote queue with Done, once the completion queue has shut down and the
// driver is about to exit. By the time Next reports shutdown, cq.Channel
// has already delivered every Arrive'd completion for operations that made
// it to IN_FLIGHT (see internal/cq's Arrive/Complete), so the only
// operations left to reach here are ones that never got that far: still
// sitting in a queue, never invoked.
func (c *Context) drainAbandoned() {
	remaining := c.local
	c.local = queue.Local[*Operation]{}
	for {
		op, ok := remaining.PopFront()
		if !ok {
			break
		}
		op.completeDone()
	}

	drained := c.remote.TryMarkInactiveOrDequeueAll()
	for {
		op, ok := drained.PopFront()
		if !ok {
			break
		}
		op.completeDone()
	}
}
