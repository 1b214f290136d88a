package grpcexec

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/behrlich/grpcexec/internal/queue"
)

type operationState int32

const (
	stateInit operationState = iota
	stateScheduling
	stateInFlight
	stateCompleted
)

// Operation is the pinned, heap-stable record representing one in-flight
// RPC. Its address is used both as the queue link target and as the
// opaque completion tag handed to the runtime. From the moment Start is
// called until the receiver is completed, an Operation is reachable from
// exactly one of: the local queue, the remote queue, or the runtime as a
// pending tag — never two at once.
type Operation struct {
	next *Operation

	ctx      *Context
	verb     string
	invoke   func(op *Operation)
	receiver Receiver

	// resume is invoked by the driver when this operation reaches the
	// front of the local queue. Its meaning changes with state: "run the
	// invocation" while SCHEDULING, "deliver the outcome" while IN_FLIGHT.
	resume func(ok bool)

	state   operationState
	started atomic.Bool

	// completionOK mirrors Context.lastOK onto the operation itself, so a
	// future driver that batches multiple Next calls per iteration has
	// somewhere safe to read ok from. See DESIGN.md for the Open Question
	// this resolves.
	completionOK atomic.Bool

	invokedAt int64 // UnixNano, set by runInvoke
}

// Next and SetNext satisfy queue.Linked[*Operation].
func (op *Operation) Next() *Operation     { return op.next }
func (op *Operation) SetNext(n *Operation) { op.next = n }

var _ queue.Linked[*Operation] = (*Operation)(nil)

// start transitions the operation out of INIT. Called on the driver
// goroutine it issues the RPC invocation immediately (INIT -> IN_FLIGHT);
// called off-thread it lands on the remote queue first (INIT ->
// SCHEDULING), to be picked up and invoked by the driver's next local
// drain.
func (op *Operation) start() {
	if !op.started.CompareAndSwap(false, true) {
		panic(newProgrammerError("Operation.start", ErrCodeDoubleStart))
	}

	if isDriverGoroutine(op.ctx) {
		op.runInvoke()
		return
	}

	op.state = stateScheduling
	op.resume = func(bool) { op.runInvoke() }
	wasInactive := op.ctx.remote.Enqueue(op)
	op.ctx.metrics.RecordRemoteEnqueue(wasInactive)
	op.ctx.observer.ObserveRemoteEnqueue(wasInactive)
	if wasInactive {
		op.ctx.alarm.Set(op.ctx.cq)
	}
}

// runInvoke issues the RPC call, tagging it with op's own address, and
// arms resume to deliver the eventual completion. Only ever called on the
// driver goroutine.
func (op *Operation) runInvoke() {
	op.state = stateInFlight
	op.resume = op.onCompletion
	op.invokedAt = time.Now().UnixNano()
	op.ctx.cq.Arrive()
	op.invoke(op)
}

// onCompletion is the resume function run once the runtime has returned
// this operation's tag. It delivers exactly one outcome to the receiver.
func (op *Operation) onCompletion(ok bool) {
	op.state = stateCompleted
	op.completionOK.Store(ok)
	latencyNs := uint64(time.Now().UnixNano() - op.invokedAt)
	op.ctx.metrics.RecordOperationRun(latencyNs, ok)
	op.ctx.observer.ObserveOperationRun(op.verb, latencyNs, ok)

	defer func() {
		if r := recover(); r != nil {
			op.receiver.SetError(WrapReceiverError(op.verb, fmt.Errorf("%v", r)))
		}
	}()
	op.receiver.SetValue(ok)
}

// completeDone delivers cancellation to the receiver without ever issuing
// an RPC invocation. Used for operations abandoned by a runtime shutdown
// that the driver observed before the operation reached IN_FLIGHT.
func (op *Operation) completeDone() {
	op.state = stateCompleted
	op.receiver.SetDone()
}
