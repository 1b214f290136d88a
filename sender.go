package grpcexec

// Receiver is the continuation a Sender delivers its outcome to. Exactly
// one of SetValue, SetError, or SetDone is called, exactly once, per
// connected operation.
type Receiver interface {
	// SetValue delivers the runtime's rpc_result: whether the tag
	// completed successfully.
	SetValue(ok bool)

	// SetError delivers a receiver_failure: SetValue itself panicked or
	// otherwise failed to complete.
	SetError(err error)

	// SetDone signals cancellation: the operation will never complete
	// because the runtime shut down before issuing the call.
	SetDone()
}

// VerbTag is a customization-point object identifying one RPC verb, so
// that a caller wiring an alternative scheduler can intercept a single
// verb without touching the others. Recovered from agrpc's per-verb
// customization-point-object pattern (rpcs.h).
type VerbTag string

const (
	VerbAsyncRequest             VerbTag = "AsyncRequest"
	VerbAsyncRead                VerbTag = "AsyncRead"
	VerbAsyncWrite               VerbTag = "AsyncWrite"
	VerbAsyncFinish              VerbTag = "AsyncFinish"
	VerbAsyncFinishWithPayload   VerbTag = "AsyncFinishWithPayload"
	VerbAsyncWriteAndFinish      VerbTag = "AsyncWriteAndFinish"
	VerbAsyncFinishWithError     VerbTag = "AsyncFinishWithError"
	VerbAsyncSendInitialMetadata VerbTag = "AsyncSendInitialMetadata"
	VerbAsyncClientFinish        VerbTag = "AsyncClientFinish"
)

// Sender is a lazy description of one RPC verb invocation bound to a
// Context. Building one performs no I/O: the call happens only after
// Connect followed by Start.
type Sender struct {
	ctx    *Context
	verb   VerbTag
	invoke func(op *Operation)
}

func newSender(ctx *Context, verb VerbTag, invoke func(op *Operation)) Sender {
	return Sender{ctx: ctx, verb: verb, invoke: invoke}
}

// Connect binds sender to receiver, producing an Operation. Connect is
// non-invoking: it merely composes. The RPC call is issued only once
// Start is called on the result.
func Connect(s Sender, r Receiver) *Operation {
	return &Operation{
		ctx:      s.ctx,
		verb:     string(s.verb),
		invoke:   s.invoke,
		receiver: r,
	}
}

// Start begins op: at most once, eventually delivering exactly one of
// Receiver.SetValue, SetError, or SetDone on the driver goroutine.
func Start(op *Operation) {
	if op == nil {
		panic(newProgrammerError("Start", ErrCodeNilOperation))
	}
	op.start()
}
