package grpcexec

import (
	"sync"

	"google.golang.org/grpc/metadata"
)

// FakeReceiver is a Receiver that records the single outcome delivered to
// it and exposes a Done channel tests can select on, instead of polling.
// Grounded on the teacher's MockBackend call-tracking style (mutex-guarded
// counters queryable after the fact).
type FakeReceiver struct {
	mu       sync.Mutex
	done     chan struct{}
	signaled bool

	value bool
	err   error
	isErr bool
	isOK  bool
}

// NewFakeReceiver creates a FakeReceiver ready to be connected to a Sender.
func NewFakeReceiver() *FakeReceiver {
	return &FakeReceiver{done: make(chan struct{})}
}

func (r *FakeReceiver) SetValue(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.signaled {
		panic(newProgrammerError("FakeReceiver.SetValue", ErrCodeDoubleStart))
	}
	r.signaled, r.isOK, r.value = true, true, ok
	close(r.done)
}

func (r *FakeReceiver) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.signaled {
		panic(newProgrammerError("FakeReceiver.SetError", ErrCodeDoubleStart))
	}
	r.signaled, r.isErr, r.err = true, true, err
	close(r.done)
}

func (r *FakeReceiver) SetDone() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.signaled {
		panic(newProgrammerError("FakeReceiver.SetDone", ErrCodeDoubleStart))
	}
	r.signaled = true
	close(r.done)
}

// Done returns a channel closed once the receiver has been signaled.
func (r *FakeReceiver) Done() <-chan struct{} { return r.done }

// Result returns the value delivered via SetValue and whether SetValue (as
// opposed to SetError/SetDone) was the completion that fired. Safe to call
// only after Done has fired.
func (r *FakeReceiver) Result() (ok bool, isValue bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value, r.isOK
}

// Err returns the error delivered via SetError, if that was the
// completion that fired.
func (r *FakeReceiver) Err() (err error, isErr bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err, r.isErr
}

// FakeServerResponder is a ServerResponder that records every call made to
// it and lets a test script the value/error returned by each. All
// counters and scripted responses are guarded by mu, since verbs invoke
// Responder methods from their own goroutine.
type FakeServerResponder struct {
	mu sync.Mutex

	RecvMsgFunc    func(m any) error
	SendMsgFunc    func(m any) error
	SetHeaderFunc  func(md metadata.MD) error
	SendHeaderFunc func(md metadata.MD) error

	recvCalls       int
	sendCalls       int
	setHeaderCalls  int
	sendHeaderCalls int
	setTrailerCalls int
	lastTrailer     metadata.MD
}

// NewFakeServerResponder creates a FakeServerResponder whose calls succeed
// by default; assign the *Func fields to script specific behavior.
func NewFakeServerResponder() *FakeServerResponder {
	return &FakeServerResponder{}
}

func (f *FakeServerResponder) RecvMsg(m any) error {
	f.mu.Lock()
	f.recvCalls++
	fn := f.RecvMsgFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(m)
	}
	return nil
}

func (f *FakeServerResponder) SendMsg(m any) error {
	f.mu.Lock()
	f.sendCalls++
	fn := f.SendMsgFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(m)
	}
	return nil
}

func (f *FakeServerResponder) SetHeader(md metadata.MD) error {
	f.mu.Lock()
	f.setHeaderCalls++
	fn := f.SetHeaderFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(md)
	}
	return nil
}

func (f *FakeServerResponder) SendHeader(md metadata.MD) error {
	f.mu.Lock()
	f.sendHeaderCalls++
	fn := f.SendHeaderFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(md)
	}
	return nil
}

func (f *FakeServerResponder) SetTrailer(md metadata.MD) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setTrailerCalls++
	f.lastTrailer = md
}

// Calls returns a snapshot of every call counter, for assertions.
func (f *FakeServerResponder) Calls() (recv, send, setHeader, sendHeader, setTrailer int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recvCalls, f.sendCalls, f.setHeaderCalls, f.sendHeaderCalls, f.setTrailerCalls
}
