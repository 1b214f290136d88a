package grpcexec

import (
	"errors"
	"fmt"
)

// ErrRuntimeShutdown is returned by Context.Run when the completion queue's
// Next reports that the underlying RPC runtime has shut down.
var ErrRuntimeShutdown = errors.New("grpcexec: completion queue shut down")

// ReceiverError wraps a failure raised while delivering a value to a
// Receiver. It is the sender's "receiver_failure" error completion; the
// runtime's own ok/false outcome is never wrapped in an error, it is
// delivered as Receiver.SetValue(false) per spec.md §7.
type ReceiverError struct {
	Op    string // verb being completed, e.g. "AsyncRead"
	Inner error
}

func (e *ReceiverError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("grpcexec: receiver failed completing %s: %v", e.Op, e.Inner)
	}
	return fmt.Sprintf("grpcexec: receiver failed: %v", e.Inner)
}

func (e *ReceiverError) Unwrap() error { return e.Inner }

// WrapReceiverError wraps inner as a ReceiverError for the named verb. It
// returns nil if inner is nil.
func WrapReceiverError(op string, inner error) *ReceiverError {
	if inner == nil {
		return nil
	}
	return &ReceiverError{Op: op, Inner: inner}
}

// ProgrammerErrorCode classifies a core invariant violation. Per spec.md §7
// these are programmer errors: the core treats them as fatal assertions
// rather than attempting to recover, since continuing risks tag aliasing or
// double scheduling.
type ProgrammerErrorCode string

const (
	ErrCodeNilOperation  ProgrammerErrorCode = "nil operation scheduled"
	ErrCodeDoubleStart   ProgrammerErrorCode = "operation started twice"
	ErrCodeReentrantRun  ProgrammerErrorCode = "Run called reentrantly on same context"
	ErrCodeConcurrentRun ProgrammerErrorCode = "Run called from a second goroutine"
	ErrCodeUnknownTag    ProgrammerErrorCode = "completion queue returned an unrecognized tag"
)

// ProgrammerError is panicked (never returned) when the core detects one of
// the invariant violations enumerated by ProgrammerErrorCode. Op names the
// call in progress, mirroring the structured Op+Inner error style used
// throughout this codebase.
type ProgrammerError struct {
	Op    string
	Code  ProgrammerErrorCode
	Inner error
}

func (e *ProgrammerError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("grpcexec: %s (op=%s)", e.Code, e.Op)
	}
	return fmt.Sprintf("grpcexec: %s", e.Code)
}

func (e *ProgrammerError) Unwrap() error { return e.Inner }

func newProgrammerError(op string, code ProgrammerErrorCode) *ProgrammerError {
	return &ProgrammerError{Op: op, Code: code}
}

// IsProgrammerError reports whether err is (or wraps) a ProgrammerError with
// the given code.
func IsProgrammerError(err error, code ProgrammerErrorCode) bool {
	var pe *ProgrammerError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}
