package grpcexec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReceiverError(t *testing.T) {
	inner := errors.New("boom")
	err := WrapReceiverError("AsyncRead", inner)

	require.ErrorIs(t, err, inner)
	require.Equal(t, "grpcexec: receiver failed completing AsyncRead: boom", err.Error())
}

func TestWrapReceiverErrorNil(t *testing.T) {
	require.Nil(t, WrapReceiverError("AsyncRead", nil))
}

func TestProgrammerError(t *testing.T) {
	err := newProgrammerError("Operation.start", ErrCodeDoubleStart)

	require.True(t, IsProgrammerError(err, ErrCodeDoubleStart))
	require.False(t, IsProgrammerError(err, ErrCodeNilOperation))
	require.Equal(t, "grpcexec: operation started twice (op=Operation.start)", err.Error())
}

func TestIsProgrammerErrorNil(t *testing.T) {
	require.False(t, IsProgrammerError(nil, ErrCodeDoubleStart))
	require.False(t, IsProgrammerError(errors.New("plain"), ErrCodeDoubleStart))
}
