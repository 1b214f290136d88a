package grpcexec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnectIsNonInvoking(t *testing.T) {
	ctx := NewContext()
	invoked := false
	sender := newSender(ctx, VerbAsyncRead, func(op *Operation) {
		invoked = true
	})
	recv := NewFakeReceiver()

	op := Connect(sender, recv)
	require.NotNil(t, op)
	require.False(t, invoked, "Connect must not invoke the sender")
	require.Equal(t, string(VerbAsyncRead), op.verb)
}

func TestStartNilPanicsWithNilOperationCode(t *testing.T) {
	defer func() {
		r := recover()
		require.NotNil(t, r)
		pe, ok := r.(*ProgrammerError)
		require.True(t, ok)
		require.Equal(t, ErrCodeNilOperation, pe.Code)
	}()
	Start(nil)
}

func TestVerbTagConstantsAreDistinct(t *testing.T) {
	tags := []VerbTag{
		VerbAsyncRequest,
		VerbAsyncRead,
		VerbAsyncWrite,
		VerbAsyncFinish,
		VerbAsyncFinishWithPayload,
		VerbAsyncWriteAndFinish,
		VerbAsyncFinishWithError,
		VerbAsyncSendInitialMetadata,
		VerbAsyncClientFinish,
	}
	seen := make(map[VerbTag]bool, len(tags))
	for _, tag := range tags {
		require.False(t, seen[tag], "duplicate verb tag %q", tag)
		seen[tag] = true
	}
}
