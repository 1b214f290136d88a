package grpcexec

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testOp builds a bare Operation against ctx whose invoke posts ok to the
// completion queue immediately, useful for exercising the driver loop
// without a real Responder.
func testOp(ctx *Context, ok bool) (*Operation, *FakeReceiver) {
	recv := NewFakeReceiver()
	sender := newSender(ctx, VerbAsyncFinish, func(op *Operation) {
		ctx.cq.Complete(op, ok)
	})
	return Connect(sender, recv), recv
}

func runUntilDone(t *testing.T, ctx *Context) (stop context.CancelFunc, done chan error) {
	t.Helper()
	runCtx, cancel := context.WithCancel(context.Background())
	done = make(chan error, 1)
	go func() { done <- ctx.Run(runCtx) }()
	return cancel, done
}

// TestScenarioSameThreadSchedule exercises spec.md §8 scenario 1: an
// operation scheduled from within another operation's resume must run in
// the NEXT driver iteration, never the one currently draining.
func TestScenarioSameThreadSchedule(t *testing.T) {
	ctx := NewContext()
	cancel, done := runUntilDone(t, ctx)
	defer cancel()

	var mu sync.Mutex
	var order []string

	b := &Operation{}
	b.resume = func(bool) {
		mu.Lock()
		order = append(order, "b")
		mu.Unlock()
	}

	aRan := make(chan struct{})
	a := &Operation{}
	a.resume = func(bool) {
		mu.Lock()
		order = append(order, "a")
		mu.Unlock()
		ctx.schedule(b, b.resume)
		close(aRan)
	}

	ctx.schedule(a, a.resume)

	select {
	case <-aRan:
	case <-time.After(time.Second):
		t.Fatal("a never ran")
	}

	// Give the driver one more iteration to drain b.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"a", "b"}, order)

	cancel()
	require.NoError(t, <-done)
}

func TestScenarioCrossThreadScheduleCold(t *testing.T) {
	ctx := NewContext()
	cancel, done := runUntilDone(t, ctx)
	defer cancel()

	// Give the driver a moment to block in Next with an empty queue.
	time.Sleep(20 * time.Millisecond)

	op, recv := testOp(ctx, true)
	go Start(op)

	select {
	case <-recv.Done():
	case <-time.After(time.Second):
		t.Fatal("cross-thread op never completed")
	}

	ok, isValue := recv.Result()
	require.True(t, isValue)
	require.True(t, ok)

	cancel()
	<-done
}

func TestScenarioCrossThreadBurst(t *testing.T) {
	ctx := NewContext()
	cancel, done := runUntilDone(t, ctx)
	defer cancel()

	const perProducer = 100
	var wg sync.WaitGroup
	receivers := make([]*FakeReceiver, 0, perProducer*2)
	var mu sync.Mutex

	producer := func() {
		defer wg.Done()
		for i := 0; i < perProducer; i++ {
			op, recv := testOp(ctx, true)
			mu.Lock()
			receivers = append(receivers, recv)
			mu.Unlock()
			Start(op)
		}
	}

	wg.Add(2)
	go producer()
	go producer()
	wg.Wait()

	for _, recv := range receivers {
		select {
		case <-recv.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("burst operation never completed")
		}
	}

	cancel()
	<-done
}

func TestScenarioUnaryServerFinish(t *testing.T) {
	ctx := NewContext()
	cancel, done := runUntilDone(t, ctx)
	defer cancel()

	responder := NewFakeServerResponder()
	sched := ctx.Scheduler()
	sender := AsyncFinishWithPayload(sched, responder, "response", nil)
	recv := NewFakeReceiver()

	op := Connect(sender, recv)
	Start(op)

	select {
	case <-recv.Done():
	case <-time.After(time.Second):
		t.Fatal("finish never completed")
	}

	ok, isValue := recv.Result()
	require.True(t, isValue)
	require.True(t, ok)

	_, sendCalls, _, _, trailerCalls := responder.Calls()
	require.Equal(t, 1, sendCalls)
	require.Equal(t, 1, trailerCalls)

	cancel()
	<-done
}

func TestScenarioStopWhileIdle(t *testing.T) {
	ctx := NewContext()
	runCtx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- ctx.Run(runCtx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("driver did not stop")
	}
}

// TestScenarioShutdownDrain exercises spec.md §8 scenario 6: each of n
// genuinely in-flight RPCs must still be delivered to its receiver exactly
// once even though Shutdown is called while every one of them is blocked
// inside its Responder call, not merely queued. The responder's RecvMsg
// blocks on a channel the test controls, so Shutdown provably lands with
// real work outstanding, not after it has already drained.
func TestScenarioShutdownDrain(t *testing.T) {
	ctx := NewContext()
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- ctx.Run(runCtx) }()

	const n = 10
	responder := NewFakeServerResponder()
	release := make(chan struct{})
	responder.RecvMsgFunc = func(any) error {
		<-release
		return nil
	}

	sched := ctx.Scheduler()
	receivers := make([]*FakeReceiver, 0, n)
	for i := 0; i < n; i++ {
		var req string
		sender := AsyncRequest(sched, responder, &req)
		recv := NewFakeReceiver()
		op := Connect(sender, recv)
		receivers = append(receivers, recv)
		Start(op)
	}

	// Wait until all n calls have actually entered RecvMsg (and so are
	// blocked on release) before shutting the queue down underneath them.
	require.Eventually(t, func() bool {
		recvCalls, _, _, _, _ := responder.Calls()
		return recvCalls == n
	}, time.Second, time.Millisecond)

	ctx.cq.Shutdown()

	// None of the receivers can have fired yet: every tag is still
	// in flight, blocked inside RecvMsg, and Shutdown must not drop them.
	for _, recv := range receivers {
		select {
		case <-recv.Done():
			t.Fatal("receiver completed before its in-flight call was released")
		default:
		}
	}

	close(release)

	for _, recv := range receivers {
		select {
		case <-recv.Done():
		case <-time.After(time.Second):
			t.Fatal("receiver never completed after shutdown drain")
		}
		ok, isValue := recv.Result()
		require.True(t, isValue)
		require.True(t, ok)
	}

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrRuntimeShutdown)
	case <-time.After(time.Second):
		t.Fatal("driver did not exit after shutdown")
	}
}

// recordingObserver counts the calls an Observer receives, for asserting
// that Context actually drives WithObserver's hook from the driver loop
// rather than leaving it unreferenced.
type recordingObserver struct {
	mu           sync.Mutex
	localDrains  int
	operationRun int
	remoteEnq    int
}

func (o *recordingObserver) ObserveLocalDrain() {
	o.mu.Lock()
	o.localDrains++
	o.mu.Unlock()
}

func (o *recordingObserver) ObserveOperationRun(verb string, latencyNs uint64, ok bool) {
	o.mu.Lock()
	o.operationRun++
	o.mu.Unlock()
}

func (o *recordingObserver) ObserveRemoteEnqueue(wasInactive bool) {
	o.mu.Lock()
	o.remoteEnq++
	o.mu.Unlock()
}

func (o *recordingObserver) snapshot() (localDrains, operationRun, remoteEnq int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.localDrains, o.operationRun, o.remoteEnq
}

func TestWithObserverReceivesDriverLoopEvents(t *testing.T) {
	obs := &recordingObserver{}
	ctx := NewContext(WithObserver(obs))
	cancel, done := runUntilDone(t, ctx)
	defer cancel()

	op, recv := testOp(ctx, true)
	go Start(op)

	select {
	case <-recv.Done():
	case <-time.After(time.Second):
		t.Fatal("observed op never completed")
	}

	require.Eventually(t, func() bool {
		localDrains, operationRun, remoteEnq := obs.snapshot()
		return localDrains > 0 && operationRun > 0 && remoteEnq > 0
	}, time.Second, time.Millisecond)

	cancel()
	<-done
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	ctx := NewContext()
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = ctx.Run(runCtx) }()
	time.Sleep(20 * time.Millisecond)

	require.Panics(t, func() {
		_ = ctx.Run(context.Background())
	})
}

func TestDoubleStartPanics(t *testing.T) {
	ctx := NewContext()
	recv := NewFakeReceiver()
	sender := newSender(ctx, VerbAsyncFinish, func(op *Operation) {
		ctx.cq.Complete(op, true)
	})
	op := Connect(sender, recv)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ctx.Run(runCtx) }()
	time.Sleep(10 * time.Millisecond)

	Start(op)
	<-recv.Done()

	require.Panics(t, func() { Start(op) })
}

func TestStartNilOperationPanics(t *testing.T) {
	require.Panics(t, func() { Start(nil) })
}

func TestRunRejectsReentrantRun(t *testing.T) {
	ctx := NewContext()

	reentered := make(chan any, 1)
	op := &Operation{}
	op.resume = func(bool) {
		defer func() { reentered <- recover() }()
		_ = ctx.Run(context.Background())
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ctx.Run(runCtx) }()
	time.Sleep(10 * time.Millisecond)

	ctx.schedule(op, op.resume)

	select {
	case r := <-reentered:
		require.NotNil(t, r)
	case <-time.After(time.Second):
		t.Fatal("reentrant Run did not panic")
	}
}
