package grpcexec

import "google.golang.org/grpc/metadata"

// postResult runs fn on its own goroutine and reports {op, fn()==nil} to
// the completion queue once fn returns. Every async verb below follows
// this shape: exactly one blocking Responder call, exactly one tag
// posted. This is the goroutine-per-in-flight-RPC realization of the
// runtime's completion-queue callback. Complete (not Post) is used here:
// runInvoke has already Arrive'd this operation, so its eventual tag must
// still be delivered even if the queue shuts down while fn is blocked.
func postResult(sched Scheduler, op *Operation, fn func() error) {
	go func() {
		err := fn()
		sched.CompletionQueue().Complete(op, err == nil)
	}()
}

// AsyncRequest builds a sender that waits for the next incoming request
// message on responder, decoding it into req. This is the server-side
// "accept" verb: the operation that completes once a call has actually
// arrived.
func AsyncRequest(sched Scheduler, responder ServerResponder, req any) Sender {
	return newSender(sched.ctx, VerbAsyncRequest, func(op *Operation) {
		postResult(sched, op, func() error { return responder.RecvMsg(req) })
	})
}

// AsyncRead builds a sender that reads the next streamed message from
// responder into msg. Works for either a ServerResponder or a
// ClientResponder.
func AsyncRead(sched Scheduler, responder streamResponder, msg any) Sender {
	return newSender(sched.ctx, VerbAsyncRead, func(op *Operation) {
		postResult(sched, op, func() error { return responder.RecvMsg(msg) })
	})
}

// AsyncWrite builds a sender that writes msg as the next streamed message
// on responder. Works for either a ServerResponder or a ClientResponder.
func AsyncWrite(sched Scheduler, responder streamResponder, msg any) Sender {
	return newSender(sched.ctx, VerbAsyncWrite, func(op *Operation) {
		postResult(sched, op, func() error { return responder.SendMsg(msg) })
	})
}

// AsyncFinish builds a sender that ends the RPC by setting trailer
// metadata, with no response payload (e.g. a streaming RPC whose final
// message was already written via AsyncWrite). SetTrailer never blocks,
// so the completion is posted synchronously rather than from a goroutine.
func AsyncFinish(sched Scheduler, responder ServerResponder, trailer metadata.MD) Sender {
	return newSender(sched.ctx, VerbAsyncFinish, func(op *Operation) {
		responder.SetTrailer(trailer)
		sched.CompletionQueue().Complete(op, true)
	})
}

// AsyncFinishWithPayload builds a sender that sends payload as the final
// response message and sets trailer metadata, completing the RPC — the
// unary-response shape (agrpc's Finish(status, response)).
func AsyncFinishWithPayload(sched Scheduler, responder ServerResponder, payload any, trailer metadata.MD) Sender {
	return newSender(sched.ctx, VerbAsyncFinishWithPayload, func(op *Operation) {
		postResult(sched, op, func() error {
			if err := responder.SendMsg(payload); err != nil {
				return err
			}
			responder.SetTrailer(trailer)
			return nil
		})
	})
}

// AsyncWriteAndFinish builds a sender that writes msg as a streamed
// message and finishes the RPC in a single completion, saving the round
// trip of issuing AsyncWrite followed by a separate AsyncFinish.
func AsyncWriteAndFinish(sched Scheduler, responder ServerResponder, msg any, trailer metadata.MD) Sender {
	return newSender(sched.ctx, VerbAsyncWriteAndFinish, func(op *Operation) {
		postResult(sched, op, func() error {
			if err := responder.SendMsg(msg); err != nil {
				return err
			}
			responder.SetTrailer(trailer)
			return nil
		})
	})
}

// AsyncFinishWithError builds a sender that ends the RPC with trailer
// metadata describing a failure status and no response payload. The
// completion always reports ok=false: the RPC result the runtime would
// report for an error-terminated call.
func AsyncFinishWithError(sched Scheduler, responder ServerResponder, trailer metadata.MD) Sender {
	return newSender(sched.ctx, VerbAsyncFinishWithError, func(op *Operation) {
		responder.SetTrailer(trailer)
		sched.CompletionQueue().Complete(op, false)
	})
}

// AsyncSendInitialMetadata builds a sender that flushes header metadata to
// the client ahead of the first response message.
func AsyncSendInitialMetadata(sched Scheduler, responder ServerResponder, md metadata.MD) Sender {
	return newSender(sched.ctx, VerbAsyncSendInitialMetadata, func(op *Operation) {
		postResult(sched, op, func() error { return responder.SendHeader(md) })
	})
}

// AsyncClientFinish builds a sender that closes the send side of a client
// stream, signalling the server no more requests are coming.
func AsyncClientFinish(sched Scheduler, responder ClientResponder) Sender {
	return newSender(sched.ctx, VerbAsyncClientFinish, func(op *Operation) {
		postResult(sched, op, responder.CloseSend)
	})
}
