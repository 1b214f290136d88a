package grpcexec

import "github.com/behrlich/grpcexec/internal/cq"

// Scheduler is a cheap, copyable handle borrowing a Context. It exposes
// only what a sender factory needs: the target context for connecting new
// operations, and the completion-queue accessor used by verbs that must
// address the queue directly (e.g. to post a tag from an invocation
// goroutine).
type Scheduler struct {
	ctx *Context
}

// CompletionQueue returns the completion-queue channel backing the
// scheduler's context.
func (s Scheduler) CompletionQueue() *cq.Channel {
	return s.ctx.CompletionQueue()
}
