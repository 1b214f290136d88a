package grpcexec

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// ServerResponder is the abstract server-side RPC runtime surface the
// sender factory issues calls against. Callers of this package supply an
// implementation (GRPCServerResponder below is the reference one); the
// core never assumes anything about the runtime beyond this contract.
type ServerResponder interface {
	SendMsg(m any) error
	RecvMsg(m any) error
	SetHeader(md metadata.MD) error
	SendHeader(md metadata.MD) error
	SetTrailer(md metadata.MD)
}

// ClientResponder is the abstract client-side RPC runtime surface.
// google.golang.org/grpc's ClientStream already has the exact shape the
// sender factory needs, so it is used directly rather than re-declared.
type ClientResponder interface {
	grpc.ClientStream
}

// streamResponder is satisfied by both ServerResponder and ClientResponder;
// AsyncRead/AsyncWrite are defined against it so the same verb
// implementation serves either side of a call.
type streamResponder interface {
	SendMsg(m any) error
	RecvMsg(m any) error
}

// GRPCServerResponder adapts a grpc.ServerStream into a ServerResponder.
// It is the reference Responder implementation: each async verb in
// verbs.go that can block spawns a goroutine that performs the one
// blocking call the runtime would
// otherwise deliver via a C-core completion-queue callback, then posts
// {tag, ok} onto the owning Context's completion channel. This is the
// Go-native equivalent of grpc::CompletionQueue's tag dispatch.
type GRPCServerResponder struct {
	grpc.ServerStream
}

// NewGRPCServerResponder wraps an in-flight grpc.ServerStream (as seen
// inside a streaming handler, or via grpc.ServerTransportStream for
// unary) for use with the sender factory in verbs.go.
func NewGRPCServerResponder(stream grpc.ServerStream) *GRPCServerResponder {
	return &GRPCServerResponder{ServerStream: stream}
}

var _ ServerResponder = (*GRPCServerResponder)(nil)
