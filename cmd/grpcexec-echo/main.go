// Command grpcexec-echo is a minimal unary-echo gRPC server driving a
// single AsyncRequest -> AsyncFinishWithPayload round trip through a real
// *grpc.Server, exercising the whole stack end to end. Recovered from
// agrpc's example/server.cc.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	grpcexec "github.com/behrlich/grpcexec"
	"github.com/behrlich/grpcexec/internal/logging"
)

var echoServiceDesc = grpc.ServiceDesc{
	ServiceName: "grpcexec.echo.Echo",
	HandlerType: (*any)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName: "SayHello",
			Handler:    sayHelloHandler,
		},
	},
}

// server holds the grpcexec.Context the whole process drives its RPCs
// through; every accepted stream borrows its Scheduler.
type server struct {
	ctx *grpcexec.Context
}

func sayHelloHandler(srv any, stream grpc.ServerStream) error {
	s := srv.(*server)
	return s.handleSayHello(stream)
}

// callReceiver is the production Receiver: it blocks the handler's
// goroutine (the one grpc-go spawned to service this stream) until the
// driver goroutine has delivered a completion.
type callReceiver struct {
	done chan struct{}
	err  error
}

func newCallReceiver() *callReceiver { return &callReceiver{done: make(chan struct{})} }

func (r *callReceiver) SetValue(ok bool) {
	if !ok {
		r.err = fmt.Errorf("grpcexec-echo: verb completed with ok=false")
	}
	close(r.done)
}

func (r *callReceiver) SetError(err error) {
	r.err = err
	close(r.done)
}

func (r *callReceiver) SetDone() {
	r.err = grpcexec.ErrRuntimeShutdown
	close(r.done)
}

// await starts op and blocks the caller until its receiver fires,
// translating the sender/receiver continuation back into an ordinary
// blocking call for the handler goroutine to use.
func await(sender grpcexec.Sender) error {
	recv := newCallReceiver()
	op := grpcexec.Connect(sender, recv)
	grpcexec.Start(op)
	<-recv.done
	return recv.err
}

func (s *server) handleSayHello(stream grpc.ServerStream) error {
	responder := grpcexec.NewGRPCServerResponder(stream)
	sched := s.ctx.Scheduler()

	var req wrapperspb.StringValue
	if err := await(grpcexec.AsyncRequest(sched, responder, &req)); err != nil {
		return err
	}

	resp := wrapperspb.String("Hello " + req.GetValue())
	return await(grpcexec.AsyncFinishWithPayload(sched, responder, resp, nil))
}

func main() {
	port := flag.Int("port", 50051, "gRPC port to listen on")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	addr := fmt.Sprintf("0.0.0.0:%d", *port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Errorf("failed to listen on %s: %v", addr, err)
		os.Exit(1)
	}

	execCtx := grpcexec.NewContext(grpcexec.WithLogger(logger))
	grpcServer := grpc.NewServer()
	grpcServer.RegisterService(&echoServiceDesc, &server{ctx: execCtx})

	stopCtx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Infof("shutting down")
		grpcServer.GracefulStop()
		cancel()
	}()

	driverDone := make(chan error, 1)
	go func() { driverDone <- execCtx.Run(stopCtx) }()

	logger.Infof("grpcexec-echo listening on %s", addr)
	if err := grpcServer.Serve(lis); err != nil {
		logger.Errorf("serve exited: %v", err)
	}

	cancel()
	<-driverDone
}
