package rpc

import (
	"net"
	"time"

	"google.golang.org/grpc"

	"github.com/wfunc/planningpoker/logger"
)

const stopGrace = 5 * time.Second

// Server manages the gRPC listener.
type Server struct {
	listener   net.Listener
	address    string
	grpcServer *grpc.Server
}

// NewServer listens on addr and registers svc; it does not serve yet.
func NewServer(addr string, svc RoomsServer, opts ...grpc.ServerOption) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewServerWithListener(listener, svc, opts...), nil
}

func NewServerWithListener(listener net.Listener, svc RoomsServer, opts ...grpc.ServerOption) *Server {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(logUnary)}, opts...)
	gs := grpc.NewServer(opts...)
	gs.RegisterService(&RoomsServiceDesc, svc)
	return &Server{
		listener:   listener,
		address:    listener.Addr().String(),
		grpcServer: gs,
	}
}

// Start serves until Stop.
func (s *Server) Start() error {
	logger.Log.Infof("RPC server listening on %s", s.address)
	if err := s.grpcServer.Serve(s.listener); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Stop waits for pending calls and closes the listener. Watch streams do
// not end on their own, so after stopGrace the remaining calls are cut off.
func (s *Server) Stop() {
	logger.Log.Info("Stopping RPC server.")
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopGrace):
		s.grpcServer.Stop()
		<-done
	}
}

func (s *Server) Addr() string {
	return s.address
}
