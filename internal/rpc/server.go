// Package rpc provides the daemon's local API: a JSON-RPC-style protocol
// carried over gRPC on a unix socket, shared by the CLI and any editor
// integration running on the same host.
package rpc

import (
	"fmt"
	"net"
	"os"

	"google.golang.org/grpc"
)

// Server wraps the gRPC server and its listener.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	handler    *Handler
}

// NewServer creates a gRPC server bound to a unix socket. A stale socket
// file from a previous run is removed first.
func NewServer(socketPath string, svc *Service) (*Server, error) {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale socket %s: %w", socketPath, err)
	}

	lis, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		lis.Close()
		return nil, fmt.Errorf("restricting socket permissions: %w", err)
	}

	return newServer(lis, svc), nil
}

// NewTCPServer creates a plaintext gRPC server for local/dev use.
func NewTCPServer(addr string, svc *Service) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	return newServer(lis, svc), nil
}

func newServer(lis net.Listener, svc *Service) *Server {
	s := grpc.NewServer()
	h := NewHandler(svc)
	h.RegisterWithGRPC(s)

	return &Server{
		grpcServer: s,
		listener:   lis,
		handler:    h,
	}
}

// Serve starts serving requests.
func (s *Server) Serve() error {
	return s.grpcServer.Serve(s.listener)
}

// Stop gracefully stops the server.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

// Handler returns the JSON-RPC handler for direct access.
func (s *Server) Handler() *Handler {
	return s.handler
}
