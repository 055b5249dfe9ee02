package adminrpc

import (
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"

	"github.com/clinround/sessioncore/pkg/adminrpc/pb"
	"github.com/clinround/sessioncore/pkg/orchestrator"
)

// Server wraps a *grpc.Server bound to the admin service, the same
// listener-owning shape as the teacher's pkg/contactsvc.Server.
type Server struct {
	mu       sync.Mutex
	listener net.Listener
	grpc     *grpc.Server
	port     int
}

func NewServer(port int) *Server {
	return &Server{port: port}
}

// Start binds the listener, registers a Handler over o, and serves in the
// background.
func (s *Server) Start(o *orchestrator.Orchestrator) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("adminrpc: listen on port %d: %w", s.port, err)
	}

	s.listener = listener
	s.grpc = grpc.NewServer()
	pb.RegisterAdminServer(s.grpc, NewHandler(o))

	go func() {
		_ = s.grpc.Serve(listener)
	}()

	return nil
}

// Stop gracefully drains in-flight RPCs and closes the listener.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
}
