package adminrpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/clinround/sessioncore/pkg/adminrpc/pb"
)

// Client is a thin wrapper around a gRPC connection to an admin server,
// grounded on the teacher's pkg/contactsvc.Client connect-once shape.
type Client struct {
	mu      sync.Mutex
	addr    string
	timeout time.Duration
	conn    *grpc.ClientConn
}

func NewClient(addr string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{addr: addr, timeout: timeout}
}

func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	conn, err := grpc.NewClient(c.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("adminrpc: connect to %s: %w", c.addr, err)
	}
	c.conn = conn
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// GetSessionSnapshot fetches one session's read-only snapshot, connecting
// lazily if necessary.
func (c *Client) GetSessionSnapshot(ctx context.Context, code string) (*pb.SessionSnapshot, error) {
	if !c.IsConnected() {
		if err := c.Connect(); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return pb.NewAdminClient(c.conn).GetSessionSnapshot(ctx, &pb.SnapshotRequest{Code: code})
}

// ListActiveSessions fetches the remote process's live session codes.
func (c *Client) ListActiveSessions(ctx context.Context) (*pb.ActiveSessionsResponse, error) {
	if !c.IsConnected() {
		if err := c.Connect(); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	return pb.NewAdminClient(c.conn).ListActiveSessions(ctx, &pb.ActiveSessionsRequest{})
}
