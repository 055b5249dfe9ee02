package pb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AdminServer is the read-only admin/replication-hook service interface
// (C11): snapshot a live session, or list every session a given process
// currently holds. Grounded on the teacher's pkg/rpc.ServiceHandler
// registration pattern, generalized to a two-method service.
type AdminServer interface {
	GetSessionSnapshot(context.Context, *SnapshotRequest) (*SessionSnapshot, error)
	ListActiveSessions(context.Context, *ActiveSessionsRequest) (*ActiveSessionsResponse, error)
}

// UnimplementedAdminServer must be embedded by any AdminServer
// implementation to stay forward-compatible with new methods.
type UnimplementedAdminServer struct{}

func (UnimplementedAdminServer) GetSessionSnapshot(context.Context, *SnapshotRequest) (*SessionSnapshot, error) {
	return nil, status.Error(codes.Unimplemented, "method GetSessionSnapshot not implemented")
}

func (UnimplementedAdminServer) ListActiveSessions(context.Context, *ActiveSessionsRequest) (*ActiveSessionsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListActiveSessions not implemented")
}

// RegisterAdminServer registers srv against the gRPC server.
func RegisterAdminServer(s *grpc.Server, srv AdminServer) {
	s.RegisterService(&adminServiceDesc, srv)
}

func adminGetSessionSnapshotHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SnapshotRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).GetSessionSnapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/adminrpc.Admin/GetSessionSnapshot"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminServer).GetSessionSnapshot(ctx, req.(*SnapshotRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func adminListActiveSessionsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ActiveSessionsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AdminServer).ListActiveSessions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/adminrpc.Admin/ListActiveSessions"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AdminServer).ListActiveSessions(ctx, req.(*ActiveSessionsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: "adminrpc.Admin",
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetSessionSnapshot", Handler: adminGetSessionSnapshotHandler},
		{MethodName: "ListActiveSessions", Handler: adminListActiveSessionsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "adminrpc.proto",
}

// AdminClient is the typed client stub for AdminServer.
type AdminClient interface {
	GetSessionSnapshot(ctx context.Context, in *SnapshotRequest, opts ...grpc.CallOption) (*SessionSnapshot, error)
	ListActiveSessions(ctx context.Context, in *ActiveSessionsRequest, opts ...grpc.CallOption) (*ActiveSessionsResponse, error)
}

type adminClient struct {
	cc grpc.ClientConnInterface
}

func NewAdminClient(cc grpc.ClientConnInterface) AdminClient {
	return &adminClient{cc: cc}
}

func (c *adminClient) GetSessionSnapshot(ctx context.Context, in *SnapshotRequest, opts ...grpc.CallOption) (*SessionSnapshot, error) {
	out := new(SessionSnapshot)
	if err := c.cc.Invoke(ctx, "/adminrpc.Admin/GetSessionSnapshot", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *adminClient) ListActiveSessions(ctx context.Context, in *ActiveSessionsRequest, opts ...grpc.CallOption) (*ActiveSessionsResponse, error) {
	out := new(ActiveSessionsResponse)
	if err := c.cc.Invoke(ctx, "/adminrpc.Admin/ListActiveSessions", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
