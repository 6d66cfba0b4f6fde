package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service served on the profile socket.
const ServiceName = "vczap.v1.Daemon"

// Method names.
const (
	MethodStatus       = "Status"
	MethodLogin        = "Login"
	MethodLogout       = "Logout"
	MethodRetry        = "Retry"
	MethodListRooms    = "ListRooms"
	MethodBackfill     = "Backfill"
	MethodListMessages = "ListMessages"
	MethodSearch       = "Search"
	MethodSend         = "Send"
	MethodResend       = "Resend"
	MethodPush         = "Push"
	MethodReply        = "Reply"
	MethodMarkRead     = "MarkRead"
	MethodResolveMedia = "ResolveMedia"
	MethodWatchRoom    = "WatchRoom"
	MethodWatchEvents  = "WatchEvents"
)

// DaemonServer is the daemon control surface. Requests and responses are
// google.protobuf.Struct documents whose shapes are the types in wire.go.
type DaemonServer interface {
	Status(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Login(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Logout(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Retry(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	ListRooms(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Backfill(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListMessages(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Search(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Send(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Resend(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Push(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reply(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkRead(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	ResolveMedia(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchRoom(*structpb.Struct, grpc.ServerStream) error
	WatchEvents(*structpb.Struct, grpc.ServerStream) error
}

// ServiceDesc describes DaemonServer to grpc. The schema lives in
// proto/vczap/v1/daemon.proto and must list the same methods.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DaemonServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodStatus, DaemonServer.Status),
		unary(MethodLogin, DaemonServer.Login),
		unary(MethodLogout, DaemonServer.Logout),
		unary(MethodRetry, DaemonServer.Retry),
		unary(MethodListRooms, DaemonServer.ListRooms),
		unary(MethodBackfill, DaemonServer.Backfill),
		unary(MethodListMessages, DaemonServer.ListMessages),
		unary(MethodSearch, DaemonServer.Search),
		unary(MethodSend, DaemonServer.Send),
		unary(MethodResend, DaemonServer.Resend),
		unary(MethodPush, DaemonServer.Push),
		unary(MethodReply, DaemonServer.Reply),
		unary(MethodMarkRead, DaemonServer.MarkRead),
		unary(MethodResolveMedia, DaemonServer.ResolveMedia),
	},
	Streams: []grpc.StreamDesc{
		serverStream(MethodWatchRoom, DaemonServer.WatchRoom),
		serverStream(MethodWatchEvents, DaemonServer.WatchEvents),
	},
	Metadata: "vczap/v1/daemon.proto",
}

// RegisterDaemonServer registers srv on s.
func RegisterDaemonServer(s grpc.ServiceRegistrar, srv DaemonServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// FullMethod returns the path grpc uses for method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

func unary[Resp proto.Message](name string, call func(DaemonServer, context.Context, *structpb.Struct) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(DaemonServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(DaemonServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

func serverStream(name string, call func(DaemonServer, *structpb.Struct, grpc.ServerStream) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName:    name,
		ServerStreams: true,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(structpb.Struct)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return call(srv.(DaemonServer), in, stream)
		},
	}
}
