// Package admin exposes an operator gRPC API over live relay state. Messages
// use the protobuf well-known types, so the service needs no generated code.
package admin

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "relay.admin.v1.RelayAdmin"

const (
	methodListRooms   = "/" + ServiceName + "/ListRooms"
	methodGetRoom     = "/" + ServiceName + "/GetRoom"
	methodKickPlayer  = "/" + ServiceName + "/KickPlayer"
	methodStats       = "/" + ServiceName + "/Stats"
	methodRoomHistory = "/" + ServiceName + "/RoomHistory"
)

// RelayAdminServer is the server API for the RelayAdmin service.
type RelayAdminServer interface {
	// ListRooms returns every room summary in creation order.
	ListRooms(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	// GetRoom returns one room with its recent game events.
	GetRoom(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	// KickPlayer disconnects the player; the result reports whether it was connected.
	KickPlayer(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	// Stats returns connection, player, and room counts.
	Stats(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// RoomHistory returns archived matches for a room id, newest first.
	RoomHistory(context.Context, *wrapperspb.StringValue) (*structpb.ListValue, error)
}

// RegisterRelayAdminServer registers srv on s.
func RegisterRelayAdminServer(s grpc.ServiceRegistrar, srv RelayAdminServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes the RelayAdmin service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RelayAdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListRooms", Handler: unaryHandler(methodListRooms, RelayAdminServer.ListRooms)},
		{MethodName: "GetRoom", Handler: unaryHandler(methodGetRoom, RelayAdminServer.GetRoom)},
		{MethodName: "KickPlayer", Handler: unaryHandler(methodKickPlayer, RelayAdminServer.KickPlayer)},
		{MethodName: "Stats", Handler: unaryHandler(methodStats, RelayAdminServer.Stats)},
		{MethodName: "RoomHistory", Handler: unaryHandler(methodRoomHistory, RelayAdminServer.RoomHistory)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "relay/admin/v1/admin.proto",
}

// unaryHandler builds a grpc.MethodDesc handler for one method of RelayAdminServer.
func unaryHandler[Req any, Resp any, PReq interface {
	*Req
}](fullMethod string, call func(RelayAdminServer, context.Context, PReq) (Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := PReq(new(Req))
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RelayAdminServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(RelayAdminServer), ctx, req.(PReq))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RelayAdminClient is the client API for the RelayAdmin service.
type RelayAdminClient struct {
	cc grpc.ClientConnInterface
}

// NewRelayAdminClient wraps cc.
func NewRelayAdminClient(cc grpc.ClientConnInterface) *RelayAdminClient {
	return &RelayAdminClient{cc: cc}
}

// ListRooms calls RelayAdmin.ListRooms.
func (c *RelayAdminClient) ListRooms(ctx context.Context, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, methodListRooms, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRoom calls RelayAdmin.GetRoom.
func (c *RelayAdminClient) GetRoom(ctx context.Context, roomID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodGetRoom, wrapperspb.String(roomID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// KickPlayer calls RelayAdmin.KickPlayer.
func (c *RelayAdminClient) KickPlayer(ctx context.Context, playerID string, opts ...grpc.CallOption) (bool, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, methodKickPlayer, wrapperspb.String(playerID), out, opts...); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}

// Stats calls RelayAdmin.Stats.
func (c *RelayAdminClient) Stats(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodStats, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RoomHistory calls RelayAdmin.RoomHistory.
func (c *RelayAdminClient) RoomHistory(ctx context.Context, roomID string, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, methodRoomHistory, wrapperspb.String(roomID), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
