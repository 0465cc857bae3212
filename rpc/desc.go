package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// RoomsServiceDesc describes planningpoker.Rooms for grpc.Server.RegisterService.
var RoomsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RoomsServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Create", RoomsServer.Create),
		unary("Get", RoomsServer.Get),
		unary("Join", RoomsServer.Join),
		unary("Leave", RoomsServer.Leave),
		unary("Kick", RoomsServer.Kick),
		unary("SetCard", RoomsServer.SetCard),
		unary("Touch", RoomsServer.Touch),
		unary("Reveal", RoomsServer.Reveal),
		unary("Hide", RoomsServer.Hide),
		unary("ToggleReveal", RoomsServer.ToggleReveal),
		unary("ResetRound", RoomsServer.ResetRound),
		unary("UpdateDeck", RoomsServer.UpdateDeck),
		unary("Export", RoomsServer.Export),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "planningpoker/rooms",
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// unary adapts a RoomsServer method expression to a grpc.MethodDesc.
func unary[Req any, Resp any](name string, call func(RoomsServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(RoomsServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(RoomsServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func watchHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(RoomRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(RoomsServer).Watch(in, stream)
}

var _ RoomsServer = (*RoomService)(nil)
