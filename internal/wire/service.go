// Package wire describes the deskline.v1.DataService gRPC contract. Every
// request, response and stream frame is a google.protobuf.Struct.
package wire

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "deskline.v1.DataService"

// APIKeyHeader is the metadata key carrying the caller's API key.
const APIKeyHeader = "x-api-key"

// Stream frame operations besides the model.Op values.
const (
	OpSubscribed = "SUBSCRIBED"
	OpBroadcast  = "BROADCAST"
)

// DataServiceServer is implemented by the daemon.
type DataServiceServer interface {
	Select(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Insert(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Update(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Delete(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Broadcast(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Watch(*structpb.Struct, grpc.ServerStream) error
	Listen(*structpb.Struct, grpc.ServerStream) error
}

// FullMethod returns the gRPC method path for name.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

type unaryCall func(DataServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryCall) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(DataServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(DataServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func streamHandler(name string, call func(DataServiceServer, *structpb.Struct, grpc.ServerStream) error) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName: name,
		Handler: func(srv any, stream grpc.ServerStream) error {
			in := new(structpb.Struct)
			if err := stream.RecvMsg(in); err != nil {
				return err
			}
			return call(srv.(DataServiceServer), in, stream)
		},
		ServerStreams: true,
	}
}

// ServiceDesc registers a DataServiceServer on a *grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DataServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("Select", DataServiceServer.Select),
		unaryHandler("Insert", DataServiceServer.Insert),
		unaryHandler("Update", DataServiceServer.Update),
		unaryHandler("Delete", DataServiceServer.Delete),
		unaryHandler("Broadcast", DataServiceServer.Broadcast),
	},
	Streams: []grpc.StreamDesc{
		streamHandler("Watch", DataServiceServer.Watch),
		streamHandler("Listen", DataServiceServer.Listen),
	},
	Metadata: "deskline/v1/data.proto",
}

// RegisterDataServiceServer registers srv on s.
func RegisterDataServiceServer(s grpc.ServiceRegistrar, srv DataServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Invoke calls the unary method name on cc.
func Invoke(ctx context.Context, cc grpc.ClientConnInterface, name string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, FullMethod(name), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// OpenStream starts the server stream name and sends its single request.
func OpenStream(ctx context.Context, cc grpc.ClientConnInterface, name string, in *structpb.Struct, opts ...grpc.CallOption) (grpc.ClientStream, error) {
	var desc *grpc.StreamDesc
	for i := range ServiceDesc.Streams {
		if ServiceDesc.Streams[i].StreamName == name {
			desc = &ServiceDesc.Streams[i]
		}
	}
	if desc == nil {
		desc = &grpc.StreamDesc{StreamName: name, ServerStreams: true}
	}
	stream, err := cc.NewStream(ctx, desc, FullMethod(name), opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return stream, nil
}
