// Package controlpb defines the wire-level grpc.ServiceDesc for the
// control/status RPC service RegisterControlServiceServer registers
// on a running session's gRPC server. There is no generated _grpc.pb.go
// here: requests and responses are google.golang.org/protobuf/types/
// known/structpb.Struct, the library's own pre-built dynamic message
// type, so this package needs no .proto compiler step to stay a real
// proto.Message on the wire.
package controlpb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ControlServiceServer is implemented by whatever owns a running
// session's Controller; control.rpcServer is the one real
// implementation.
type ControlServiceServer interface {
	Status(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	RequestStop(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func _ControlService_Status_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServiceServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/arrowtrace.control.v1.ControlService/Status",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ControlServiceServer).Status(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _ControlService_RequestStop_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServiceServer).RequestStop(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/arrowtrace.control.v1.ControlService/RequestStop",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ControlServiceServer).RequestStop(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ControlService_ServiceDesc is the grpc.ServiceDesc RegisterControlServiceServer
// registers on a *grpc.Server, following the same shape protoc-gen-go-grpc
// emits for a two-unary-method service.
var ControlService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "arrowtrace.control.v1.ControlService",
	HandlerType: (*ControlServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Status", Handler: _ControlService_Status_Handler},
		{MethodName: "RequestStop", Handler: _ControlService_RequestStop_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "control/controlpb/service.go",
}

// RegisterControlServiceServer registers srv as the implementation of
// ControlService on s.
func RegisterControlServiceServer(s grpc.ServiceRegistrar, srv ControlServiceServer) {
	s.RegisterService(&ControlService_ServiceDesc, srv)
}
