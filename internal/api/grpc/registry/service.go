package registry

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Wire names of the registry service.
const (
	ServiceName  = "dynaso.registry.v1.RegistryService"
	LookupMethod = "/" + ServiceName + "/Lookup"

	// FieldType carries the library type discriminator.
	FieldType = "type"
	// FieldKey carries the version-architecture-digest composite key.
	FieldKey = "key"
)

// RegistryServer is the server API of the registry service.
type RegistryServer interface {
	Lookup(ctx context.Context, request *structpb.Struct) (*wrapperspb.StringValue, error)
}

// ServiceDesc describes the registry service for grpc.Server.RegisterService.
// It mirrors api/dynaso/registry/v1/registry.proto, which only uses well-known
// message types, so no generated code is needed.
//
//nolint:gochecknoglobals // Service descriptors are package-level by grpc convention.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RegistryServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Lookup",
			Handler:    lookupHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dynaso/registry/v1/registry.proto",
}

// Register attaches the implementation to a gRPC server.
func Register(server grpc.ServiceRegistrar, impl RegistryServer) {
	server.RegisterService(&ServiceDesc, impl)
}

// NewLookupRequest builds the Lookup request message.
func NewLookupRequest(libraryType, key string) *structpb.Struct {
	return &structpb.Struct{
		Fields: map[string]*structpb.Value{
			FieldType: structpb.NewStringValue(libraryType),
			FieldKey:  structpb.NewStringValue(key),
		},
	}
}

//nolint:revive // Signature is fixed by grpc.MethodHandler.
func lookupHandler(
	srv any,
	ctx context.Context,
	dec func(any) error,
	interceptor grpc.UnaryServerInterceptor,
) (any, error) {
	request := new(structpb.Struct)
	if err := dec(request); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(RegistryServer).Lookup(ctx, request) //nolint:forcetypeassert // Guaranteed by RegisterService.
	}

	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: LookupMethod,
	}

	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RegistryServer).Lookup(ctx, req.(*structpb.Struct)) //nolint:forcetypeassert // See above.
	}

	return interceptor(ctx, request, info, handler)
}
