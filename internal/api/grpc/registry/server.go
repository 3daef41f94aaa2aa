package registry

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Service abstracts the registry index the transport layer depends on.
type Service interface {
	Lookup(ctx context.Context, libraryType, key string) (string, bool, error)
}

// Server implements RegistryServer on top of a Service.
type Server struct {
	// service resolves keys to retrieval locators.
	service Service
}

// NewServer wires the provided service implementation into a gRPC handler.
func NewServer(service Service) *Server {
	return &Server{
		service: service,
	}
}

// Lookup returns the locator of a hosted key, or an empty value.
func (s *Server) Lookup(ctx context.Context, request *structpb.Struct) (*wrapperspb.StringValue, error) {
	if request == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	libraryType := request.GetFields()[FieldType].GetStringValue()
	key := request.GetFields()[FieldKey].GetStringValue()

	if libraryType == "" || key == "" {
		return nil, status.Error(codes.InvalidArgument, "type and key are required")
	}

	url, found, err := s.service.Lookup(ctx, libraryType, key)

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, status.FromContextError(err).Err()
	case err != nil:
		return nil, status.Error(codes.Internal, "registry lookup failed")
	case !found:
		return wrapperspb.String(""), nil
	default:
		return wrapperspb.String(url), nil
	}
}
