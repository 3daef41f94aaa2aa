//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/oshokin/dynaso/internal/api/grpc/registry"
)

// DefaultCallTimeout bounds a registry call when no timeout is configured.
const DefaultCallTimeout = 60 * time.Second

// Client wraps a gRPC connection to the registry service.
type Client struct {
	// conn is the underlying gRPC connection to the registry.
	conn *grpc.ClientConn

	// callTimeout is the default timeout for individual RPC calls.
	callTimeout time.Duration
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for service calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

var (
	// errAddressRequired is returned when a required address value is missing.
	errAddressRequired = errors.New("address must be provided")
	// errClientClosed is returned when the client has no connection.
	errClientClosed = errors.New("registry client is not connected")
)

// Dial creates a client for the registry at address. The connection is
// established lazily by grpc on the first call.
// Note: this uses insecure transport credentials; the registry is expected on
// the build network.
func Dial(_ context.Context, address string, opts ...Option) (*Client, error) {
	if address == "" {
		return nil, errAddressRequired
	}

	conn, err := grpc.NewClient(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial registry: %w", err)
	}

	return newClient(conn, opts...), nil
}

// NewFromConn wraps an existing connection, e.g. an in-memory one in tests.
func NewFromConn(conn *grpc.ClientConn, opts ...Option) *Client {
	return newClient(conn, opts...)
}

func newClient(conn *grpc.ClientConn, opts ...Option) *Client {
	client := &Client{
		conn:        conn,
		callTimeout: DefaultCallTimeout,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}

	return c.conn.Close()
}

// Lookup asks the registry for the locator of (libraryType, key).
// An empty string with a nil error means the key is not hosted.
func (c *Client) Lookup(ctx context.Context, libraryType, key string) (string, error) {
	if c == nil || c.conn == nil {
		return "", errClientClosed
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	response := new(wrapperspb.StringValue)

	err := c.conn.Invoke(callCtx, registry.LookupMethod, registry.NewLookupRequest(libraryType, key), response)
	if err != nil {
		return "", fmt.Errorf("registry lookup: %w", err)
	}

	return response.GetValue(), nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}
