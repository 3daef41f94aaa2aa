package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"

	api "github.com/oshokin/dynaso/internal/api/grpc/registry"
	"github.com/oshokin/dynaso/internal/api/http/storage"
	"github.com/oshokin/dynaso/internal/config"
	"github.com/oshokin/dynaso/internal/logger"
	repo "github.com/oshokin/dynaso/internal/repository/registry"
)

// Options controls the dynaso-server process and configuration.
type Options struct {
	// ConfigPath specifies the path to server settings YAML file.
	ConfigPath string
	// HTTPAddress overrides the storage endpoints listen address.
	HTTPAddress string
	// GRPCAddress overrides the registry listen address.
	GRPCAddress string
	// StorageDir overrides where archives are kept.
	StorageDir string
	// IndexFile overrides the registry index path.
	IndexFile string
	// PublicURL overrides the base URL of download locators.
	PublicURL string
}

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// readHeaderTimeout bounds slow clients on the storage endpoints.
const readHeaderTimeout = 30 * time.Second

// Server bundles the storage endpoints and the registry service.
type Server struct {
	// settings is the validated server configuration.
	settings *config.ServerConfig
	// httpServer serves uploads and downloads.
	httpServer *http.Server
	// grpcServer serves registry lookups.
	grpcServer *grpc.Server
}

// Run starts both servers and blocks until context is canceled or a server stops.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "dynaso-server")

	settings, err := config.LoadServer(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	applyOverrides(settings, opts)

	if err = config.ValidateServer(settings); err != nil {
		return err
	}

	srv, err := New(ctx, settings)
	if err != nil {
		return fmt.Errorf("initialise server: %w", err)
	}

	// Setup TCP listeners for both transports.
	lc := net.ListenConfig{}

	httpListener, err := lc.Listen(ctx, "tcp", settings.HTTPAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", settings.HTTPAddress, err)
	}

	grpcListener, err := lc.Listen(ctx, "tcp", settings.GRPCAddress)
	if err != nil {
		_ = httpListener.Close()

		return fmt.Errorf("listen on %s: %w", settings.GRPCAddress, err)
	}

	return srv.Serve(ctx, httpListener, grpcListener)
}

// New creates a server from validated settings.
func New(ctx context.Context, settings *config.ServerConfig) (*Server, error) {
	svc, err := newService(ctx, settings.StorageDir, repo.NewFileRepository(settings.IndexFile))
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	storage.NewHandler(svc,
		storage.WithMaxUploadSize(settings.MaxUploadSize),
		storage.WithPublicURL(settings.PublicURL),
	).Register(mux)

	grpcServer := grpc.NewServer()
	api.Register(grpcServer, api.NewServer(svc))

	return &Server{
		settings: settings,
		httpServer: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
			BaseContext: func(net.Listener) context.Context {
				return context.WithoutCancel(ctx)
			},
		},
		grpcServer: grpcServer,
	}, nil
}

// Serve runs both servers on the given listeners until ctx is canceled or
// either server fails, then stops both gracefully.
func (s *Server) Serve(ctx context.Context, httpListener, grpcListener net.Listener) error {
	logger.InfoKV(ctx, "Server listening",
		"http_address", httpListener.Addr().String(),
		"grpc_address", grpcListener.Addr().String(),
		"storage_dir", s.settings.StorageDir,
		"index_file", s.settings.IndexFile)

	var (
		wg   sync.WaitGroup
		errs = make(chan error, 2)
	)

	wg.Add(2)

	go func() {
		defer wg.Done()

		if err := s.httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("serve HTTP: %w", err)
		}
	}()

	go func() {
		defer wg.Done()

		if err := s.grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errs <- fmt.Errorf("serve gRPC: %w", err)
		}
	}()

	var serveErr error

	select {
	case <-ctx.Done():
	case serveErr = <-errs:
	}

	logger.Info(ctx, "Shutting down servers")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WarnKV(ctx, "HTTP shutdown failed", "error", err)
	}

	s.grpcServer.GracefulStop()
	wg.Wait()

	logger.Info(ctx, "Servers stopped")

	return serveErr
}

// applyOverrides copies non-empty command line values over settings.
func applyOverrides(settings *config.ServerConfig, opts *Options) {
	overrides := []struct {
		value  string
		target *string
	}{
		{opts.HTTPAddress, &settings.HTTPAddress},
		{opts.GRPCAddress, &settings.GRPCAddress},
		{opts.StorageDir, &settings.StorageDir},
		{opts.IndexFile, &settings.IndexFile},
		{opts.PublicURL, &settings.PublicURL},
	}

	for _, override := range overrides {
		if override.value != "" {
			*override.target = override.value
		}
	}
}
