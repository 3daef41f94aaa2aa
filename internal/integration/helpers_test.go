package integration

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/dynaso/internal/config"
	"github.com/oshokin/dynaso/internal/locator"
	"github.com/oshokin/dynaso/internal/service/server"
)

// runningServer describes a started storage and registry server.
type runningServer struct {
	httpURL     string
	grpcAddress string
	storageDir  string
}

// startServer runs the real server on ephemeral ports until the test ends.
func startServer(t *testing.T) *runningServer {
	t.Helper()

	dir := t.TempDir()
	settings := &config.ServerConfig{
		HTTPAddress: "127.0.0.1:0",
		GRPCAddress: "127.0.0.1:0",
		StorageDir:  filepath.Join(dir, "uploads"),
		IndexFile:   filepath.Join(dir, "index.json"),
	}
	require.NoError(t, config.ValidateServer(settings))

	// Create cancellable context for server lifecycle.
	ctx, cancel := context.WithCancel(context.Background())

	srv, err := server.New(ctx, settings)
	require.NoError(t, err)

	httpListener, err := net.Listen("tcp", settings.HTTPAddress)
	require.NoError(t, err)

	grpcListener, err := net.Listen("tcp", settings.GRPCAddress)
	require.NoError(t, err)

	done := make(chan error, 1)

	go func() {
		done <- srv.Serve(ctx, httpListener, grpcListener)
	}()

	t.Cleanup(func() {
		cancel()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(15 * time.Second):
			t.Error("server did not stop")
		}
	})

	return &runningServer{
		httpURL:     "http://" + httpListener.Addr().String(),
		grpcAddress: grpcListener.Addr().String(),
		storageDir:  settings.StorageDir,
	}
}

// project is a build tree with a packager configuration.
type project struct {
	configPath string
	cfg        *config.Config
}

func newProject(t *testing.T, uploadURL, registryAddress string, libraries ...config.Library) *project {
	t.Helper()

	root := t.TempDir()
	cfg := &config.Config{
		OutputDir:       filepath.Join(root, "build", "lib"),
		AssetsDir:       filepath.Join(root, "src", "main", "assets"),
		WorkDir:         filepath.Join(root, "build", "temp_so_packages"),
		UploadURL:       uploadURL,
		RegistryAddress: registryAddress,
		Timeout:         5 * time.Second,
		Libraries:       libraries,
	}

	path := filepath.Join(root, config.DefaultConfigFilename)
	require.NoError(t, config.Save(path, cfg))

	return &project{configPath: path, cfg: cfg}
}

func (p *project) binaryPath(arch, name string) string {
	return locator.Path(p.cfg.OutputDir, arch, name)
}

func (p *project) addBinary(t *testing.T, arch, name, content string) string {
	t.Helper()

	path := p.binaryPath(arch, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func (p *project) manifestPath(name string) string {
	return filepath.Join(p.cfg.AssetsDir, name)
}
