package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds the settings of the reference storage and registry server.
type ServerConfig struct {
	// HTTPAddress is the listen address of the upload and download endpoints.
	HTTPAddress string `yaml:"http_addr"`
	// GRPCAddress is the listen address of the registry service.
	GRPCAddress string `yaml:"grpc_addr"`
	// PublicURL is the base URL clients use to download archives.
	// Empty means it is derived from the request host.
	PublicURL string `yaml:"public_url,omitempty"`
	// StorageDir holds uploaded archives.
	StorageDir string `yaml:"storage_dir"`
	// IndexFile is the path of the registry index JSON.
	IndexFile string `yaml:"index_file"`
	// MaxUploadSize bounds a single uploaded archive in bytes.
	MaxUploadSize int64 `yaml:"max_upload_size"`
}

const (
	// DefaultServerConfigFilename is the default filename for server settings.
	DefaultServerConfigFilename = "dynaso-server.yaml"

	// DefaultHTTPAddress is the default listen address for storage endpoints.
	DefaultHTTPAddress = ":1234"

	// DefaultGRPCAddress is the default listen address for the registry.
	DefaultGRPCAddress = ":1235"

	// DefaultStorageDir is where uploads are kept by default.
	DefaultStorageDir = "uploads"

	// DefaultIndexFilename is the default registry index file.
	DefaultIndexFilename = "dynaso-registry.json"

	// DefaultMaxUploadSize bounds uploads to 512 MiB.
	DefaultMaxUploadSize int64 = 512 << 20
)

// errServerConfigIsNotSet is returned when a nil server configuration is provided.
var errServerConfigIsNotSet = errors.New("server configuration is not set")

// LoadServer reads server settings from path. A missing file yields defaults.
func LoadServer(path string) (*ServerConfig, error) {
	if path == "" {
		path = DefaultServerConfigFilename
	}

	var cfg ServerConfig

	contents, err := os.ReadFile(filepath.Clean(path))

	switch {
	case err == nil:
		if err := yaml.Unmarshal(contents, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal server settings: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// Keep defaults.
	default:
		return nil, fmt.Errorf("read server settings: %w", err)
	}

	if err := ValidateServer(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SaveServer writes ServerConfig to the provided path.
func SaveServer(path string, cfg *ServerConfig) error {
	if cfg == nil {
		return errServerConfigIsNotSet
	}

	if path == "" {
		path = DefaultServerConfigFilename
	}

	if err := ValidateServer(cfg); err != nil {
		return err
	}

	return writeYAML(path, cfg)
}

// ValidateServer checks listen addresses and fills defaults.
func ValidateServer(cfg *ServerConfig) error {
	if cfg == nil {
		return errServerConfigIsNotSet
	}

	if cfg.HTTPAddress == "" {
		cfg.HTTPAddress = DefaultHTTPAddress
	}

	if cfg.GRPCAddress == "" {
		cfg.GRPCAddress = DefaultGRPCAddress
	}

	for _, address := range []string{cfg.HTTPAddress, cfg.GRPCAddress} {
		if _, _, err := net.SplitHostPort(address); err != nil {
			return fmt.Errorf("invalid listen address %q: %w", address, err)
		}
	}

	if cfg.PublicURL != "" {
		if err := validateHTTPURL(cfg.PublicURL); err != nil {
			return fmt.Errorf("invalid public URL: %w", err)
		}
	}

	if cfg.StorageDir == "" {
		cfg.StorageDir = DefaultStorageDir
	}

	if cfg.IndexFile == "" {
		cfg.IndexFile = DefaultIndexFilename
	}

	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = DefaultMaxUploadSize
	}

	return nil
}
