package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/dynaso/internal/digest"
	"github.com/oshokin/dynaso/internal/domain/nativelib"
)

// Config holds the packager settings for one build variant.
type Config struct {
	// Variant is the build variant name used to derive the default output directory.
	Variant string `yaml:"variant"`
	// OutputDir is the merged native libraries directory with one subdirectory per architecture.
	OutputDir string `yaml:"output_dir"`
	// AssetsDir is the bundled-resource tree that receives the manifests.
	AssetsDir string `yaml:"assets_dir"`
	// WorkDir holds temporary archives and the run lock.
	WorkDir string `yaml:"work_dir"`
	// Architectures lists the ABI directories to probe.
	Architectures []string `yaml:"architectures"`
	// UploadURL is the base URL of the storage backend.
	UploadURL string `yaml:"upload_url"`
	// RegistryAddress is the gRPC address of the dedup registry. Empty disables dedup.
	RegistryAddress string `yaml:"registry_addr"`
	// Digest names the content digest algorithm: md5, sha256 or blake3.
	Digest string `yaml:"digest"`
	// Timeout bounds every network call.
	Timeout time.Duration `yaml:"timeout"`
	// Libraries lists the binaries to offload.
	Libraries []Library `yaml:"libraries"`
}

// Library describes one binary to offload and its compatibility policy.
type Library struct {
	// Name is the logical binary name without extension, e.g. "libflutter".
	Name string `yaml:"name"`
	// Version is the source version; a "-suffix" is kept in archive records only.
	Version string `yaml:"version"`
	// Manifest overrides the manifest file name.
	Manifest string `yaml:"manifest,omitempty"`
	// MinVersion is the lowest compatible app version.
	MinVersion string `yaml:"min_version,omitempty"`
	// MaxVersion is the highest compatible app version.
	MaxVersion string `yaml:"max_version,omitempty"`
	// UploadURL is advertised in the manifest when set.
	UploadURL string `yaml:"upload_url,omitempty"`
	// DownloadURL is advertised in the manifest when set.
	DownloadURL string `yaml:"download_url,omitempty"`
}

const (
	// DefaultConfigFilename is the default filename for packager settings.
	DefaultConfigFilename = "dynaso.yaml"

	// DefaultVariant is the build variant used when none is configured.
	DefaultVariant = "release"

	// DefaultAssetsDir is where manifests are written by default.
	DefaultAssetsDir = "src/main/assets"

	// DefaultWorkDir holds temporary archives by default.
	DefaultWorkDir = "build/temp_so_packages"

	// DefaultUploadURL is the local development storage server.
	DefaultUploadURL = "http://127.0.0.1:1234"

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 60 * time.Second

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errNoLibraries is returned when nothing is configured for offloading.
	errNoLibraries = errors.New("at least one library must be configured")
	// errLibraryVersionRequired is returned when a library lacks a version.
	errLibraryVersionRequired = errors.New("library version must be provided")
	// errDuplicateLibrary is returned when two entries share a name.
	errDuplicateLibrary = errors.New("library is configured twice")
)

// DefaultOutputDir returns the merged native libraries directory of a variant.
func DefaultOutputDir(variant string) string {
	return filepath.Join("build", "intermediates", "merged_native_libs", variant, "out", "lib")
}

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes Config to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	return writeYAML(path, cfg)
}

// Validate checks the provided settings and fills defaults.
// Library policies are validated separately by the pipeline, so a bad policy
// only skips its own library.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.Variant == "" {
		cfg.Variant = DefaultVariant
	}

	if cfg.OutputDir == "" {
		cfg.OutputDir = DefaultOutputDir(cfg.Variant)
	}

	if cfg.AssetsDir == "" {
		cfg.AssetsDir = DefaultAssetsDir
	}

	if cfg.WorkDir == "" {
		cfg.WorkDir = DefaultWorkDir
	}

	if len(cfg.Architectures) == 0 {
		cfg.Architectures = nativelib.DefaultArchitectures()
	}

	if cfg.UploadURL == "" {
		cfg.UploadURL = DefaultUploadURL
	}

	if err := validateHTTPURL(cfg.UploadURL); err != nil {
		return fmt.Errorf("invalid upload URL: %w", err)
	}

	if cfg.RegistryAddress != "" {
		if _, _, err := net.SplitHostPort(cfg.RegistryAddress); err != nil {
			return fmt.Errorf("invalid registry address: %w", err)
		}
	}

	algorithm, err := digest.Parse(cfg.Digest)
	if err != nil {
		return err
	}

	cfg.Digest = algorithm.String()

	// Set default timeout if not specified
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return validateLibraries(cfg.Libraries)
}

// Algorithm returns the configured digest algorithm.
func (c *Config) Algorithm() digest.Algorithm {
	algorithm, err := digest.Parse(c.Digest)
	if err != nil {
		return digest.MD5
	}

	return algorithm
}

// ToDomain converts the library settings into the pipeline's input.
func (l Library) ToDomain() nativelib.Library {
	manifestFile := l.Manifest
	if manifestFile == "" {
		manifestFile = nativelib.DefaultManifestFile(l.Name)
	}

	return nativelib.Library{
		Name:         l.Name,
		Version:      l.Version,
		ManifestFile: manifestFile,
		Policy: &nativelib.Policy{
			Name:        l.Name,
			MinVersion:  l.MinVersion,
			MaxVersion:  l.MaxVersion,
			UploadURL:   l.UploadURL,
			DownloadURL: l.DownloadURL,
		},
	}
}

func validateLibraries(libraries []Library) error {
	if len(libraries) == 0 {
		return errNoLibraries
	}

	seen := make(map[string]struct{}, len(libraries))

	for _, library := range libraries {
		if library.Name == "" {
			return fmt.Errorf("%w: library name is empty", nativelib.ErrConfigInvalid)
		}

		if library.Version == "" {
			return fmt.Errorf("%s: %w", library.Name, errLibraryVersionRequired)
		}

		if _, ok := seen[library.Name]; ok {
			return fmt.Errorf("%s: %w", library.Name, errDuplicateLibrary)
		}

		seen[library.Name] = struct{}{}
	}

	return nil
}

func validateHTTPURL(raw string) error {
	parsed, err := url.ParseRequestURI(raw)
	if err != nil {
		return err
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}

	return nil
}

func writeYAML(path string, value any) error {
	data, err := yaml.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}
