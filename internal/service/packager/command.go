package packager

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oshokin/dynaso/internal/archive"
	"github.com/oshokin/dynaso/internal/config"
	"github.com/oshokin/dynaso/internal/logger"
	"github.com/oshokin/dynaso/internal/manifest"
	"github.com/oshokin/dynaso/internal/pipeline"
	"github.com/oshokin/dynaso/internal/registry"
	"github.com/oshokin/dynaso/internal/service/common"
	"github.com/oshokin/dynaso/internal/transport/upload"
)

// Options contains inputs for the packager entry point.
// Non-empty fields override the configuration file.
type Options struct {
	// ConfigPath is the path to the packager settings (defaults to dynaso.yaml).
	ConfigPath string
	// OutputDir overrides the merged native libraries directory.
	OutputDir string
	// AssetsDir overrides the manifest destination.
	AssetsDir string
	// UploadURL overrides the storage base URL.
	UploadURL string
	// RegistryAddress overrides the dedup registry address.
	RegistryAddress string
	// Digest overrides the digest algorithm.
	Digest string
	// Libraries restricts the run to the named libraries.
	Libraries []string
	// Strict turns pipeline errors into a failing exit status.
	Strict bool
	// KeepArchives leaves uploaded archives in the work directory.
	KeepArchives bool
}

// Summary reports the results of every library of a run.
type Summary struct {
	// Results maps library name to its pipeline result; nil for aborted libraries.
	Results map[string]*pipeline.Result
	// Errors holds per-library errors, including aborted policies.
	Errors map[string]error
}

// Err joins every library error.
func (s *Summary) Err() error {
	errs := make([]error, 0, len(s.Errors))

	for name, err := range s.Errors {
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}

	return errors.Join(errs...)
}

// errUnknownLibrary is returned when a requested library is not configured.
var errUnknownLibrary = errors.New("library is not configured")

// Run executes the packaging workflow.
func Run(ctx context.Context, opts *Options) error {
	_, err := Execute(ctx, opts)

	return err
}

// Execute runs the pipeline for every selected library and returns the summary.
// The error is non-nil for setup failures, and for pipeline failures in strict mode.
func Execute(ctx context.Context, opts *Options) (*Summary, error) {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "dynaso-packager")

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	libraries, err := selectLibraries(cfg.Libraries, opts.Libraries)
	if err != nil {
		return nil, err
	}

	release, err := acquireLock(ctx, cfg.WorkDir)
	if err != nil {
		return nil, err
	}

	defer release()

	p, closeRegistry, err := newPipeline(ctx, cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("initialize pipeline: %w", err)
	}

	defer closeRegistry()

	summary := &Summary{
		Results: make(map[string]*pipeline.Result, len(libraries)),
		Errors:  make(map[string]error),
	}

	for _, library := range libraries {
		result, runErr := p.Run(ctx, library.ToDomain())
		summary.Results[library.Name] = result

		if runErr == nil {
			runErr = result.Err()
		}

		if runErr != nil {
			summary.Errors[library.Name] = runErr
		}
	}

	if err = summary.Err(); err != nil {
		if opts.Strict {
			return summary, fmt.Errorf("pipeline failed: %w", err)
		}

		logger.WarnKV(ctx, "Pipeline finished with errors, original libraries kept where needed", "error", err)

		return summary, nil
	}

	logger.Info(ctx, "Packager completed successfully")

	return summary, nil
}

// loadConfig reads the settings file and applies command line overrides.
func loadConfig(opts *Options) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	overrides := []struct {
		value  string
		target *string
	}{
		{opts.OutputDir, &cfg.OutputDir},
		{opts.AssetsDir, &cfg.AssetsDir},
		{opts.UploadURL, &cfg.UploadURL},
		{opts.RegistryAddress, &cfg.RegistryAddress},
		{opts.Digest, &cfg.Digest},
	}

	for _, override := range overrides {
		if value := strings.TrimSpace(override.value); value != "" {
			*override.target = value
		}
	}

	if err = config.Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// selectLibraries keeps the configured libraries named in wanted, or all of them.
func selectLibraries(configured []config.Library, wanted []string) ([]config.Library, error) {
	if len(wanted) == 0 {
		return configured, nil
	}

	byName := make(map[string]config.Library, len(configured))
	for _, library := range configured {
		byName[library.Name] = library
	}

	selected := make([]config.Library, 0, len(wanted))

	for _, name := range wanted {
		library, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%s: %w", name, errUnknownLibrary)
		}

		selected = append(selected, library)
	}

	return selected, nil
}

// newPipeline wires the pipeline collaborators from cfg. The returned function
// closes the registry connection.
func newPipeline(ctx context.Context, cfg *config.Config, opts *Options) (*pipeline.Pipeline, func(), error) {
	uploader, err := upload.New(cfg.UploadURL, upload.WithTimeout(cfg.Timeout))
	if err != nil {
		return nil, nil, err
	}

	var (
		gateClient    registry.Client
		closeRegistry = func() {}
	)

	if cfg.RegistryAddress != "" {
		client, dialErr := common.Dial(ctx, cfg.RegistryAddress, common.WithCallTimeout(cfg.Timeout))
		if dialErr != nil {
			return nil, nil, dialErr
		}

		gateClient = client
		closeRegistry = func() {
			// Best-effort cleanup.
			_ = client.Close()
		}

		logger.InfoKV(ctx, "Registry configured", "registry_address", cfg.RegistryAddress)
	} else {
		logger.Info(ctx, "No registry configured, every binary will be uploaded")
	}

	p, err := pipeline.New(pipeline.Options{
		OutputDir:     cfg.OutputDir,
		Architectures: cfg.Architectures,
		Algorithm:     cfg.Algorithm(),
		Gate:          registry.NewGate(gateClient),
		Packager: &archive.Packager{
			WorkDir:   cfg.WorkDir,
			Algorithm: cfg.Algorithm(),
		},
		Uploader:     uploader,
		Writer:       manifest.NewWriter(cfg.AssetsDir),
		KeepArchives: opts.KeepArchives,
	})
	if err != nil {
		closeRegistry()

		return nil, nil, err
	}

	return p, closeRegistry, nil
}
