package restore

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"os"
	"path/filepath"
	"slices"

	goupdate "github.com/doitdistributed/go-update"

	"github.com/oshokin/dynaso/internal/archive"
	"github.com/oshokin/dynaso/internal/config"
	"github.com/oshokin/dynaso/internal/digest"
	"github.com/oshokin/dynaso/internal/domain/nativelib"
	"github.com/oshokin/dynaso/internal/locator"
	"github.com/oshokin/dynaso/internal/logger"
	"github.com/oshokin/dynaso/internal/manifest"
	"github.com/oshokin/dynaso/internal/version"
)

// DefaultFileMode is applied to restored binaries.
const DefaultFileMode os.FileMode = 0o755

var (
	errBadHTTPStatus    = errors.New("unexpected http status")
	errDigestMismatch   = errors.New("archive does not match manifest entry")
	errChecksumMismatch = errors.New("restored binary checksum mismatch")
)

// Options are inputs accepted by the restore entry point.
type Options struct {
	// ConfigPath is the optional path to the packager settings.
	ConfigPath string
	// OutputDir overrides the directory binaries are restored into.
	OutputDir string
	// AssetsDir overrides the directory manifests are read from.
	AssetsDir string
}

// Report lists what a restore run did.
type Report struct {
	// Restored lists the paths of installed binaries.
	Restored []string
	// Skipped lists the paths already matching their manifest entry.
	Skipped []string
}

// runner holds the settings and helpers for a single restore execution.
type runner struct {
	// cfg is the packager configuration.
	cfg *config.Config
	// client downloads archives.
	client *http.Client
	// temporaryDirectory receives downloaded archives.
	temporaryDirectory string
}

// Run restores the binaries of every configured library.
func Run(ctx context.Context, opts *Options) (*Report, error) {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "dynaso-restore")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	if opts.OutputDir != "" {
		cfg.OutputDir = opts.OutputDir
	}

	if opts.AssetsDir != "" {
		cfg.AssetsDir = opts.AssetsDir
	}

	temporaryDirectory, err := os.MkdirTemp("", "dynaso-restore-")
	if err != nil {
		return nil, err
	}

	r := &runner{
		cfg:                cfg,
		client:             &http.Client{Timeout: cfg.Timeout},
		temporaryDirectory: temporaryDirectory,
	}

	defer r.cleanup(ctx)

	report := new(Report)

	for _, library := range cfg.Libraries {
		if err = r.restoreLibrary(ctx, library.ToDomain(), report); err != nil {
			return report, fmt.Errorf("%s: %w", library.Name, err)
		}
	}

	logger.InfoKV(ctx, "Restore completed", "restored", len(report.Restored), "skipped", len(report.Skipped))

	return report, nil
}

// restoreLibrary processes every entry of one library's manifest.
func (r *runner) restoreLibrary(ctx context.Context, library nativelib.Library, report *Report) error {
	ctx = logger.WithKV(ctx, "library", library.Name)
	manifestPath := filepath.Join(r.cfg.AssetsDir, library.ManifestFile)

	if _, err := os.Stat(manifestPath); errors.Is(err, os.ErrNotExist) {
		logger.InfoKV(ctx, "No manifest, nothing to restore", "manifest", manifestPath)

		return nil
	}

	m, err := manifest.Read(manifestPath)
	if err != nil {
		return err
	}

	algorithm, err := digest.Parse(m.Algorithm)
	if err != nil {
		return err
	}

	for _, arch := range slices.Sorted(maps.Keys(m.Entries)) {
		entry := m.Entries[arch]
		target := locator.Path(r.cfg.OutputDir, arch, library.Name)
		archCtx := logger.WithKV(ctx, "arch", arch)

		if r.isCurrent(target, entry, algorithm) {
			logger.DebugKV(archCtx, "Binary already present", "path", target)
			report.Skipped = append(report.Skipped, target)

			continue
		}

		if err = r.restoreEntry(archCtx, entry, algorithm, target); err != nil {
			return fmt.Errorf("%s: %w", arch, err)
		}

		report.Restored = append(report.Restored, target)
	}

	return nil
}

// isCurrent reports whether target already holds the entry's binary.
func (r *runner) isCurrent(target string, entry nativelib.Entry, algorithm digest.Algorithm) bool {
	sum, err := digest.HashFile(target, algorithm)
	if err != nil {
		return false
	}

	return sum.Hex == entry.Digest && sum.Size == entry.Size
}

// restoreEntry downloads, verifies and installs one binary.
func (r *runner) restoreEntry(ctx context.Context, entry nativelib.Entry, algorithm digest.Algorithm, target string) error {
	archivePath, err := r.download(ctx, entry.URL)
	if err != nil {
		return fmt.Errorf("download %s: %w", entry.URL, err)
	}

	record, data, err := archive.Extract(archivePath)
	if err != nil {
		return err
	}

	if record.Digest != entry.Digest || record.Size != entry.Size {
		return fmt.Errorf("%w: %s", errDigestMismatch, entry.URL)
	}

	if err = install(target, data, entry.Digest, algorithm); err != nil {
		return fmt.Errorf("install %s: %w", target, err)
	}

	logger.InfoKV(ctx, "Binary restored", "path", target, "size", len(data))

	return nil
}

// download fetches url into the temporary directory and returns the local path.
func (r *runner) download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "", err
	}

	req.Header.Set("User-Agent", version.UserAgent())

	response, err := r.client.Do(req)
	if err != nil {
		return "", err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s, %s: %w", url, response.Status, errBadHTTPStatus)
	}

	output, err := os.CreateTemp(r.temporaryDirectory, "*"+archive.Extension)
	if err != nil {
		return "", err
	}

	if _, err = io.Copy(output, response.Body); err != nil {
		_ = output.Close()

		return "", err
	}

	if err = output.Close(); err != nil {
		return "", err
	}

	return output.Name(), nil
}

// install replaces target with data. Digests backed by a crypto.Hash are
// checked by go-update before the swap; others are checked here.
func install(target string, data []byte, expected string, algorithm digest.Algorithm) error {
	checksum, err := hex.DecodeString(expected)
	if err != nil {
		return err
	}

	options := goupdate.Options{
		TargetPath: target,
		TargetMode: DefaultFileMode,
	}

	if hash, ok := algorithm.CryptoHash(); ok {
		options.Checksum = checksum
		options.Hash = hash
	} else {
		sum, hashErr := digest.HashReader(bytes.NewReader(data), algorithm)
		if hashErr != nil {
			return hashErr
		}

		if sum.Hex != expected {
			return errChecksumMismatch
		}
	}

	if err = os.MkdirAll(filepath.Dir(target), 0o755); err != nil { //nolint:mnd // Standard directory mode.
		return err
	}

	var createdPlaceholder bool

	if _, err = os.Stat(target); errors.Is(err, os.ErrNotExist) {
		placeholder, createErr := os.Create(target)
		if createErr != nil {
			return createErr
		}

		_ = placeholder.Close()
		createdPlaceholder = true
	}

	if err = goupdate.Apply(bytes.NewReader(data), options); err != nil {
		if createdPlaceholder {
			_ = os.Remove(target)
		}

		return err
	}

	oldFileName := target + ".old"
	if _, err = os.Stat(oldFileName); err == nil {
		_ = os.Remove(oldFileName)
	}

	return nil
}

// cleanup removes downloaded archives.
func (r *runner) cleanup(ctx context.Context) {
	if r.temporaryDirectory == "" {
		return
	}

	if err := os.RemoveAll(r.temporaryDirectory); err != nil {
		logger.WarnKV(ctx, "Failed to remove temporary directory", "path", r.temporaryDirectory, "error", err)
	}
}
