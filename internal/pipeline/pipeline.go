package pipeline

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/google/uuid"

	"github.com/oshokin/dynaso/internal/digest"
	"github.com/oshokin/dynaso/internal/domain/nativelib"
	"github.com/oshokin/dynaso/internal/locator"
	"github.com/oshokin/dynaso/internal/logger"
	"github.com/oshokin/dynaso/internal/manifest"
)

// Gate reports whether an exact binary is already hosted.
type Gate interface {
	Lookup(ctx context.Context, libraryType, key string) (string, bool)
}

// Packager builds an archive for a hashed artifact and returns its path.
type Packager interface {
	Package(ctx context.Context, artifact nativelib.Artifact, version, architecture, packageName string) (string, error)
}

// Uploader transfers an archive and returns its retrieval locator.
type Uploader interface {
	Upload(ctx context.Context, archivePath string) (string, error)
}

// ManifestWriter persists a manifest and returns the written path.
type ManifestWriter interface {
	Write(ctx context.Context, fileName string, m *nativelib.Manifest) (string, error)
}

// Options lists the collaborators of a pipeline.
type Options struct {
	// OutputDir is the merged native libraries directory.
	OutputDir string
	// Architectures are probed in this set; processing order is sorted.
	Architectures []string
	// Algorithm is the content digest function.
	Algorithm digest.Algorithm
	// Hash digests a located binary; defaults to digest.HashFile.
	Hash func(path string, algorithm digest.Algorithm) (digest.Sum, error)
	// Gate is the dedup registry gate.
	Gate Gate
	// Packager builds archives.
	Packager Packager
	// Uploader transfers archives.
	Uploader Uploader
	// Writer persists manifests.
	Writer ManifestWriter
	// KeepArchives leaves uploaded archives in the work directory.
	KeepArchives bool
	// NewRunID generates run identifiers; defaults to random UUIDs.
	NewRunID func() string
}

// Pipeline is the explicit context of an offloading run.
type Pipeline struct {
	// opts holds the collaborators; it is not modified after New.
	opts Options
}

// Result reports what one run did.
type Result struct {
	// RunID correlates the log lines of the run.
	RunID string
	// NoOp is set when no binary was discovered; nothing else happened.
	NoOp bool
	// Manifest is the descriptor built from the successful architectures.
	Manifest *nativelib.Manifest
	// ManifestPath is where the manifest was written; empty when it was not.
	ManifestPath string
	// Outcome maps every discovered architecture to its success.
	Outcome nativelib.Outcome
	// Failures holds the error of every failed architecture.
	Failures map[string]error
	// WriteErr is the manifest write failure, if any.
	WriteErr error
	// Deleted lists the original binaries removed by cleanup.
	Deleted []string
}

// Err joins every failure of the run, or returns nil for a clean run.
func (r *Result) Err() error {
	if r == nil {
		return nil
	}

	errs := make([]error, 0, len(r.Failures)+1)

	for _, arch := range slices.Sorted(maps.Keys(r.Failures)) {
		errs = append(errs, fmt.Errorf("%s: %w", arch, r.Failures[arch]))
	}

	if r.WriteErr != nil {
		errs = append(errs, r.WriteErr)
	}

	return errors.Join(errs...)
}

var (
	// errMissingCollaborator is returned by New when a required component is nil.
	errMissingCollaborator = errors.New("pipeline collaborator is not set")
	// errNoArchitectures is returned by New when nothing would be probed.
	errNoArchitectures = errors.New("no architectures configured")
)

// New validates opts and returns a pipeline.
func New(opts Options) (*Pipeline, error) {
	switch {
	case opts.Gate == nil:
		return nil, fmt.Errorf("%w: gate", errMissingCollaborator)
	case opts.Packager == nil:
		return nil, fmt.Errorf("%w: packager", errMissingCollaborator)
	case opts.Uploader == nil:
		return nil, fmt.Errorf("%w: uploader", errMissingCollaborator)
	case opts.Writer == nil:
		return nil, fmt.Errorf("%w: writer", errMissingCollaborator)
	case len(opts.Architectures) == 0:
		return nil, errNoArchitectures
	}

	if opts.Algorithm == "" {
		opts.Algorithm = digest.MD5
	}

	if opts.Hash == nil {
		opts.Hash = digest.HashFile
	}

	if opts.NewRunID == nil {
		opts.NewRunID = uuid.NewString
	}

	opts.Architectures = slices.Clone(opts.Architectures)

	return &Pipeline{opts: opts}, nil
}

// Run offloads one library. A policy error aborts before any side effect and
// is returned as an error; every later failure is recorded in the Result.
func (p *Pipeline) Run(ctx context.Context, library nativelib.Library) (*Result, error) {
	runID := p.opts.NewRunID()
	ctx = logger.WithKV(ctx, "library", library.Name, "run_id", runID)

	policy := library.EffectivePolicy()
	if err := policy.Validate(); err != nil {
		logger.ErrorKV(ctx, "Library policy rejected", "error", err)

		return nil, err
	}

	discovery := locator.Locate(ctx, p.opts.OutputDir, p.opts.Architectures, library.Name)
	artifacts := discovery.Found

	result := &Result{
		RunID:    runID,
		Outcome:  make(nativelib.Outcome, len(artifacts)+len(discovery.Unreadable)),
		Failures: make(map[string]error, len(discovery.Unreadable)),
	}

	if discovery.Empty() {
		logger.InfoKV(ctx, "Nothing to offload", "reason", nativelib.ErrDiscoveryEmpty, "output_dir", p.opts.OutputDir)

		result.NoOp = true

		return result, nil
	}

	for arch, unreadableErr := range discovery.Unreadable {
		result.Outcome[arch] = false
		result.Failures[arch] = unreadableErr
	}

	entries := make(map[string]nativelib.Entry, len(artifacts))

	for _, arch := range slices.Sorted(maps.Keys(artifacts)) {
		archCtx := logger.WithKV(ctx, "arch", arch)

		entry, archErr := p.processArchitecture(archCtx, library, artifacts[arch])
		if archErr != nil {
			logger.ErrorKV(archCtx, "Architecture failed", "error", archErr)

			result.Outcome[arch] = false
			result.Failures[arch] = archErr

			continue
		}

		result.Outcome[arch] = true
		entries[arch] = entry
	}

	result.Manifest = manifest.Build(library, entries, p.opts.Algorithm.String())

	if len(entries) == 0 {
		logger.WarnKV(ctx, "No architecture succeeded, manifest left untouched")

		return result, nil
	}

	result.ManifestPath, result.WriteErr = p.opts.Writer.Write(ctx, library.ManifestFile, result.Manifest)
	if result.WriteErr != nil {
		logger.ErrorKV(ctx, "Manifest write failed, originals kept", "error", result.WriteErr)

		return result, nil
	}

	result.Deleted = Cleanup(ctx, artifacts, result.Outcome, result.Manifest, true)

	logger.InfoKV(ctx, "Library offloaded",
		"architectures", len(entries),
		"failed", len(result.Failures),
		"deleted", len(result.Deleted),
		"manifest", result.ManifestPath)

	return result, nil
}

// processArchitecture runs hash, gate, package and upload for one binary.
func (p *Pipeline) processArchitecture(
	ctx context.Context,
	library nativelib.Library,
	artifact nativelib.Artifact,
) (nativelib.Entry, error) {
	sum, err := p.opts.Hash(artifact.Path, p.opts.Algorithm)
	if err != nil {
		return nativelib.Entry{}, err
	}

	artifact = artifact.WithDigest(sum.Hex, sum.Size)
	artifact.SourceVersion = library.Version

	logger.DebugKV(ctx, "Library hashed", "digest", sum.Hex, "size", sum.Size)

	key := nativelib.RegistryKey(library.Version, artifact.Architecture, artifact.Digest)

	if url, found := p.opts.Gate.Lookup(ctx, library.Name, key); found {
		logger.InfoKV(ctx, "Already hosted, upload skipped", "key", key, "url", url)

		return newEntry(artifact, url), nil
	}

	archivePath, err := p.opts.Packager.Package(ctx, artifact, library.Version, artifact.Architecture, library.Name)
	if err != nil {
		return nativelib.Entry{}, err
	}

	url, err := p.opts.Uploader.Upload(ctx, archivePath)

	if !p.opts.KeepArchives {
		if removeErr := os.Remove(archivePath); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			logger.WarnKV(ctx, "Failed to remove archive", "archive", archivePath, "error", removeErr)
		}
	}

	if err != nil {
		return nativelib.Entry{}, err
	}

	logger.InfoKV(ctx, "Archive uploaded", "url", url)

	return newEntry(artifact, url), nil
}

func newEntry(artifact nativelib.Artifact, url string) nativelib.Entry {
	return nativelib.Entry{
		Architecture: artifact.Architecture,
		URL:          url,
		Digest:       artifact.Digest,
		Size:         artifact.Size,
	}
}
