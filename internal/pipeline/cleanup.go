package pipeline

import (
	"context"
	"errors"
	"maps"
	"os"
	"slices"

	"github.com/oshokin/dynaso/internal/domain/nativelib"
	"github.com/oshokin/dynaso/internal/logger"
)

// Cleanup deletes the original binaries once their remote copies are confirmed.
// Nothing is deleted unless every architecture succeeded and the manifest was
// written; an architecture is deleted only if the manifest names it with a URL.
// It returns the deleted paths. Delete failures are logged and skipped.
func Cleanup(
	ctx context.Context,
	artifacts map[string]nativelib.Artifact,
	outcome nativelib.Outcome,
	m *nativelib.Manifest,
	manifestWritten bool,
) []string {
	if !CanDelete(outcome, m, manifestWritten) {
		logger.WarnKV(ctx, "Cleanup vetoed, originals kept",
			"failed", outcome.Failed(),
			"manifest_written", manifestWritten)

		return nil
	}

	deleted := make([]string, 0, len(artifacts))

	for _, arch := range slices.Sorted(maps.Keys(artifacts)) {
		artifact := artifacts[arch]

		entry, ok := m.Entries[arch]
		if !ok || entry.URL == "" {
			logger.WarnKV(ctx, "Architecture missing from manifest, original kept", "arch", arch)

			continue
		}

		if err := os.Remove(artifact.Path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}

			logger.ErrorKV(ctx, "Failed to delete original", "arch", arch, "path", artifact.Path, "error", err)

			continue
		}

		logger.InfoKV(ctx, "Original deleted", "arch", arch, "path", artifact.Path)

		deleted = append(deleted, artifact.Path)
	}

	return deleted
}

// CanDelete reports whether a run may delete any original binary.
func CanDelete(outcome nativelib.Outcome, m *nativelib.Manifest, manifestWritten bool) bool {
	return manifestWritten && m != nil && outcome.AllSucceeded()
}
