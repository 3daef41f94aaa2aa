// Package locator finds per-architecture native binaries in a merged
// native-libraries output directory laid out as <base>/<arch>/<name>.so.
package locator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oshokin/dynaso/internal/domain/nativelib"
	"github.com/oshokin/dynaso/internal/logger"
)

// Path returns the conventional location of a library for one architecture.
func Path(baseDir, architecture, name string) string {
	return filepath.Join(baseDir, architecture, name+nativelib.LibraryExtension)
}

// Discovery is the outcome of probing every architecture for one library.
type Discovery struct {
	// Found maps architectures to binaries ready for hashing.
	Found map[string]nativelib.Artifact
	// Unreadable maps architectures whose binary could not be inspected to the
	// stat error, wrapped in nativelib.ErrHash.
	Unreadable map[string]error
}

// Empty reports that no architecture yielded a binary or an error.
func (d Discovery) Empty() bool {
	return len(d.Found) == 0 && len(d.Unreadable) == 0
}

// Locate probes every architecture for a non-empty regular file named <name>.so.
// Architectures without a binary are absent from the result; that is not an error.
// Other stat failures mark the architecture unreadable and probing goes on.
func Locate(ctx context.Context, baseDir string, architectures []string, name string) Discovery {
	discovery := Discovery{
		Found:      make(map[string]nativelib.Artifact, len(architectures)),
		Unreadable: make(map[string]error),
	}

	for _, arch := range architectures {
		path := Path(baseDir, arch, name)

		info, err := os.Stat(path)
		if errors.Is(err, os.ErrNotExist) {
			logger.DebugKV(ctx, "Library not present", "arch", arch, "path", path)

			continue
		}

		if err != nil {
			logger.ErrorKV(ctx, "Library cannot be inspected", "arch", arch, "path", path, "error", err)

			discovery.Unreadable[arch] = fmt.Errorf("%w: stat %s: %w", nativelib.ErrHash, path, err)

			continue
		}

		if !info.Mode().IsRegular() || info.Size() == 0 {
			logger.WarnKV(ctx, "Skipping empty or irregular library file", "arch", arch, "path", path)

			continue
		}

		logger.InfoKV(ctx, "Found library", "arch", arch, "path", path, "size", info.Size())

		discovery.Found[arch] = nativelib.Artifact{
			Architecture: arch,
			Name:         name,
			Path:         path,
			Size:         info.Size(),
		}
	}

	return discovery
}
