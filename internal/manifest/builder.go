package manifest

import (
	"maps"

	"github.com/oshokin/dynaso/internal/domain/nativelib"
)

// Build assembles the manifest of library from resolved entries.
// The version is reduced to its base form, bounds default to the policy
// defaults and override URLs are carried only when set.
func Build(library nativelib.Library, entries map[string]nativelib.Entry, algorithm string) *nativelib.Manifest {
	policy := library.EffectivePolicy()

	if algorithm == "" {
		algorithm = nativelib.DefaultDigestAlgorithm
	}

	return &nativelib.Manifest{
		LibraryName:    library.Name,
		LibraryVersion: nativelib.BaseVersion(library.Version),
		Entries:        maps.Clone(entries),
		MinAppVersion:  policy.MinVersion,
		MaxAppVersion:  policy.MaxVersion,
		UploadURL:      policy.UploadURL,
		DownloadURL:    policy.DownloadURL,
		Algorithm:      algorithm,
	}
}
