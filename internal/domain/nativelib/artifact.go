package nativelib

import (
	"path/filepath"
	"strings"
)

// Default architectures probed when the configuration names none.
const (
	ArchARM64 = "arm64-v8a"
	ArchARMv7 = "armeabi-v7a"
)

// LibraryExtension is appended to the logical name to form the file name.
const LibraryExtension = ".so"

// DefaultArchitectures returns the architectures probed by default.
func DefaultArchitectures() []string {
	return []string{ArchARM64, ArchARMv7}
}

// Artifact is a native binary discovered in the build output for one architecture.
type Artifact struct {
	// Architecture is the ABI directory the binary was found in.
	Architecture string
	// Name is the logical library name without extension, e.g. "libflutter".
	Name string
	// Path is the absolute or build-relative location of the binary.
	Path string
	// Size is the byte length of the binary.
	Size int64
	// Digest is the lowercase hex content digest; empty until hashed.
	Digest string
	// SourceVersion is the library version, possibly carrying a dedup suffix.
	SourceVersion string
}

// FileName returns the binary's file name inside its architecture directory.
func (a Artifact) FileName() string {
	return filepath.Base(a.Path)
}

// WithDigest returns a copy of the artifact carrying the hashed digest and size.
func (a Artifact) WithDigest(digest string, size int64) Artifact {
	a.Digest = digest
	a.Size = size

	return a
}

// Entry is the manifest line item for one architecture.
type Entry struct {
	// Architecture is the ABI the entry describes.
	Architecture string
	// URL is the retrieval locator of the hosted archive.
	URL string
	// Digest is the content digest of the binary inside the archive.
	Digest string
	// Size is the byte length of the binary.
	Size int64
}

// Outcome records per-architecture success of a single pipeline run.
type Outcome map[string]bool

// AllSucceeded reports whether at least one architecture was targeted and every
// targeted architecture succeeded.
func (o Outcome) AllSucceeded() bool {
	if len(o) == 0 {
		return false
	}

	for _, ok := range o {
		if !ok {
			return false
		}
	}

	return true
}

// Failed returns the architectures that did not succeed.
func (o Outcome) Failed() []string {
	failed := make([]string, 0, len(o))

	for arch, ok := range o {
		if !ok {
			failed = append(failed, arch)
		}
	}

	return failed
}

// BaseVersion strips the dedup suffix (everything from the first hyphen) from a version.
func BaseVersion(version string) string {
	base, _, _ := strings.Cut(version, "-")

	return base
}

// RegistryKey composes the dedup key for a hosted archive.
// The full source version, the architecture and the content digest all take part,
// so a rebuilt binary with the same version is never mistaken for a hosted one.
func RegistryKey(version, architecture, digest string) string {
	return version + "-" + architecture + "-" + digest
}
