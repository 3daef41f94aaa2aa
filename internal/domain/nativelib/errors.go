package nativelib

import "errors"

// Error kinds produced by the pipeline stages. Stages wrap them with context,
// callers match them with errors.Is.
var (
	// ErrDiscoveryEmpty reports that no binary was found for any architecture.
	// It is a terminal no-op state, not a failure.
	ErrDiscoveryEmpty = errors.New("no native libraries discovered")
	// ErrHash reports that a binary could not be read while hashing.
	ErrHash = errors.New("hash native library")
	// ErrRegistryUnavailable reports a registry transport failure. The gate
	// treats it as "not hosted".
	ErrRegistryUnavailable = errors.New("registry unavailable")
	// ErrPackaging reports that an archive could not be built.
	ErrPackaging = errors.New("package native library")
	// ErrUpload reports a transport error, a non-2xx status or a rejected upload.
	ErrUpload = errors.New("upload archive")
	// ErrWrite reports that the manifest could not be persisted.
	ErrWrite = errors.New("write manifest")
	// ErrConfigInvalid reports a malformed library policy.
	ErrConfigInvalid = errors.New("invalid library policy")
)
