// Package version exposes build metadata for the dynaso binaries.
//
// Version, Commit and BuildTime are injected with ldflags. Full is printed by
// the `version` subcommand and UserAgent identifies the packager to the
// storage endpoint.
package version
