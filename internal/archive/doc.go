// Package archive builds and reads the self-describing zip archives uploaded
// for each architecture.
//
// An archive holds exactly two entries: the native binary under its original
// file name and package_info.json, a nativelib.Record describing it. The
// record makes every archive verifiable without the manifest.
package archive
