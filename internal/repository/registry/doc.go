// Package registry implements persistence for the dedup registry index.
//
// The FileRepository stores and loads the index as protobuf JSON on disk and
// exposes a Repository interface that the server service depends on.
package registry
