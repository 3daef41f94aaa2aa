// Package server runs the reference storage and registry server.
//
// Uploaded archives are stored on disk and registered in a persistent index
// keyed by library, version, architecture and digest; the registry gRPC
// service answers lookups from that index.
package server
