// Package manifest aggregates per-architecture results into the descriptor
// read by the runtime loader and persists it into the bundled-resource tree.
package manifest
