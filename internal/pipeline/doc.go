// Package pipeline runs the offloading pipeline for one library:
// discovery, hashing, the dedup gate, packaging, upload, manifest aggregation
// and the all-or-nothing cleanup of the original binaries.
//
// A Pipeline carries every collaborator explicitly; there is no package state.
package pipeline
