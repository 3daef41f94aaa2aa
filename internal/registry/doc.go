// Package registry implements the dedup gate consulted before packaging.
//
// The gate asks the remote registry whether an exact binary is already hosted.
// It never fails the caller: transport errors and a missing registry both read
// as "not hosted", so the worst case is a redundant upload.
package registry
