// Package digest computes content fingerprints of native binaries.
//
// Files are streamed through the hash in fixed-size chunks so memory stays
// flat for large engine libraries. The result depends only on file content,
// never on modification time or permissions.
package digest
