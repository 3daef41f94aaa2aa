// Package nativelib contains the domain model of the offloading pipeline:
// discovered artifacts, per-architecture manifest entries, the manifest
// descriptor handed to the runtime loader, the caller's compatibility policy
// and the error kinds shared by every stage.
package nativelib
