// Package packager is the entry point of the dynaso-packager command.
//
// It loads the build configuration, takes the work directory lock, wires the
// registry gate, archive packager, uploader and manifest writer into a
// pipeline and runs it for every configured library. Pipeline errors never
// fail the build unless strict mode is requested.
package packager
