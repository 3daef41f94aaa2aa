// Package config defines the YAML settings of the packager and the reference
// server and provides helpers to load, validate and save them.
//
// Validate fills defaults in place, so a loaded configuration is always ready
// to use.
package config
