// Package logger wraps zap for the packager and the storage server:
//   - a global sugared logger with a console encoder on stderr,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level parsing for the --log-level flag,
//   - leveled helpers (Infof, WarnKV, ErrorKV, etc.).
//
// Every pipeline stage receives a context and logs through it, so the
// library, architecture and run identifiers attached upstream appear on
// each line.
package logger
