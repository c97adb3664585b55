// Package preflight provides readiness checks for the filesystem paths,
// external binaries, and credentials the daemon depends on.
//
// The daemon runs RunAll once at startup and logs every failing check.
// Failures do not block startup; a missing key or binary surfaces later
// as a stage failure with the usual retry handling.
package preflight
