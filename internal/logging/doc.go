// Package logging builds the slog loggers used across scribe.
//
// Two output formats are supported: a compact console format for
// interactive use and JSON for log shippers. Attr helpers and the
// standardized field keys keep attribute names consistent between the
// daemon, the workers, and the HTTP API.
package logging
