// Package config loads and validates scribe's TOML configuration.
//
// Configuration resolves in three steps: start from Default(), overlay the
// TOML file when one exists, then apply environment-independent
// normalization (path expansion) and validation. All durations are stored
// as integer seconds or minutes in the file and converted at the point of
// use.
package config
