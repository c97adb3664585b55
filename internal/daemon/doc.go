// Package daemon assembles the processing services, enforces
// single-instance execution with a lock file, and owns their combined
// lifecycle.
package daemon
