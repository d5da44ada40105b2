// Package daemon wires the processing core together: event bus, queue,
// orchestrator, journal recorder, and the HTTP control API. It enforces
// single-instance execution with a lock file.
package daemon
