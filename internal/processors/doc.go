// Package processors ships the built-in batch processors: response record
// validation, field transformation, and NDJSON export. They carry the
// domain work the orchestrator dispatches to; the orchestrator itself
// never inspects record contents.
package processors
