// Package journal persists the job lifecycle to SQLite as an audit trail.
//
// The journal is append-mostly: one row per job, upserted as lifecycle
// events arrive. It survives daemon restarts and backs the historical
// parts of status queries. It is never on the hot processing path; a
// journal failure is logged and the core keeps running.
package journal
