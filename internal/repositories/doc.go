// Package repositories implements SQLite persistence for the run
// journal.
//
// Every migration run is recorded with its per-object, per-pass
// statistics and the missing-parent diagnostics collected along the
// way, so past runs can be inspected and compared after the fact. The
// schema is created on first open; the journal is append-only.
package repositories
