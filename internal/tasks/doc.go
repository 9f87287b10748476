// Package tasks implements the migration job task engine.
//
// A [MigrationJob] owns one [MigrationJobTask] per script object and
// runs them single-threaded in dependency order: the task graph places
// lookup-parents before children, a forwards pass migrates every
// object, and backwards passes repeat until no new lookup links resolve
// (bounded by object count) to settle mutual references.
//
// Per task and pass the engine plans and chunks retrieval queries,
// registers records into per-side [TaskOrgData], runs the
// transformation pipeline (filtering, masking, value remapping, lookup
// resolution, field renaming), classifies records into insert/update
// buckets against the already-queried target, and drives CRUD through
// the engine executor with retry/fallback.
//
// Operations emit progress updates via channels for non-blocking status
// reporting to CLI/UI layers.
package tasks
