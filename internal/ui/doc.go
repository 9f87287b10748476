// Package ui implements a terminal run monitor using bubbletea's Elm
// architecture.
//
// The [Model] renders a live view of a migration run: the current
// phase with a spinner, a progress bar for multi-step phases, and a
// scrollback of per-object pass summaries. Progress updates flow
// through a channel from the migration job, providing non-blocking
// status reporting; the run outcome arrives on a second channel when
// the job goroutine finishes.
package ui
