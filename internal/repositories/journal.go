package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/dmx/internal/tasks"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source TEXT NOT NULL,
	target TEXT NOT NULL,
	simulation INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'running',
	error TEXT,
	started_at TEXT NOT NULL,
	finished_at TEXT
);

CREATE TABLE IF NOT EXISTS run_objects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL REFERENCES runs(id),
	pass INTEGER NOT NULL,
	object TEXT NOT NULL,
	retrieved INTEGER NOT NULL DEFAULT 0,
	inserted INTEGER NOT NULL DEFAULT 0,
	updated INTEGER NOT NULL DEFAULT 0,
	deleted INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	missing_parents INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS run_missing_parents (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL REFERENCES runs(id),
	object TEXT NOT NULL,
	field TEXT NOT NULL,
	value TEXT NOT NULL
);
`

// RunJournal implements tasks.Journal on SQLite.
type RunJournal struct {
	db *sql.DB
}

// NewRunJournal creates the journal tables when absent and returns a
// ready journal.
func NewRunJournal(db *sql.DB) (*RunJournal, error) {
	if _, err := db.Exec(journalSchema); err != nil {
		return nil, fmt.Errorf("failed to create journal schema: %w", err)
	}
	return &RunJournal{db: db}, nil
}

// StartRun opens a run row and returns its id.
func (j *RunJournal) StartRun(ctx context.Context, source, target string, simulation bool) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (source, target, simulation, started_at) VALUES (?, ?, ?, ?)`,
		source, target, simulation, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}
	return res.LastInsertId()
}

// RecordObject persists one object's stats for one pass.
func (j *RunJournal) RecordObject(ctx context.Context, runID int64, pass int, stats tasks.ObjectStats) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO run_objects (run_id, pass, object, retrieved, inserted, updated, deleted, failed, missing_parents)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, pass, stats.Object, stats.Retrieved, stats.Inserted, stats.Updated, stats.Deleted, stats.Failed, stats.MissingParents,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run object: %w", err)
	}
	return nil
}

// RecordMissingParent persists one missing-parent diagnostic row.
func (j *RunJournal) RecordMissingParent(ctx context.Context, runID int64, mp tasks.MissingParent) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO run_missing_parents (run_id, object, field, value) VALUES (?, ?, ?, ?)`,
		runID, mp.Object, mp.Field, mp.Value,
	)
	if err != nil {
		return fmt.Errorf("failed to insert missing parent: %w", err)
	}
	return nil
}

// FinishRun closes the run row with its final status.
func (j *RunJournal) FinishRun(ctx context.Context, runID int64, status, errText string) error {
	var errVal any = errText
	if errText == "" {
		errVal = nil
	}
	_, err := j.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, errVal, time.Now().UTC().Format(time.RFC3339), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// RunSummary is one row of the run history listing.
type RunSummary struct {
	ID         int64
	Source     string
	Target     string
	Simulation bool
	Status     string
	Error      string
	StartedAt  string
	FinishedAt string
}

// ListRuns returns the most recent runs, newest first.
func (j *RunJournal) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, source, target, simulation, status, COALESCE(error, ''), started_at, COALESCE(finished_at, '')
		 FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.Source, &r.Target, &r.Simulation, &r.Status, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RunObjects returns the per-object stats recorded for one run.
func (j *RunJournal) RunObjects(ctx context.Context, runID int64) ([]tasks.ObjectStats, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT object, retrieved, inserted, updated, deleted, failed, missing_parents
		 FROM run_objects WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run objects: %w", err)
	}
	defer rows.Close()

	var out []tasks.ObjectStats
	for rows.Next() {
		var s tasks.ObjectStats
		if err := rows.Scan(&s.Object, &s.Retrieved, &s.Inserted, &s.Updated, &s.Deleted, &s.Failed, &s.MissingParents); err != nil {
			return nil, fmt.Errorf("failed to scan run object: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
