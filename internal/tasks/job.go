package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/dmx/internal/formatter"
	"github.com/desertthunder/dmx/internal/models"
	"github.com/desertthunder/dmx/internal/services"
	"github.com/desertthunder/dmx/internal/shared"
	"github.com/desertthunder/dmx/internal/soql"
)

// ObjectStats aggregates one object's outcome for one pass. Retrieved
// counts source records first seen that pass, not the running total.
type ObjectStats struct {
	Object         string
	Retrieved      int
	Inserted       int
	Updated        int
	Deleted        int
	Failed         int
	MissingParents int
}

// RunResult is the job-wide outcome.
type RunResult struct {
	Passes         int
	Objects        []ObjectStats
	MissingParents []MissingParent
	Simulation     bool
}

// Journal persists run outcomes. The sqlite implementation lives in the
// repositories package; a nil journal disables persistence.
type Journal interface {
	StartRun(ctx context.Context, source, target string, simulation bool) (int64, error)
	RecordObject(ctx context.Context, runID int64, pass int, stats ObjectStats) error
	RecordMissingParent(ctx context.Context, runID int64, mp MissingParent) error
	FinishRun(ctx context.Context, runID int64, status, errText string) error
}

// Options wires a migration job together.
type Options struct {
	Script *models.Script
	Source services.Store
	Target services.Store

	// Registry resolves the add-on names the script declares. Optional.
	Registry *Registry

	// Journal records the run. Optional.
	Journal Journal

	// ReportDir receives result and simulation CSV files. Empty disables
	// file output.
	ReportDir string

	ForceBulk bool
	ForceRest bool

	// MockSeed seeds the masking generator; runs with the same seed and
	// data mask identically.
	MockSeed uint64

	Logger   *log.Logger
	Progress chan<- ProgressUpdate
}

// MigrationJob owns one task per script object and runs them
// single-threaded in dependency order.
type MigrationJob struct {
	script *models.Script
	source services.Store
	target services.Store

	tasks  []*MigrationJobTask
	addons *addonSet
	mocker *Mocker
	cipher *shared.Cipher

	// sourceToTarget links a source record's internal id to its target
	// counterpart. Entries are immutable once set, so the cross-task
	// parent-id reads need no lock.
	sourceToTarget map[string]models.Record
	newLinks       int

	// missingParents holds one diagnostic per distinct unresolved
	// lookup; missingSeen keeps repeat passes from re-reporting it.
	missingParents []MissingParent
	missingSeen    map[MissingParent]struct{}

	journal   Journal
	reportDir string
	forceBulk bool
	forceRest bool

	logger   *log.Logger
	progress chan<- ProgressUpdate
}

// NewMigrationJob builds the job from a validated script. Object names
// missing from the script are taken from each query's FROM clause, and
// add-on names are resolved up front.
func NewMigrationJob(opts Options) (*MigrationJob, error) {
	if opts.Script == nil || opts.Source == nil || opts.Target == nil {
		return nil, fmt.Errorf("%w: job needs a script, a source, and a target", shared.ErrMissingConfig)
	}
	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	job := &MigrationJob{
		script:         opts.Script,
		source:         opts.Source,
		target:         opts.Target,
		mocker:         NewMocker(opts.MockSeed),
		sourceToTarget: make(map[string]models.Record),
		missingSeen:    make(map[MissingParent]struct{}),
		journal:        opts.Journal,
		reportDir:      opts.ReportDir,
		forceBulk:      opts.ForceBulk,
		forceRest:      opts.ForceRest,
		logger:         logger,
		progress:       opts.Progress,
	}

	if opts.Script.EncryptDataFiles {
		cipher, err := shared.NewCipher(opts.Script.Passphrase)
		if err != nil {
			return nil, err
		}
		job.cipher = cipher
	}

	for _, obj := range opts.Script.Objects {
		if obj.Name == "" {
			q, err := soql.Parse(obj.Query)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", shared.ErrInvalidScript, err)
			}
			obj.Name = q.Object
		}
		job.tasks = append(job.tasks, newTask(obj, job))
	}

	addons, err := resolveAddons(opts.Registry, opts.Script.Objects)
	if err != nil {
		return nil, err
	}
	job.addons = addons
	return job, nil
}

// Tasks exposes the current task list in execution order.
func (j *MigrationJob) Tasks() []*MigrationJobTask { return j.tasks }

// Run executes the whole migration: describe, order, delete old data,
// one forwards pass, then backwards passes until no new source/target
// links resolve, bounded by the object count.
func (j *MigrationJob) Run(ctx context.Context) (*RunResult, error) {
	result := &RunResult{Simulation: j.script.Simulation}

	runID, err := j.startJournal(ctx)
	if err != nil {
		return nil, err
	}

	if err := j.run(ctx, result); err != nil {
		j.finishJournal(ctx, runID, result, err)
		return result, err
	}
	j.finishJournal(ctx, runID, result, nil)
	j.sendProgress(jobDoneUpdate(result))
	return result, nil
}

func (j *MigrationJob) run(ctx context.Context, result *RunResult) error {
	for i, t := range j.tasks {
		j.sendProgress(describeUpdate(t.Object.Name, i+1, len(j.tasks)))
		if err := t.describe(ctx); err != nil {
			return err
		}
		if err := t.prepare(); err != nil {
			return err
		}
	}

	if !j.script.KeepObjectOrder {
		j.tasks = buildGraph(j.tasks)
	}
	j.sendProgress(graphUpdate(taskOrder(j.tasks)))
	j.logger.Info("task order", "objects", taskOrder(j.tasks))

	if err := j.deleteOldData(ctx, result); err != nil {
		return err
	}

	// Forwards pass, then backwards passes until the link map stops
	// growing. Each pass is bounded work, and the pass count is bounded
	// by the object count, so mutual references settle without a cycle
	// proof.
	maxPasses := 1 + len(j.tasks)
	for pass := 1; pass <= maxPasses; pass++ {
		reversed := pass > 1
		j.newLinks = 0

		if err := j.runPass(ctx, pass, reversed, result); err != nil {
			return err
		}
		result.Passes = pass
		if reversed && j.newLinks == 0 {
			break
		}
	}

	result.MissingParents = j.missingParents
	if len(j.missingParents) > 0 {
		j.logger.Warn("unresolved parent lookups", "count", len(j.missingParents))
		if err := j.writeMissingParentReport(); err != nil {
			return err
		}
	}
	return j.writeResultFiles()
}

func (j *MigrationJob) runPass(ctx context.Context, pass int, reversed bool, result *RunResult) error {
	for _, t := range j.tasks {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", shared.ErrAborted, err)
		}

		if err := t.RetrieveRecords(ctx, reversed); err != nil {
			return err
		}

		pctx := &PassContext{Object: t.Object.Name, Pass: pass, FirstPass: pass == 1}
		stats, err := t.runUpdatePhase(ctx, pctx)
		if err != nil {
			return err
		}
		result.Objects = append(result.Objects, stats)
		j.sendProgress(passDoneUpdate(t.Object.Name, pass, stats))
	}
	return nil
}

// deleteOldData clears target rows for flagged objects, children before
// parents so detail rows never outlive their master.
func (j *MigrationJob) deleteOldData(ctx context.Context, result *RunResult) error {
	for i := len(j.tasks) - 1; i >= 0; i-- {
		t := j.tasks[i]
		if !t.Object.DeleteOldData {
			continue
		}
		deleted, err := t.deleteOldData(ctx)
		if err != nil {
			return err
		}
		result.Objects = append(result.Objects, ObjectStats{Object: t.Object.Name, Deleted: deleted})
	}
	return nil
}

// linkSourceToTarget records a resolved source/target pair. Entries are
// set exactly once; later calls for the same source are ignored.
func (j *MigrationJob) linkSourceToTarget(src, tgt models.Record) {
	key := src.InternalID()
	if key == "" {
		return
	}
	if _, exists := j.sourceToTarget[key]; exists {
		return
	}
	j.sourceToTarget[key] = tgt
	j.newLinks++
}

func (j *MigrationJob) targetRecordFor(src models.Record) (models.Record, bool) {
	tgt, ok := j.sourceToTarget[src.InternalID()]
	return tgt, ok
}

// reportMissingParents records unresolved lookups, one diagnostic per
// distinct (object, field, value) across all passes. Returns how many
// were new.
func (j *MigrationJob) reportMissingParents(missing []MissingParent) int {
	added := 0
	for _, mp := range missing {
		if _, seen := j.missingSeen[mp]; seen {
			continue
		}
		j.missingSeen[mp] = struct{}{}
		j.missingParents = append(j.missingParents, mp)
		added++
		j.logger.Warn("no parent record found", "object", mp.Object, "field", mp.Field, "value", mp.Value)
	}
	return added
}

// sendProgress emits without blocking; a slow or absent consumer never
// stalls the run.
func (j *MigrationJob) sendProgress(update ProgressUpdate) {
	if j.progress == nil {
		return
	}
	select {
	case j.progress <- update:
	default:
	}
}

// writeSimulation records the would-write buckets as CSV files instead
// of executing them.
func (j *MigrationJob) writeSimulation(obj *models.ScriptObject, pd *ProcessedData) error {
	if j.reportDir == "" {
		return nil
	}
	if err := os.MkdirAll(j.reportDir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrMissingPath, err)
	}
	suffix := ""
	if pd.PersonRole != "" {
		suffix = "_" + pd.PersonRole
	}
	if len(pd.Inserts) > 0 {
		path := filepath.Join(j.reportDir, obj.Name+suffix+"_inserts.csv")
		if err := formatter.WriteRecords(path, pd.Inserts, j.cipher); err != nil {
			return err
		}
	}
	if len(pd.Updates) > 0 {
		path := filepath.Join(j.reportDir, obj.Name+suffix+"_updates.csv")
		if err := formatter.WriteRecords(path, pd.Updates, j.cipher); err != nil {
			return err
		}
	}
	return nil
}

// writeResultFiles exports each task's source records, with any
// per-record error text, after the final pass.
func (j *MigrationJob) writeResultFiles() error {
	if j.reportDir == "" {
		return nil
	}
	if err := os.MkdirAll(j.reportDir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrMissingPath, err)
	}
	j.sendProgress(ProgressUpdate{Phase: WriteResults, Step: 1, Total: len(j.tasks), Message: "Writing result files..."})

	for _, t := range j.tasks {
		records := t.SourceData.Records()
		if len(records) == 0 {
			continue
		}
		path := filepath.Join(j.reportDir, t.Object.Name+"_source.csv")
		if err := formatter.WriteRecords(path, records, j.cipher); err != nil {
			return err
		}
	}
	return nil
}

// writeMissingParentReport dumps the diagnostic rows for records that
// matched no parent across all tasks.
func (j *MigrationJob) writeMissingParentReport() error {
	if j.reportDir == "" {
		return nil
	}
	records := make(models.RecordSet, len(j.missingParents))
	for i, mp := range j.missingParents {
		records[i] = models.Record{"Object": mp.Object, "Field": mp.Field, "Value": mp.Value}
	}
	path := filepath.Join(j.reportDir, "missing_parents.csv")
	return formatter.WriteRecords(path, records, nil)
}

func (j *MigrationJob) startJournal(ctx context.Context) (int64, error) {
	if j.journal == nil {
		return 0, nil
	}
	return j.journal.StartRun(ctx, j.source.Name(), j.target.Name(), j.script.Simulation)
}

func (j *MigrationJob) finishJournal(ctx context.Context, runID int64, result *RunResult, runErr error) {
	if j.journal == nil {
		return
	}
	for _, stats := range result.Objects {
		if err := j.journal.RecordObject(ctx, runID, result.Passes, stats); err != nil {
			j.logger.Warn("journal write failed", "err", err)
		}
	}
	for _, mp := range result.MissingParents {
		if err := j.journal.RecordMissingParent(ctx, runID, mp); err != nil {
			j.logger.Warn("journal write failed", "err", err)
		}
	}
	status, errText := "completed", ""
	if runErr != nil {
		status, errText = "failed", runErr.Error()
	}
	if err := j.journal.FinishRun(ctx, runID, status, errText); err != nil {
		j.logger.Warn("journal write failed", "err", err)
	}
}
