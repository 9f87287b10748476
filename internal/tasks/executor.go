package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/dmx/internal/models"
	"github.com/desertthunder/dmx/internal/services"
	"github.com/desertthunder/dmx/internal/shared"
)

// chooseEngine picks the engine for one batch: bulk at or above the
// configured threshold (or when forced), REST otherwise. A bulk engine
// that cannot hard-delete is bypassed up front; runtime refusals are
// caught by the fallback in executeBucket.
func (t *MigrationJobTask) chooseEngine(store services.Store, count int, op services.CRUDOperation) services.Engine {
	rest := store.RestEngine()
	bulk := store.BulkEngine(t.job.script.BulkAPIVersion)
	if bulk == nil || t.job.forceRest {
		return rest
	}
	if t.job.forceBulk || count >= t.job.script.BulkThreshold {
		if op == services.CRUDHardDelete && !bulk.SupportsHardDelete() {
			return rest
		}
		return bulk
	}
	return rest
}

// executeBucket drives one record bucket through an engine, retrying
// once through REST when the chosen engine reports the operation as
// unsupported. Results are mapped back onto the payload and source
// records; under all-or-none any failure fails the whole bucket.
func (t *MigrationJobTask) executeBucket(ctx context.Context, op services.CRUDOperation, records models.RecordSet, fields []string, pd *ProcessedData) (int, int, error) {
	if len(records) == 0 {
		return 0, 0, nil
	}

	store := t.job.target
	engine := t.chooseEngine(store, len(records), op)
	results, err := t.runEngine(ctx, engine, op, records, fields)
	if err != nil && errors.Is(err, shared.ErrNotSupported) && engine != store.RestEngine() {
		t.logger.Warn("engine refused operation, retrying via rest", "engine", engine.Name(), "operation", op)
		results, err = t.runEngine(ctx, store.RestEngine(), op, records, fields)
	}
	if err != nil {
		return 0, len(records), err
	}

	ok, failed, lastErr := t.applyResults(records, results, pd, op)
	if failed > 0 && t.job.script.AllOrNone {
		msg := fmt.Sprintf("all-or-none: %d of %d records failed: %s", failed, len(records), lastErr)
		for _, rec := range records {
			rec[models.ErrorsField] = msg
			if src := pd.cloneSource(rec); src != nil {
				src[models.ErrorsField] = msg
			}
		}
		return 0, len(records), fmt.Errorf("%w: %s: %s", shared.ErrExecution, t.Object.Target(), msg)
	}
	if failed > 0 {
		t.logger.Warn("records failed", "operation", op, "failed", failed, "last_error", lastErr)
	}
	return ok, failed, nil
}

// runEngine runs the create/execute/poll/read cycle on one engine.
func (t *MigrationJobTask) runEngine(ctx context.Context, engine services.Engine, op services.CRUDOperation, records models.RecordSet, fields []string) ([]services.RecordResult, error) {
	extField := ""
	if op == services.CRUDInsert && t.Object.Op() == models.OperationUpsert && !t.Object.IsComplexExternalID() {
		extField = t.Object.TargetFieldName(t.Object.ExternalID)
	}

	job, err := engine.CreateJob(ctx, t.Object.Target(), op, extField)
	if err != nil {
		return nil, err
	}
	if err := engine.ExecuteBatch(ctx, job, records, fields); err != nil {
		return nil, err
	}
	if err := t.pollUntilDone(ctx, engine, job); err != nil {
		return nil, err
	}
	return engine.ReadResults(ctx, job)
}

// pollUntilDone re-checks job status on the configured interval until a
// terminal state.
func (t *MigrationJobTask) pollUntilDone(ctx context.Context, engine services.Engine, job *services.Job) error {
	interval := time.Duration(t.job.script.PollingIntervalMS) * time.Millisecond
	for {
		state, err := engine.Poll(ctx, job)
		if err != nil {
			return err
		}
		if state.Terminal() {
			if state == services.JobFailed || state == services.JobAborted {
				return fmt.Errorf("%w: %s job %s ended %s", shared.ErrJobFailed, engine.Name(), job.ID, state)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// applyResults writes per-record outcomes back: successes clear the
// error column and, on insert, carry the assigned id into the target
// data and the source link; on update the written values merge into the
// cached counterpart so later passes compare against what the target
// now holds. Failures collect their error text.
func (t *MigrationJobTask) applyResults(records models.RecordSet, results []services.RecordResult, pd *ProcessedData, op services.CRUDOperation) (int, int, string) {
	byInternal := make(map[string]services.RecordResult, len(results))
	for _, res := range results {
		if res.InternalID != "" {
			byInternal[res.InternalID] = res
		}
	}

	var ok, failed int
	var lastErr string
	for _, rec := range records {
		src := pd.cloneSource(rec)
		res, found := byInternal[rec.InternalID()]
		if !found {
			failed++
			lastErr = "no result returned for record"
			rec[models.ErrorsField] = lastErr
			if src != nil {
				src[models.ErrorsField] = lastErr
			}
			continue
		}
		if !res.Success {
			failed++
			lastErr = res.Error
			rec[models.ErrorsField] = res.Error
			if src != nil {
				src[models.ErrorsField] = res.Error
			}
			continue
		}

		ok++
		delete(rec, models.ErrorsField)
		if src != nil {
			delete(src, models.ErrorsField)
		}
		switch {
		case op == services.CRUDInsert && res.ID != "":
			rec[models.IDField] = res.ID
			t.RegisterRecords(models.RecordSet{rec}, t.TargetData)
			if src != nil {
				t.job.linkSourceToTarget(src, rec)
			}
		case op == services.CRUDUpdate:
			t.mergeOntoTarget(rec, src)
		}
	}
	return ok, failed, lastErr
}

// mergeOntoTarget copies a written update payload's values onto the
// cached counterpart record, keeping the in-memory target view in step
// with the store so change detection on the next pass sees the row as
// already written.
func (t *MigrationJobTask) mergeOntoTarget(payload, src models.Record) {
	var tgt models.Record
	if src != nil {
		tgt, _ = t.job.targetRecordFor(src)
	}
	if tgt == nil {
		tgt = t.TargetData.IDRecords[payload.ID()]
	}
	if tgt == nil {
		return
	}
	for f, v := range payload {
		if f == models.IDField || f == models.ErrorsField || models.IsBookkeepingField(f) {
			continue
		}
		tgt[f] = v
	}
}

func (pd *ProcessedData) cloneSource(rec models.Record) models.Record {
	if pd == nil {
		return nil
	}
	return pd.CloneToSource[rec.InternalID()]
}

// runUpdatePhase is one task's transform/classify/execute round for one
// pass. Read-only tasks stop after retrieval; delete tasks clear their
// matched target rows.
func (t *MigrationJobTask) runUpdatePhase(ctx context.Context, pctx *PassContext) (ObjectStats, error) {
	stats := ObjectStats{Object: t.Object.Name, Retrieved: t.retrieved}
	op := t.Object.Op()

	if op == models.OperationReadonly {
		return stats, nil
	}
	if op.IsDelete() {
		deleted, err := t.deleteRecords(ctx, t.TargetData.Records(), op == models.OperationHardDelete || t.Object.HardDelete)
		stats.Deleted = deleted
		return stats, err
	}

	records, err := t.job.addons.OnBefore(t.Object, t.SourceData.Records(), pctx)
	if err != nil {
		return stats, err
	}

	t.job.sendProgress(transformUpdate(t.Object.Name, len(records)))
	clones, cloneToSource, missing, err := t.transformRecords(records, pctx)
	if err != nil {
		return stats, err
	}
	stats.MissingParents = t.job.reportMissingParents(missing)

	roles := []string{""}
	if t.TargetDescribe.IsPersonEnabled {
		roles = []string{models.PersonRoleBusiness, models.PersonRolePerson}
	}

	for _, role := range roles {
		pd := t.classifyRecords(clones, cloneToSource, role)
		t.Processed = pd
		t.job.sendProgress(classifyUpdate(t.Object.Name, len(pd.Inserts), len(pd.Updates)))

		if t.job.script.Simulation {
			if err := t.job.writeSimulation(t.Object, pd); err != nil {
				return stats, err
			}
			stats.Inserted += len(pd.Inserts)
			stats.Updated += len(pd.Updates)
			continue
		}

		if len(pd.Inserts) > 0 {
			t.job.sendProgress(executeUpdate(ExecuteInserts, t.Object.Name, len(pd.Inserts)))
			ok, failed, err := t.executeBucket(ctx, services.CRUDInsert, pd.Inserts, pd.InsertFields, pd)
			stats.Inserted += ok
			stats.Failed += failed
			if err != nil {
				return stats, err
			}
		}

		updates, err := t.job.addons.OnBeforeUpdate(t.Object, pd.Updates, pctx)
		if err != nil {
			return stats, err
		}
		if len(updates) > 0 {
			t.job.sendProgress(executeUpdate(ExecuteUpdates, t.Object.Name, len(updates)))
			ok, failed, err := t.executeBucket(ctx, services.CRUDUpdate, updates, pd.UpdateFields, pd)
			stats.Updated += ok
			stats.Failed += failed
			if err != nil {
				return stats, err
			}
		}
		if _, err := t.job.addons.OnAfterUpdate(t.Object, updates, pctx); err != nil {
			return stats, err
		}
	}

	if _, err := t.job.addons.OnAfter(t.Object, clones, pctx); err != nil {
		return stats, err
	}
	return stats, nil
}

// deleteRecords removes the given target rows, falling back from hard
// to the alternate engine when refused.
func (t *MigrationJobTask) deleteRecords(ctx context.Context, records models.RecordSet, hard bool) (int, error) {
	withIDs := make(models.RecordSet, 0, len(records))
	for _, rec := range records {
		if rec.ID() != "" {
			withIDs = append(withIDs, rec)
		}
	}
	if len(withIDs) == 0 {
		return 0, nil
	}

	op := services.CRUDDelete
	if hard {
		op = services.CRUDHardDelete
	}
	t.job.sendProgress(executeUpdate(ExecuteDeletes, t.Object.Target(), len(withIDs)))

	if t.job.script.Simulation {
		return len(withIDs), nil
	}
	ok, _, err := t.executeBucket(ctx, op, withIDs, []string{models.IDField}, nil)
	return ok, err
}

// deleteOldData clears the task's target rows before migration. The
// target data is rebuilt by the later retrieval.
func (t *MigrationJobTask) deleteOldData(ctx context.Context) (int, error) {
	if err := t.retrieveTarget(ctx); err != nil {
		return 0, err
	}
	records := t.TargetData.Records()
	t.job.sendProgress(deleteOldUpdate(t.Object.Target(), len(records)))

	deleted, err := t.deleteRecords(ctx, records, t.Object.HardDelete)
	if err != nil {
		return deleted, err
	}
	t.TargetData.Clear()
	t.queried = make(map[string]map[string]struct{})
	return deleted, nil
}
