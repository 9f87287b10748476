package tasks

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/desertthunder/dmx/internal/models"
	"github.com/desertthunder/dmx/internal/services"
	"github.com/desertthunder/dmx/internal/shared"
	mocks "github.com/desertthunder/dmx/internal/testing"
)

func executorFixture(t *testing.T, script *models.Script) (*MigrationJobTask, *mocks.MockStore) {
	t.Helper()
	target := mocks.NewMockStore("tgt")
	job := newTestJob(t, script, mocks.NewMockStore("src"), target)
	applyDescribes(t, job, map[string]*models.ObjectDescribe{
		"Account": describeOf("Account", field("Name", models.FieldTypeString)),
	})
	return job.tasks[0], target
}

func insertPayloads(n int) (models.RecordSet, *ProcessedData) {
	pd := &ProcessedData{CloneToSource: make(map[string]models.Record)}
	records := make(models.RecordSet, n)
	for i := range records {
		rid := fmt.Sprintf("rid-%d", i)
		src := models.Record{models.InternalIDField: rid, "Name": fmt.Sprintf("N%d", i)}
		records[i] = models.Record{models.InternalIDField: rid, "Name": fmt.Sprintf("N%d", i)}
		pd.CloneToSource[rid] = src
	}
	return records, pd
}

func TestChooseEngine(t *testing.T) {
	tests := []struct {
		name       string
		count      int
		forceBulk  bool
		forceRest  bool
		noBulk     bool
		op         services.CRUDOperation
		bulkNoHard bool
		want       string
	}{
		{name: "below threshold uses rest", count: 5, op: services.CRUDInsert, want: "mock-rest"},
		{name: "at threshold uses bulk", count: 200, op: services.CRUDInsert, want: "mock-bulk"},
		{name: "force bulk overrides count", count: 1, forceBulk: true, op: services.CRUDInsert, want: "mock-bulk"},
		{name: "force rest overrides count", count: 500, forceRest: true, op: services.CRUDInsert, want: "mock-rest"},
		{name: "no bulk engine falls back", count: 500, noBulk: true, op: services.CRUDInsert, want: "mock-rest"},
		{name: "hard delete bypasses incapable bulk", count: 500, op: services.CRUDHardDelete, bulkNoHard: true, want: "mock-rest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script := &models.Script{Objects: []*models.ScriptObject{
				scriptObject("SELECT Id, Name FROM Account", "Upsert", "Name"),
			}}
			task, target := executorFixture(t, script)
			if !tt.noBulk {
				target.Bulk = mocks.NewMockEngine("mock-bulk")
				target.Bulk.HardDelete = !tt.bulkNoHard
			} else {
				target.Bulk = nil
			}
			task.job.forceBulk = tt.forceBulk
			task.job.forceRest = tt.forceRest

			engine := task.chooseEngine(target, tt.count, tt.op)
			if engine.Name() != tt.want {
				t.Errorf("chooseEngine() = %s, want %s", engine.Name(), tt.want)
			}
		})
	}
}

func TestExecuteBucketAllOrNone(t *testing.T) {
	script := &models.Script{
		AllOrNone: true,
		Objects: []*models.ScriptObject{
			scriptObject("SELECT Id, Name FROM Account", "Upsert", "Name"),
		},
	}
	task, target := executorFixture(t, script)

	// Record 2 of 3 fails.
	target.Rest.ResultFn = func(job *services.Job, rec models.Record) services.RecordResult {
		res := services.RecordResult{InternalID: rec.InternalID(), Success: true, ID: "T-" + rec.GetString("Name")}
		if rec.GetString("Name") == "N1" {
			res.Success = false
			res.ID = ""
			res.Error = "REQUIRED_FIELD_MISSING"
		}
		return res
	}

	records, pd := insertPayloads(3)
	ok, failed, err := task.executeBucket(context.Background(), services.CRUDInsert, records, []string{"Name"}, pd)

	if !errors.Is(err, shared.ErrExecution) {
		t.Fatalf("executeBucket() error = %v, want ErrExecution", err)
	}
	if ok != 0 || failed != 3 {
		t.Errorf("executeBucket() = %d ok %d failed, want 0 and 3", ok, failed)
	}
	for _, rec := range records {
		if rec.GetString(models.ErrorsField) == "" {
			t.Errorf("record %s missing batch error text", rec.InternalID())
		}
	}
}

func TestExecuteBucketPartialFailure(t *testing.T) {
	script := &models.Script{Objects: []*models.ScriptObject{
		scriptObject("SELECT Id, Name FROM Account", "Upsert", "Name"),
	}}
	task, target := executorFixture(t, script)

	target.Rest.ResultFn = func(job *services.Job, rec models.Record) services.RecordResult {
		res := services.RecordResult{InternalID: rec.InternalID(), Success: true, ID: "T-" + rec.GetString("Name")}
		if rec.GetString("Name") == "N1" {
			res.Success = false
			res.ID = ""
			res.Error = "boom"
		}
		return res
	}

	records, pd := insertPayloads(3)
	ok, failed, err := task.executeBucket(context.Background(), services.CRUDInsert, records, []string{"Name"}, pd)
	if err != nil {
		t.Fatalf("executeBucket() error = %v", err)
	}
	if ok != 2 || failed != 1 {
		t.Errorf("executeBucket() = %d ok %d failed, want 2 and 1", ok, failed)
	}

	// Failures carry their error text; successes get ids and a link.
	for _, rec := range records {
		if rec.GetString("Name") == "N1" {
			if rec.GetString(models.ErrorsField) != "boom" {
				t.Errorf("failed record error = %q, want boom", rec.GetString(models.ErrorsField))
			}
			continue
		}
		if rec.ID() == "" {
			t.Errorf("success record %s missing assigned id", rec.InternalID())
		}
		src := pd.CloneToSource[rec.InternalID()]
		if _, linked := task.job.targetRecordFor(src); !linked {
			t.Errorf("success record %s not linked to source", rec.InternalID())
		}
	}
}

func TestExecuteBucketHardDeleteFallback(t *testing.T) {
	script := &models.Script{Objects: []*models.ScriptObject{
		scriptObject("SELECT Id FROM Account WHERE Name = 'x'", "HardDelete", ""),
	}}
	task, target := executorFixture(t, script)

	// The bulk engine claims hard-delete support but refuses at runtime,
	// like a backend with the feature flag off.
	target.Bulk = mocks.NewMockEngine("mock-bulk")
	target.Bulk.ExecuteErr = fmt.Errorf("%w: FEATURE_NOT_ENABLED", shared.ErrNotSupported)
	task.job.forceBulk = true

	records := models.RecordSet{
		{models.IDField: "T1", models.InternalIDField: "rid-0"},
		{models.IDField: "T2", models.InternalIDField: "rid-1"},
	}
	ok, failed, err := task.executeBucket(context.Background(), services.CRUDHardDelete, records, []string{models.IDField}, nil)
	if err != nil {
		t.Fatalf("executeBucket() error = %v", err)
	}
	if ok != 2 || failed != 0 {
		t.Errorf("executeBucket() = %d ok %d failed, want 2 and 0", ok, failed)
	}
	if len(target.Rest.Batches) != 1 {
		t.Fatalf("rest engine saw %d batches, want 1 fallback batch", len(target.Rest.Batches))
	}
	if len(target.Rest.Ops) != 1 || target.Rest.Ops[0] != services.CRUDHardDelete {
		t.Errorf("fallback ops = %v, want [hardDelete]", target.Rest.Ops)
	}
}
