package tasks

import (
	"testing"

	"github.com/desertthunder/dmx/internal/models"
	mocks "github.com/desertthunder/dmx/internal/testing"
)

func upsertTask(t *testing.T) *MigrationJobTask {
	t.Helper()
	script := &models.Script{Objects: []*models.ScriptObject{
		scriptObject("SELECT Id, Name, Phone FROM Account", "Upsert", "Name"),
	}}
	describes := map[string]*models.ObjectDescribe{
		"Account": describeOf("Account",
			field("Name", models.FieldTypeString),
			field("Phone", models.FieldTypeString),
		),
	}
	job := newTestJob(t, script, mocks.NewMockStore("src"), mocks.NewMockStore("tgt"))
	applyDescribes(t, job, describes)
	return job.tasks[0]
}

func transformAndClassify(t *testing.T, task *MigrationJobTask) *ProcessedData {
	t.Helper()
	pctx := &PassContext{Object: task.Object.Name, Pass: 1, FirstPass: true}
	clones, cloneToSource, _, err := task.transformRecords(task.SourceData.Records(), pctx)
	if err != nil {
		t.Fatalf("transformRecords() error = %v", err)
	}
	return task.classifyRecords(clones, cloneToSource, "")
}

func TestClassifyUpsertWithoutTarget(t *testing.T) {
	task := upsertTask(t)
	task.RegisterRecords(models.RecordSet{
		{models.IDField: "S1", "Name": "X1", "Phone": "555"},
	}, task.SourceData)

	pd := transformAndClassify(t, task)

	if len(pd.Inserts) != 1 || len(pd.Updates) != 0 {
		t.Fatalf("classify: %d inserts %d updates, want 1 and 0", len(pd.Inserts), len(pd.Updates))
	}
	payload := pd.Inserts[0]
	if _, hasID := payload[models.IDField]; hasID {
		t.Errorf("insert payload carries Id: %v", payload)
	}
	if payload.GetString("Name") != "X1" {
		t.Errorf("insert payload Name = %q, want X1", payload.GetString("Name"))
	}
}

func TestClassifyUpdateAndChangeDetection(t *testing.T) {
	tests := []struct {
		name        string
		targetPhone string
		skipCompare bool
		wantUpdates int
	}{
		{"changed value updates", "111", false, 1},
		{"equal record is skipped", "555", false, 0},
		{"comparison disabled always updates", "555", true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := upsertTask(t)
			task.Object.SkipRecordsComparison = tt.skipCompare

			task.RegisterRecords(models.RecordSet{
				{models.IDField: "S1", "Name": "X1", "Phone": "555"},
			}, task.SourceData)
			task.RegisterRecords(models.RecordSet{
				{models.IDField: "T1", "Name": "X1", "Phone": tt.targetPhone},
			}, task.TargetData)

			pd := transformAndClassify(t, task)

			if len(pd.Inserts) != 0 {
				t.Errorf("classify: %d inserts, want 0", len(pd.Inserts))
			}
			if len(pd.Updates) != tt.wantUpdates {
				t.Fatalf("classify: %d updates, want %d", len(pd.Updates), tt.wantUpdates)
			}
			if tt.wantUpdates == 1 && pd.Updates[0].ID() != "T1" {
				t.Errorf("update payload Id = %q, want T1", pd.Updates[0].ID())
			}
		})
	}
}

func TestClassifyIdempotence(t *testing.T) {
	task := upsertTask(t)
	task.RegisterRecords(models.RecordSet{
		{models.IDField: "S1", "Name": "X1", "Phone": "555"},
		{models.IDField: "S2", "Name": "X2", "Phone": "666"},
	}, task.SourceData)

	first := transformAndClassify(t, task)
	if len(first.Inserts) != 2 {
		t.Fatalf("first run: %d inserts, want 2", len(first.Inserts))
	}

	// Simulate the inserts landing: register the payloads as target rows
	// with assigned ids.
	for _, payload := range first.Inserts {
		payload[models.IDField] = "T" + payload.GetString("Name")
		task.RegisterRecords(models.RecordSet{payload}, task.TargetData)
	}

	second := transformAndClassify(t, task)
	if len(second.Inserts) != 0 || len(second.Updates) != 0 {
		t.Errorf("second run: %d inserts %d updates, want 0 and 0", len(second.Inserts), len(second.Updates))
	}
}

func TestClassifyOperationGates(t *testing.T) {
	tests := []struct {
		operation   string
		hasTarget   bool
		wantInserts int
		wantUpdates int
	}{
		{"Insert", false, 1, 0},
		{"Insert", true, 0, 0},
		{"Update", false, 0, 0},
		{"Update", true, 0, 1},
		{"Add", false, 1, 0},
		{"Merge", true, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.operation, func(t *testing.T) {
			task := upsertTask(t)
			task.Object.Operation = tt.operation
			if err := task.Object.Validate(); err != nil {
				t.Fatalf("Validate() error = %v", err)
			}

			task.RegisterRecords(models.RecordSet{
				{models.IDField: "S1", "Name": "X1", "Phone": "555"},
			}, task.SourceData)
			if tt.hasTarget {
				task.RegisterRecords(models.RecordSet{
					{models.IDField: "T1", "Name": "X1", "Phone": "999"},
				}, task.TargetData)
			}

			pd := transformAndClassify(t, task)
			if len(pd.Inserts) != tt.wantInserts || len(pd.Updates) != tt.wantUpdates {
				t.Errorf("classify: %d inserts %d updates, want %d and %d",
					len(pd.Inserts), len(pd.Updates), tt.wantInserts, tt.wantUpdates)
			}
		})
	}
}

func TestPayloadFieldsPermissions(t *testing.T) {
	script := &models.Script{Objects: []*models.ScriptObject{
		scriptObject("SELECT Id FROM Account", "Upsert", "Name"),
	}}
	desc := describeOf("Account",
		field("Name", models.FieldTypeString),
		models.FieldDescribe{Name: "CreatedDate", Type: models.FieldTypeDateTime},
		models.FieldDescribe{Name: "OwnerId", Type: models.FieldTypeID, Creatable: true},
		models.FieldDescribe{Name: "Serial", Type: models.FieldTypeString, Creatable: true, Updateable: true, AutoNumber: true},
	)
	job := newTestJob(t, script, mocks.NewMockStore("src"), mocks.NewMockStore("tgt"))
	applyDescribes(t, job, map[string]*models.ObjectDescribe{"Account": desc})
	task := job.tasks[0]

	inserts := task.payloadFields(false, "")
	updates := task.payloadFields(true, "")

	if !contains(inserts, "OwnerId") {
		t.Errorf("insert fields %v missing creatable OwnerId", inserts)
	}
	if contains(updates, "OwnerId") {
		t.Errorf("update fields %v include non-updateable OwnerId", updates)
	}
	for _, fields := range [][]string{inserts, updates} {
		if contains(fields, "CreatedDate") {
			t.Errorf("fields %v include read-only CreatedDate", fields)
		}
		if contains(fields, "Serial") {
			t.Errorf("fields %v include autonumber Serial", fields)
		}
		if contains(fields, models.IDField) {
			t.Errorf("fields %v include Id", fields)
		}
	}
}

func TestSynthesizeNames(t *testing.T) {
	tests := []struct {
		name string
		rec  models.Record
		want models.Record
	}{
		{
			name: "name composed from parts",
			rec:  models.Record{"FirstName": "Ada", "LastName": "Lovelace"},
			want: models.Record{"Name": "Ada Lovelace"},
		},
		{
			name: "parts split from name",
			rec:  models.Record{"Name": "Ada Lovelace"},
			want: models.Record{"FirstName": "Ada", "LastName": "Lovelace"},
		},
		{
			name: "single word name fills both parts",
			rec:  models.Record{"Name": "Cher"},
			want: models.Record{"FirstName": "Cher", "LastName": "Cher"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			synthesizeNames(tt.rec)
			for k, v := range tt.want {
				if tt.rec.GetString(k) != v {
					t.Errorf("%s = %q, want %q", k, tt.rec.GetString(k), v)
				}
			}
		})
	}
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
