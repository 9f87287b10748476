package tasks

import (
	"testing"

	"github.com/desertthunder/dmx/internal/models"
)

func TestRegisterRecordsFirstSeenWins(t *testing.T) {
	task := upsertTask(t)

	task.RegisterRecords(models.RecordSet{
		{models.IDField: "S1", "Name": "X1", "Phone": "111"},
	}, task.SourceData)
	task.RegisterRecords(models.RecordSet{
		{models.IDField: "S1", "Name": "X1", "Phone": "222"},
	}, task.SourceData)

	if len(task.SourceData.IDRecords) != 1 {
		t.Fatalf("registered %d records, want 1", len(task.SourceData.IDRecords))
	}
	if got := task.SourceData.IDRecords["S1"].GetString("Phone"); got != "111" {
		t.Errorf("Phone = %q, first registration must win", got)
	}
}

func TestRegisterRecordsAssignsPseudoID(t *testing.T) {
	task := upsertTask(t)

	rec := models.Record{"Name": "NoId"}
	task.RegisterRecords(models.RecordSet{rec}, task.SourceData)

	if rec.InternalID() == "" {
		t.Fatal("record has no internal id after registration")
	}
	if _, ok := task.SourceData.IDRecords[rec.InternalID()]; !ok {
		t.Error("record not indexed under its pseudo-id")
	}
	if got, ok := task.SourceData.RecordByExtID("NoId"); !ok || got.GetString("Name") != "NoId" {
		t.Errorf("RecordByExtID(NoId) = %v, %v", got, ok)
	}
}

func TestRegisterTargetRecordsLinksSource(t *testing.T) {
	task := upsertTask(t)

	src := models.Record{models.IDField: "S1", "Name": "Acme"}
	task.RegisterRecords(models.RecordSet{src}, task.SourceData)
	tgt := models.Record{models.IDField: "T1", "Name": "Acme"}
	task.RegisterRecords(models.RecordSet{tgt}, task.TargetData)

	linked, ok := task.job.targetRecordFor(src)
	if !ok {
		t.Fatal("source record has no target link")
	}
	if linked.ID() != "T1" {
		t.Errorf("link points at %q, want T1", linked.ID())
	}
}

func TestTargetExtIDValueFallsBackToEcho(t *testing.T) {
	task := upsertTask(t)

	// Target row without the key field itself, only the source echo.
	rec := models.Record{models.IDField: "T1", "Name" + models.ExtIDSourceSuffix: "Acme"}
	if got := task.targetExtIDValue(rec); got != "Acme" {
		t.Errorf("targetExtIDValue() = %q, want Acme via echo column", got)
	}
}

func TestCacheLookupValuesInvalidation(t *testing.T) {
	task := upsertTask(t)
	task.RegisterRecords(models.RecordSet{
		{models.IDField: "S1", "Name": "A", "Phone": "111"},
	}, task.SourceData)

	values := task.SourceData.CacheLookupValues(models.IDField)
	if _, ok := values["S1"]; !ok || len(values) != 1 {
		t.Fatalf("cached values = %v, want {S1}", values)
	}

	// Registering more records must drop the stale cache.
	task.RegisterRecords(models.RecordSet{
		{models.IDField: "S2", "Name": "B", "Phone": "222"},
	}, task.SourceData)
	values = task.SourceData.CacheLookupValues(models.IDField)
	if len(values) != 2 {
		t.Errorf("cached values after growth = %v, want S1 and S2", values)
	}
}

func TestExtIDValueComposite(t *testing.T) {
	tests := []struct {
		name   string
		rec    models.Record
		fields []string
		want   string
	}{
		{"single", models.Record{"Name": "Acme"}, []string{"Name"}, "Acme"},
		{"composite", models.Record{"FirstName": "Ada", "LastName": "Lovelace"}, []string{"FirstName", "LastName"}, "Ada;Lovelace"},
		{"partial composite keeps shape", models.Record{"LastName": "Lovelace"}, []string{"FirstName", "LastName"}, ";Lovelace"},
		{"all empty is no key", models.Record{}, []string{"FirstName", "LastName"}, ""},
		{"no fields", models.Record{"Name": "Acme"}, nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extIDValue(tt.rec, tt.fields); got != tt.want {
				t.Errorf("extIDValue() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTaskOrgDataClear(t *testing.T) {
	data := NewTaskOrgData(false)
	data.IDRecords["S1"] = models.Record{models.IDField: "S1"}
	data.ExtIDToRecordID["k"] = "S1"
	data.CacheLookupValues(models.IDField)

	data.Clear()
	if len(data.IDRecords) != 0 || len(data.ExtIDToRecordID) != 0 {
		t.Errorf("Clear() left data behind: %v %v", data.IDRecords, data.ExtIDToRecordID)
	}
	if values := data.CacheLookupValues(models.IDField); len(values) != 0 {
		t.Errorf("stale cache after Clear(): %v", values)
	}
}
