package tasks

import (
	"io"
	"testing"

	"github.com/desertthunder/dmx/internal/models"
	"github.com/desertthunder/dmx/internal/shared"
	mocks "github.com/desertthunder/dmx/internal/testing"
)

func field(name string, typ models.FieldType) models.FieldDescribe {
	return models.FieldDescribe{Name: name, Type: typ, Creatable: true, Updateable: true}
}

func lookup(name string, to ...string) models.FieldDescribe {
	f := field(name, models.FieldTypeID)
	f.IsReference = true
	f.ReferencedTo = to
	return f
}

func masterDetail(name, to string) models.FieldDescribe {
	f := lookup(name, to)
	f.IsMasterDetail = true
	return f
}

func describeOf(name string, fields ...models.FieldDescribe) *models.ObjectDescribe {
	desc := &models.ObjectDescribe{Name: name, Label: name, Fields: make(map[string]models.FieldDescribe)}
	idField := models.FieldDescribe{Name: models.IDField, Type: models.FieldTypeID}
	desc.Fields[models.IDField] = idField
	for _, f := range fields {
		desc.Fields[f.Name] = f
	}
	return desc
}

func newTestJob(t *testing.T, script *models.Script, source, target *mocks.MockStore) *MigrationJob {
	t.Helper()
	if err := script.Validate(); err != nil {
		t.Fatalf("script invalid: %v", err)
	}
	logger := shared.NewLogger(io.Discard)
	job, err := NewMigrationJob(Options{
		Script: script,
		Source: source,
		Target: target,
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("NewMigrationJob() error = %v", err)
	}
	return job
}

// applyDescribes sets both sides' schemas without a store round trip.
func applyDescribes(t *testing.T, job *MigrationJob, describes map[string]*models.ObjectDescribe) {
	t.Helper()
	for _, task := range job.tasks {
		desc, ok := describes[task.Object.Name]
		if !ok {
			t.Fatalf("no describe for %s", task.Object.Name)
		}
		task.SourceDescribe = desc
		task.TargetDescribe = desc
		if err := task.prepare(); err != nil {
			t.Fatalf("prepare() error = %v", err)
		}
	}
}

func scriptObject(query, operation, extID string) *models.ScriptObject {
	return &models.ScriptObject{Query: query, Operation: operation, ExternalID: extID}
}

func taskIndex(t *testing.T, tasks []*MigrationJobTask, object string) int {
	t.Helper()
	for i, task := range tasks {
		if task.Object.Name == object {
			return i
		}
	}
	t.Fatalf("no task for %s", object)
	return -1
}
