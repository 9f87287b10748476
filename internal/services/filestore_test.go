package services

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/desertthunder/dmx/internal/formatter"
	"github.com/desertthunder/dmx/internal/models"
)

func newTestFileStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFileStore("local", dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	return fs, dir
}

func writeObjectCSV(t *testing.T, dir, object string, records models.RecordSet) {
	t.Helper()
	if err := formatter.WriteRecords(filepath.Join(dir, object+".csv"), records, nil); err != nil {
		t.Fatalf("WriteRecords() error = %v", err)
	}
}

func TestNewFileStoreMissingDir(t *testing.T) {
	if _, err := NewFileStore("local", filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("NewFileStore() accepted a missing directory")
	}
}

func TestFileStoreDescribeSynthesized(t *testing.T) {
	fs, dir := newTestFileStore(t)
	writeObjectCSV(t, dir, "Account", models.RecordSet{
		{models.IDField: "001", "Name": "Acme", "Phone": "555"},
	})

	desc, err := fs.Describe(context.Background(), "Account")
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}

	id, ok := desc.Field(models.IDField)
	if !ok || id.Type != models.FieldTypeID || id.Creatable {
		t.Errorf("Id field = %+v", id)
	}
	name, ok := desc.Field("Name")
	if !ok || name.Type != models.FieldTypeString || !name.Creatable || !name.Updateable {
		t.Errorf("Name field = %+v", name)
	}
}

func TestFileStoreDescribeFromFile(t *testing.T) {
	fs, dir := newTestFileStore(t)
	describe := `
[[fields]]
name = "Id"
type = "id"
creatable = false
updateable = false

[[fields]]
name = "Name"
type = "string"
length = 80

[[fields]]
name = "AccountId"
type = "id"
reference_to = ["Account"]
master_detail = true
`
	if err := os.WriteFile(filepath.Join(dir, "Contact.describe.toml"), []byte(describe), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	desc, err := fs.Describe(context.Background(), "Contact")
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}

	name, _ := desc.Field("Name")
	if name.Length != 80 || name.Type != models.FieldTypeString {
		t.Errorf("Name field = %+v", name)
	}
	acc, _ := desc.Field("AccountId")
	if !acc.IsReference || !acc.IsMasterDetail || !acc.ReferencesObject("Account") {
		t.Errorf("AccountId field = %+v", acc)
	}
	id, _ := desc.Field("Id")
	if id.Creatable || id.Updateable {
		t.Errorf("Id field = %+v", id)
	}
}

func TestParseSimpleWhere(t *testing.T) {
	rec := models.Record{"Name": "Acme", "Region": "EU"}

	tests := []struct {
		name  string
		where string
		want  bool
	}{
		{"empty matches", "", true},
		{"equality hit", "Name = 'Acme'", true},
		{"equality miss", "Name = 'Globex'", false},
		{"in clause hit", "Region IN ('EU', 'US')", true},
		{"in clause miss", "Region IN ('APAC')", false},
		{"conjunction", "Name = 'Acme' AND Region IN ('EU')", true},
		{"conjunction partial miss", "Name = 'Acme' AND Region IN ('US')", false},
		{"unsupported predicate matches all", "Amount > 100", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseSimpleWhere(tt.where).matches(rec); got != tt.want {
				t.Errorf("matches(%q) = %v, want %v", tt.where, got, tt.want)
			}
		})
	}
}

func TestParseSimpleClauseUnescapes(t *testing.T) {
	c, ok := parseSimpleClause(`Name IN ('O\'Brien', 'back\\slash')`)
	if !ok {
		t.Fatal("parseSimpleClause() did not recognize the clause")
	}
	for _, want := range []string{`O'Brien`, `back\slash`} {
		if _, found := c.values[want]; !found {
			t.Errorf("values %v missing %q", c.values, want)
		}
	}
}

func TestFileStoreQueryRecords(t *testing.T) {
	fs, dir := newTestFileStore(t)
	writeObjectCSV(t, dir, "Account", models.RecordSet{
		{models.IDField: "001", "Name": "Acme"},
		{models.IDField: "002", "Name": "Globex"},
		{models.IDField: "003", "Name": "Initech"},
	})

	records, err := fs.QueryRecords(context.Background(), "SELECT Id, Name FROM Account WHERE Id IN ('001', '003')", false)
	if err != nil {
		t.Fatalf("QueryRecords() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("QueryRecords() returned %d records, want 2", len(records))
	}
	for _, rec := range records {
		if id := rec.ID(); id != "001" && id != "003" {
			t.Errorf("unexpected record %s", id)
		}
	}
}

func TestFileStoreQueryMissingObject(t *testing.T) {
	fs, _ := newTestFileStore(t)
	records, err := fs.QueryRecords(context.Background(), "SELECT Id FROM Ghost", false)
	if err != nil {
		t.Fatalf("QueryRecords() error = %v", err)
	}
	if len(records) != 0 {
		t.Errorf("QueryRecords() on absent file = %v, want empty", records)
	}
}

func runFileBatch(t *testing.T, fs *FileStore, op CRUDOperation, extID string, records models.RecordSet, fields []string) []RecordResult {
	t.Helper()
	ctx := context.Background()
	engine := fs.RestEngine()
	job, err := engine.CreateJob(ctx, "Account", op, extID)
	if err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	if err := engine.ExecuteBatch(ctx, job, records, fields); err != nil {
		t.Fatalf("ExecuteBatch() error = %v", err)
	}
	state, err := engine.Poll(ctx, job)
	if err != nil || !state.Terminal() {
		t.Fatalf("Poll() = %v, %v; want terminal state", state, err)
	}
	results, err := engine.ReadResults(ctx, job)
	if err != nil {
		t.Fatalf("ReadResults() error = %v", err)
	}
	return results
}

func TestFileEngineInsertUpsertsByExternalID(t *testing.T) {
	fs, dir := newTestFileStore(t)
	writeObjectCSV(t, dir, "Account", models.RecordSet{
		{models.IDField: "LOC-1", "Name": "Acme", "Phone": "111"},
	})

	records := models.RecordSet{
		{models.InternalIDField: "r1", "Name": "Acme", "Phone": "999"},
		{models.InternalIDField: "r2", "Name": "Globex", "Phone": "222"},
	}
	results := runFileBatch(t, fs, CRUDInsert, "Name", records, []string{"Name", "Phone"})

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ID != "LOC-1" {
		t.Errorf("existing Acme got id %q, want the original LOC-1", results[0].ID)
	}
	if results[1].ID == "" || !strings.HasPrefix(results[1].ID, "LOC-") {
		t.Errorf("new Globex got id %q, want a generated local id", results[1].ID)
	}

	back, err := fs.QueryRecords(context.Background(), "SELECT Id FROM Account", false)
	if err != nil {
		t.Fatalf("QueryRecords() error = %v", err)
	}
	if len(back) != 2 {
		t.Fatalf("file holds %d records, want 2", len(back))
	}
	for _, rec := range back {
		if rec.GetString("Name") == "Acme" && rec.GetString("Phone") != "999" {
			t.Errorf("Acme phone = %q, want updated 999", rec.GetString("Phone"))
		}
		if _, leaked := rec[models.InternalIDField]; leaked {
			t.Error("bookkeeping field written to disk")
		}
	}
}

func TestFileEngineUpdateAndDelete(t *testing.T) {
	fs, dir := newTestFileStore(t)
	writeObjectCSV(t, dir, "Account", models.RecordSet{
		{models.IDField: "LOC-1", "Name": "Acme"},
		{models.IDField: "LOC-2", "Name": "Globex"},
	})

	results := runFileBatch(t, fs, CRUDUpdate, "", models.RecordSet{
		{models.IDField: "LOC-1", models.InternalIDField: "r1", "Name": "Acme Corp"},
		{models.IDField: "LOC-9", models.InternalIDField: "r2", "Name": "Ghost"},
	}, []string{"Name"})
	if !results[0].Success {
		t.Errorf("update of LOC-1 failed: %s", results[0].Error)
	}
	if results[1].Success {
		t.Error("update of unknown id succeeded")
	}

	// Deletes are idempotent: an already-absent id still succeeds.
	results = runFileBatch(t, fs, CRUDDelete, "", models.RecordSet{
		{models.IDField: "LOC-2", models.InternalIDField: "r3"},
		{models.IDField: "LOC-9", models.InternalIDField: "r4"},
	}, []string{models.IDField})
	for i, res := range results {
		if !res.Success {
			t.Errorf("delete result %d failed: %s", i, res.Error)
		}
	}

	back, err := fs.QueryRecords(context.Background(), "SELECT Id, Name FROM Account", false)
	if err != nil {
		t.Fatalf("QueryRecords() error = %v", err)
	}
	if len(back) != 1 || back[0].GetString("Name") != "Acme Corp" {
		t.Errorf("file holds %v, want only the renamed Acme Corp", back)
	}
}
