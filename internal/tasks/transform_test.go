package tasks

import (
	"testing"

	"github.com/desertthunder/dmx/internal/models"
	mocks "github.com/desertthunder/dmx/internal/testing"
)

func TestMockerDeterminism(t *testing.T) {
	patterns := []string{"name", "email", "city", "counter", "uuid", "word"}

	first := NewMocker(42)
	second := NewMocker(42)
	run1 := make([]string, 0, len(patterns))
	for _, p := range patterns {
		a, b := first.Value(p), second.Value(p)
		if a != b {
			t.Errorf("pattern %s: %q != %q across same-seed generators", p, a, b)
		}
		run1 = append(run1, a)
	}

	// Reset rewinds the sequence to its start.
	first.Reset()
	for i, p := range patterns {
		if got := first.Value(p); got != run1[i] {
			t.Errorf("after reset, pattern %s = %q, want %q", p, got, run1[i])
		}
	}
}

func TestMaskRecordGates(t *testing.T) {
	tests := []struct {
		name     string
		rule     models.MockRule
		rec      models.Record
		wantMask bool
	}{
		{
			name:     "no gates always masks",
			rule:     models.MockRule{Field: "Name", Pattern: "name"},
			rec:      models.Record{"Name": "Real Name"},
			wantMask: true,
		},
		{
			name:     "include gate matches",
			rule:     models.MockRule{Field: "Name", Pattern: "name", IncludeIf: "^Real"},
			rec:      models.Record{"Name": "Real Name"},
			wantMask: true,
		},
		{
			name:     "include gate misses",
			rule:     models.MockRule{Field: "Name", Pattern: "name", IncludeIf: "^Fake"},
			rec:      models.Record{"Name": "Real Name"},
			wantMask: false,
		},
		{
			name:     "exclude gate matches",
			rule:     models.MockRule{Field: "Name", Pattern: "name", ExcludeIf: "Keep"},
			rec:      models.Record{"Name": "Keep Me"},
			wantMask: false,
		},
		{
			name:     "whole record gate sees other fields",
			rule:     models.MockRule{Field: "Name", Pattern: "name", IncludeIf: "secret", MatchWholeValue: true},
			rec:      models.Record{"Name": "Plain", "Notes": "top secret"},
			wantMask: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script := &models.Script{Objects: []*models.ScriptObject{{
				Query:              "SELECT Id, Name FROM Account",
				Operation:          "Upsert",
				ExternalID:         "Name",
				UpdateWithMockData: true,
				MockRules:          []models.MockRule{tt.rule},
			}}}
			job := newTestJob(t, script, mocks.NewMockStore("src"), mocks.NewMockStore("tgt"))
			applyDescribes(t, job, map[string]*models.ObjectDescribe{
				"Account": describeOf("Account", field("Name", models.FieldTypeString), field("Notes", models.FieldTypeString)),
			})

			original := tt.rec.GetString("Name")
			job.tasks[0].maskRecord(tt.rec)
			masked := tt.rec.GetString("Name") != original
			if masked != tt.wantMask {
				t.Errorf("masked = %v, want %v (value %q)", masked, tt.wantMask, tt.rec.GetString("Name"))
			}
		})
	}
}

func TestRemapValues(t *testing.T) {
	tests := []struct {
		name string
		rule models.MappingRule
		in   string
		want string
	}{
		{
			name: "lookup table",
			rule: models.MappingRule{Field: "Region", Table: map[string]string{"EU-OLD": "EU-NEW"}},
			in:   "EU-OLD",
			want: "EU-NEW",
		},
		{
			name: "table misses pass through",
			rule: models.MappingRule{Field: "Region", Table: map[string]string{"EU-OLD": "EU-NEW"}},
			in:   "US",
			want: "US",
		},
		{
			name: "regex capture rewrite",
			rule: models.MappingRule{Field: "Region", Regex: `^DEV-(\w+)$`, Replace: "PROD-$1"},
			in:   "DEV-EAST",
			want: "PROD-EAST",
		},
		{
			name: "expression over value",
			rule: models.MappingRule{Field: "Region", Expression: `upper(value)`},
			in:   "west",
			want: "WEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script := &models.Script{Objects: []*models.ScriptObject{{
				Query:        "SELECT Id, Region FROM Account",
				Operation:    "Upsert",
				ExternalID:   "Region",
				MappingRules: []models.MappingRule{tt.rule},
			}}}
			job := newTestJob(t, script, mocks.NewMockStore("src"), mocks.NewMockStore("tgt"))
			applyDescribes(t, job, map[string]*models.ObjectDescribe{
				"Account": describeOf("Account", field("Region", models.FieldTypeString)),
			})

			rec := models.Record{"Region": tt.in}
			if err := job.tasks[0].remapValues(rec); err != nil {
				t.Fatalf("remapValues() error = %v", err)
			}
			if got := rec.GetString("Region"); got != tt.want {
				t.Errorf("remapValues() Region = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFilterExpression(t *testing.T) {
	script := &models.Script{Objects: []*models.ScriptObject{{
		Query:            "SELECT Id, Name, Amount FROM Opportunity",
		Operation:        "Upsert",
		ExternalID:       "Name",
		FilterExpression: `Amount > 100`,
	}}}
	job := newTestJob(t, script, mocks.NewMockStore("src"), mocks.NewMockStore("tgt"))
	applyDescribes(t, job, map[string]*models.ObjectDescribe{
		"Opportunity": describeOf("Opportunity",
			field("Name", models.FieldTypeString),
			field("Amount", models.FieldTypeFloat),
		),
	})
	task := job.tasks[0]

	records := models.RecordSet{
		{models.IDField: "S1", "Name": "big", "Amount": float64(500)},
		{models.IDField: "S2", "Name": "small", "Amount": float64(50)},
	}
	pctx := &PassContext{Object: "Opportunity", Pass: 1, FirstPass: true}
	kept, err := task.filterRecords(records, pctx)
	if err != nil {
		t.Fatalf("filterRecords() error = %v", err)
	}
	if len(kept) != 1 || kept[0].ID() != "S1" {
		t.Errorf("filterRecords() kept %v, want only S1", kept.IDs())
	}
}

func TestTruncateRecord(t *testing.T) {
	script := &models.Script{Objects: []*models.ScriptObject{{
		Query:          "SELECT Id, Code FROM Account",
		Operation:      "Upsert",
		ExternalID:     "Code",
		TruncateFields: true,
	}}}
	desc := describeOf("Account", models.FieldDescribe{
		Name: "Code", Type: models.FieldTypeString, Length: 5, Creatable: true, Updateable: true,
	})
	job := newTestJob(t, script, mocks.NewMockStore("src"), mocks.NewMockStore("tgt"))
	applyDescribes(t, job, map[string]*models.ObjectDescribe{"Account": desc})

	rec := models.Record{"Code": "ABCDEFGH"}
	job.tasks[0].truncateRecord(rec)
	if got := rec.GetString("Code"); got != "ABCDE" {
		t.Errorf("truncateRecord() Code = %q, want ABCDE", got)
	}
}

func TestResolveLookups(t *testing.T) {
	script := &models.Script{Objects: []*models.ScriptObject{
		scriptObject("SELECT Id, Name FROM Account", "Upsert", "Name"),
		scriptObject("SELECT Id, LastName, AccountId FROM Contact", "Upsert", "LastName"),
	}}
	describes := map[string]*models.ObjectDescribe{
		"Account": describeOf("Account", field("Name", models.FieldTypeString)),
		"Contact": describeOf("Contact",
			field("LastName", models.FieldTypeString),
			lookup("AccountId", "Account"),
		),
	}
	job := newTestJob(t, script, mocks.NewMockStore("src"), mocks.NewMockStore("tgt"))
	applyDescribes(t, job, describes)
	account, contact := job.tasks[0], job.tasks[1]

	account.RegisterRecords(models.RecordSet{
		{models.IDField: "S-A1", "Name": "Acme"},
	}, account.SourceData)
	account.RegisterRecords(models.RecordSet{
		{models.IDField: "T-A1", "Name": "Acme"},
	}, account.TargetData)

	t.Run("resolves through the source target link", func(t *testing.T) {
		rec := models.Record{"LastName": "Doe", "AccountId": "S-A1"}
		missing := contact.resolveLookups(rec)
		if len(missing) != 0 {
			t.Fatalf("resolveLookups() missing = %v, want none", missing)
		}
		if got := rec.GetString("AccountId"); got != "T-A1" {
			t.Errorf("AccountId = %q, want T-A1", got)
		}
	})

	t.Run("unknown parent is cleared and reported", func(t *testing.T) {
		rec := models.Record{"LastName": "Doe", "AccountId": "S-GONE"}
		missing := contact.resolveLookups(rec)
		if len(missing) != 1 {
			t.Fatalf("resolveLookups() missing = %v, want one row", missing)
		}
		mp := missing[0]
		if mp.Object != "Contact" || mp.Field != "AccountId" || mp.Value != "S-GONE" {
			t.Errorf("diagnostic = %+v", mp)
		}
		if rec["AccountId"] != nil {
			t.Errorf("AccountId = %v, want cleared", rec["AccountId"])
		}
	})
}
