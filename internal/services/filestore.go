package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/desertthunder/dmx/internal/formatter"
	"github.com/desertthunder/dmx/internal/models"
	"github.com/desertthunder/dmx/internal/shared"
	"github.com/desertthunder/dmx/internal/soql"
)

// FileStore implements [Store] over a local directory of CSV files, one
// file per object. An optional <object>.describe.toml supplies column
// types; without one the schema is synthesized from the CSV header with
// every column writable.
type FileStore struct {
	name string
	dir  string

	// Cipher decrypts/encrypts cell values when the script enables
	// data-file encryption.
	Cipher *shared.Cipher

	engine    *fileEngine
	describes map[string]*models.ObjectDescribe
}

// NewFileStore opens a file store rooted at dir.
func NewFileStore(name, dir string) (*FileStore, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", shared.ErrMissingPath, dir)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", shared.ErrMissingPath, dir)
	}
	fs := &FileStore{name: name, dir: dir, describes: make(map[string]*models.ObjectDescribe)}
	fs.engine = &fileEngine{store: fs}
	return fs, nil
}

func (f *FileStore) Name() string { return f.name }

func (f *FileStore) Kind() shared.StoreKind { return shared.StoreKindFile }

func (f *FileStore) RestEngine() Engine { return f.engine }

// BulkEngine returns nil: the file store has no asynchronous path, so
// the executor always routes through the synchronous engine.
func (f *FileStore) BulkEngine(version string) Engine { return nil }

func (f *FileStore) objectPath(object string) string {
	return filepath.Join(f.dir, object+".csv")
}

// describeFile mirrors <object>.describe.toml.
type describeFile struct {
	Readonly bool `toml:"readonly"`
	Fields   []struct {
		Name         string   `toml:"name"`
		Type         string   `toml:"type"`
		Length       int      `toml:"length"`
		Creatable    *bool    `toml:"creatable"`
		Updateable   *bool    `toml:"updateable"`
		ReferenceTo  []string `toml:"reference_to"`
		MasterDetail bool     `toml:"master_detail"`
	} `toml:"fields"`
}

// Describe loads or synthesizes the object's schema. Results are cached
// for the life of the store.
func (f *FileStore) Describe(ctx context.Context, object string) (*models.ObjectDescribe, error) {
	if desc, ok := f.describes[object]; ok {
		return desc, nil
	}

	desc := &models.ObjectDescribe{
		Name:   object,
		Label:  object,
		Fields: make(map[string]models.FieldDescribe),
	}

	describePath := filepath.Join(f.dir, object+".describe.toml")
	if data, err := os.ReadFile(describePath); err == nil {
		var df describeFile
		if err := toml.Unmarshal(data, &df); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", shared.ErrMetadata, describePath, err)
		}
		desc.Readonly = df.Readonly
		for _, fd := range df.Fields {
			field := models.FieldDescribe{
				Name:           fd.Name,
				Type:           models.FieldType(fd.Type),
				Length:         fd.Length,
				Creatable:      fd.Creatable == nil || *fd.Creatable,
				Updateable:     fd.Updateable == nil || *fd.Updateable,
				IsReference:    len(fd.ReferenceTo) > 0,
				ReferencedTo:   fd.ReferenceTo,
				IsMasterDetail: fd.MasterDetail,
			}
			if field.Type == "" {
				field.Type = models.FieldTypeString
			}
			desc.Fields[fd.Name] = field
		}
		f.describes[object] = desc
		return desc, nil
	}

	// No describe file: derive writable string columns from the header.
	records, err := f.readObject(object, nil)
	if err != nil {
		return nil, err
	}
	for _, col := range formatter.Columns(records) {
		t := models.FieldTypeString
		if col == models.IDField {
			t = models.FieldTypeID
		}
		desc.Fields[col] = models.FieldDescribe{
			Name:       col,
			Type:       t,
			Creatable:  col != models.IDField,
			Updateable: col != models.IDField,
		}
	}
	f.describes[object] = desc
	return desc, nil
}

func (f *FileStore) readObject(object string, desc *models.ObjectDescribe) (models.RecordSet, error) {
	path := f.objectPath(object)
	if _, err := os.Stat(path); err != nil {
		// Absent file reads as an empty object, so first-run targets work.
		return nil, nil
	}
	return formatter.ReadRecords(path, desc, f.Cipher)
}

// QueryRecords parses the query, reads the object's CSV, and applies
// the simple predicates the planner emits (equality and IN over one
// field, ANDed). Predicates beyond that subset match every record; the
// registration layer dedupes by id.
func (f *FileStore) QueryRecords(ctx context.Context, query string, queryAll bool) (models.RecordSet, error) {
	q, err := soql.Parse(query)
	if err != nil {
		return nil, err
	}

	desc, err := f.Describe(ctx, q.Object)
	if err != nil {
		return nil, err
	}
	records, err := f.readObject(q.Object, desc)
	if err != nil {
		return nil, err
	}

	filter := parseSimpleWhere(q.Where)
	out := make(models.RecordSet, 0, len(records))
	for _, rec := range records {
		if filter.matches(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// simpleFilter is a conjunction of per-field value sets.
type simpleFilter struct {
	clauses []simpleClause
}

type simpleClause struct {
	field  string
	values map[string]struct{}
}

func (f simpleFilter) matches(rec models.Record) bool {
	for _, c := range f.clauses {
		if _, ok := c.values[rec.GetString(c.field)]; !ok {
			return false
		}
	}
	return true
}

// parseSimpleWhere recognizes `field = 'v'` and `field IN ('a', 'b')`
// joined by AND. Anything else yields an empty (match-all) filter.
func parseSimpleWhere(where string) simpleFilter {
	var out simpleFilter
	if where == "" {
		return out
	}
	for _, part := range strings.Split(where, " AND ") {
		part = strings.TrimSpace(strings.Trim(strings.TrimSpace(part), "()"))
		if c, ok := parseSimpleClause(part); ok {
			out.clauses = append(out.clauses, c)
		}
	}
	return out
}

func parseSimpleClause(part string) (simpleClause, bool) {
	if idx := strings.Index(part, " IN ("); idx > 0 && strings.HasSuffix(part, ")") {
		field := strings.TrimSpace(part[:idx])
		body := part[idx+len(" IN (") : len(part)-1]
		values := make(map[string]struct{})
		for _, v := range strings.Split(body, ",") {
			v = strings.TrimSpace(v)
			v = strings.Trim(v, "'")
			v = strings.ReplaceAll(v, `\'`, `'`)
			v = strings.ReplaceAll(v, `\\`, `\`)
			if v != "" {
				values[v] = struct{}{}
			}
		}
		return simpleClause{field: field, values: values}, true
	}
	if idx := strings.Index(part, " = '"); idx > 0 && strings.HasSuffix(part, "'") {
		field := strings.TrimSpace(part[:idx])
		v := part[idx+len(" = '") : len(part)-1]
		v = strings.ReplaceAll(v, `\'`, `'`)
		v = strings.ReplaceAll(v, `\\`, `\`)
		return simpleClause{field: field, values: map[string]struct{}{v: {}}}, true
	}
	return simpleClause{}, false
}

// fileEngine applies CRUD to the store's CSV files synchronously.
type fileEngine struct {
	store *FileStore
	jobs  jobResults
}

func (e *fileEngine) Name() string { return "file" }

func (e *fileEngine) SupportsHardDelete() bool { return true }

func (e *fileEngine) CreateJob(ctx context.Context, object string, op CRUDOperation, extIDField string) (*Job, error) {
	if e.jobs == nil {
		e.jobs = make(jobResults)
	}
	return &Job{
		ID:              shared.GenerateID(),
		Object:          object,
		Operation:       op,
		State:           JobOpen,
		ExternalIDField: extIDField,
	}, nil
}

func (e *fileEngine) ExecuteBatch(ctx context.Context, job *Job, records models.RecordSet, fields []string) error {
	desc, err := e.store.Describe(ctx, job.Object)
	if err != nil {
		return err
	}
	existing, err := e.store.readObject(job.Object, desc)
	if err != nil {
		return err
	}

	byID := make(map[string]int, len(existing))
	for i, rec := range existing {
		if id := rec.ID(); id != "" {
			byID[id] = i
		}
	}
	byExt := make(map[string]int, len(existing))
	if job.ExternalIDField != "" {
		for i, rec := range existing {
			if v := rec.GetString(job.ExternalIDField); v != "" {
				byExt[v] = i
			}
		}
	}

	results := e.jobs[job.ID]
	for _, rec := range records {
		res := RecordResult{InternalID: rec.InternalID(), ID: rec.ID()}
		switch job.Operation {
		case CRUDInsert:
			// Upsert semantics when an external id is configured.
			if job.ExternalIDField != "" {
				if idx, ok := byExt[rec.GetString(job.ExternalIDField)]; ok {
					applyFields(existing[idx], rec, fields)
					res.ID = existing[idx].ID()
					res.Success = true
					results = append(results, res)
					continue
				}
			}
			clone := rec.Clone().StripBookkeeping()
			clone[models.IDField] = "LOC-" + shared.GenerateID()
			delete(clone, models.ErrorsField)
			existing = append(existing, clone)
			res.ID = clone.ID()
			res.Success = true
		case CRUDUpdate:
			idx, ok := byID[rec.ID()]
			if !ok {
				res.Error = fmt.Sprintf("no record with id %s", rec.ID())
				break
			}
			applyFields(existing[idx], rec, fields)
			res.Success = true
		case CRUDDelete, CRUDHardDelete:
			idx, ok := byID[rec.ID()]
			if !ok {
				// Idempotent like the remote engines.
				res.Success = true
				break
			}
			existing[idx] = nil
			res.Success = true
		default:
			res.Error = fmt.Sprintf("file engine cannot %s", job.Operation)
		}
		results = append(results, res)
	}
	e.jobs[job.ID] = results

	kept := make(models.RecordSet, 0, len(existing))
	for _, rec := range existing {
		if rec != nil {
			kept = append(kept, rec)
		}
	}
	if err := formatter.WriteRecords(e.store.objectPath(job.Object), kept, e.store.Cipher); err != nil {
		return err
	}
	job.State = JobComplete
	return nil
}

func applyFields(dst, src models.Record, fields []string) {
	for _, f := range fields {
		if models.IsBookkeepingField(f) || f == models.IDField || f == models.ErrorsField {
			continue
		}
		if v, ok := src[f]; ok {
			dst[f] = v
		}
	}
}

func (e *fileEngine) Poll(ctx context.Context, job *Job) (JobState, error) {
	return job.State, nil
}

func (e *fileEngine) ReadResults(ctx context.Context, job *Job) ([]RecordResult, error) {
	results, ok := e.jobs[job.ID]
	if !ok {
		return nil, fmt.Errorf("no results for job %s", job.ID)
	}
	delete(e.jobs, job.ID)
	return results, nil
}
