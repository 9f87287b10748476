package tasks

import (
	"context"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/dmx/internal/models"
	"github.com/desertthunder/dmx/internal/soql"
	"github.com/expr-lang/expr/vm"
)

// MigrationJobTask is the runtime unit bound 1:1 to a script object. It
// owns the per-side record stores and the per-pass processed snapshot.
type MigrationJobTask struct {
	Object *models.ScriptObject

	job    *MigrationJob
	logger *log.Logger

	SourceDescribe *models.ObjectDescribe
	TargetDescribe *models.ObjectDescribe

	SourceData *TaskOrgData
	TargetData *TaskOrgData

	// Processed is the transient snapshot of the current update pass.
	Processed *ProcessedData

	// queried is the per-field monotonic already-queried cache: values
	// are never re-queried within a job run.
	queried map[string]map[string]struct{}

	// retrieved counts source records first seen in the current pass.
	retrieved int

	filterProgram *vm.Program
	mocks         []*compiledMock
	mappings      []*compiledMapping
}

func newTask(obj *models.ScriptObject, job *MigrationJob) *MigrationJobTask {
	return &MigrationJobTask{
		Object:     obj,
		job:        job,
		logger:     job.logger.With("object", obj.Name),
		SourceData: NewTaskOrgData(false),
		TargetData: NewTaskOrgData(true),
		queried:    make(map[string]map[string]struct{}),
	}
}

// describe fetches both sides' schemas. The source describe drives the
// query field list; the target describe drives write permissions.
func (t *MigrationJobTask) describe(ctx context.Context) error {
	src, err := t.job.source.Describe(ctx, t.Object.Name)
	if err != nil {
		return err
	}
	t.SourceDescribe = src

	tgt, err := t.job.target.Describe(ctx, t.Object.Target())
	if err != nil {
		return err
	}
	t.TargetDescribe = tgt

	if t.Object.Name == "" {
		t.Object.Name = src.Name
	}
	return nil
}

// queryFields is the source-side retrieval field list: described
// fields minus exclusions, id first for readable queries.
func (t *MigrationJobTask) queryFields() []string {
	excluded := make(map[string]struct{}, len(t.Object.ExcludedFields))
	for _, f := range t.Object.ExcludedFields {
		excluded[f] = struct{}{}
	}

	var fields []string
	for name := range t.SourceDescribe.Fields {
		if name == models.IDField {
			continue
		}
		if _, skip := excluded[name]; skip {
			continue
		}
		fields = append(fields, name)
	}
	sort.Strings(fields)
	return append([]string{models.IDField}, fields...)
}

// lookupFieldsTo returns this object's lookup fields that can reference
// the given object.
func (t *MigrationJobTask) lookupFieldsTo(object string) []models.FieldDescribe {
	if t.SourceDescribe == nil {
		return nil
	}
	var out []models.FieldDescribe
	for _, f := range t.SourceDescribe.LookupFields() {
		if f.ReferencesObject(object) {
			out = append(out, f)
		}
	}
	return out
}

// isLookupParentOf reports whether this task's object is referenced by
// a lookup field of other.
func (t *MigrationJobTask) isLookupParentOf(other *MigrationJobTask) bool {
	return len(other.lookupFieldsTo(t.Object.Name)) > 0
}

// isMasterDetailParentOf reports whether other requires this task's
// object through a master-detail reference.
func (t *MigrationJobTask) isMasterDetailParentOf(other *MigrationJobTask) bool {
	for _, f := range other.lookupFieldsTo(t.Object.Name) {
		if f.IsMasterDetail {
			return true
		}
	}
	return false
}

// partOfHierarchicalDelete reports whether the object's target rows are
// cleared as part of a delete-old-data hierarchy.
func (t *MigrationJobTask) partOfHierarchicalDelete() bool {
	if t.Object.DeleteOldData {
		return true
	}
	for _, other := range t.job.tasks {
		if other == t || !other.Object.DeleteOldData {
			continue
		}
		if other.isMasterDetailParentOf(t) {
			return true
		}
	}
	return false
}

// RetrieveRecords runs the planned queries for one pass and registers
// results. Queries execute strictly sequentially to keep rate limits
// and log ordering predictable.
func (t *MigrationJobTask) RetrieveRecords(ctx context.Context, reversed bool) error {
	op := t.Object.Op()
	t.retrieved = 0

	// Pure deletes only need target rows, unless the object is itself
	// deleted as part of a hierarchy and its source survives elsewhere.
	if op.IsDelete() && !t.Object.Master {
		return t.retrieveTarget(ctx)
	}

	if err := t.retrieveSource(ctx, reversed); err != nil {
		return err
	}
	if op == models.OperationReadonly || op == models.OperationInsert && t.Object.ExternalID == "" {
		return nil
	}
	return t.retrieveTarget(ctx)
}

func (t *MigrationJobTask) retrieveSource(ctx context.Context, reversed bool) error {
	var queries []string
	if !reversed && (t.Object.ProcessAllSource || !t.hasProcessedParents()) {
		q, err := t.CreateQuery(nil, true, false)
		if err != nil {
			return err
		}
		queries = []string{q}
	} else {
		var err error
		queries, err = t.CreateFilteredQueries(reversed)
		if err != nil {
			return err
		}
	}

	t.job.sendProgress(retrieveUpdate(RetrieveSource, t.Object.Name, len(queries)))

	before := len(t.SourceData.IDRecords)
	for _, q := range queries {
		records, err := t.job.source.QueryRecords(ctx, q, false)
		if err != nil {
			return fmt.Errorf("source query failed for %s: %w", t.Object.Name, err)
		}
		t.RegisterRecords(records, t.SourceData)
	}
	t.retrieved += len(t.SourceData.IDRecords) - before
	t.logger.Info("retrieved source records", "new", t.retrieved, "total", len(t.SourceData.IDRecords), "queries", len(queries))
	return nil
}

func (t *MigrationJobTask) retrieveTarget(ctx context.Context) error {
	fullRead := t.Object.ProcessAllTarget || t.partOfHierarchicalDelete()

	var queries []string
	if t.Object.Op().IsDelete() && t.Object.DeleteQuery != "" {
		q, err := soql.Parse(t.Object.DeleteQuery)
		if err != nil {
			return err
		}
		q.Object = t.Object.Target()
		if len(q.Fields) == 0 {
			q.Fields = []string{models.IDField}
		}
		queries = []string{q.String()}
	} else if fullRead {
		q, err := t.CreateQuery(nil, true, true)
		if err != nil {
			return err
		}
		queries = []string{q}
	} else {
		var err error
		queries, err = t.createTargetQueries()
		if err != nil {
			return err
		}
	}

	t.job.sendProgress(retrieveUpdate(RetrieveTarget, t.Object.Name, len(queries)))

	before := len(t.TargetData.IDRecords)
	for _, q := range queries {
		records, err := t.job.target.QueryRecords(ctx, q, fullRead)
		if err != nil {
			return fmt.Errorf("target query failed for %s: %w", t.Object.Target(), err)
		}
		t.RegisterRecords(records, t.TargetData)
	}
	t.logger.Info("retrieved target records", "new", len(t.TargetData.IDRecords)-before, "total", len(t.TargetData.IDRecords), "queries", len(queries))
	return nil
}

// hasProcessedParents reports whether any earlier task is a lookup
// parent of this one, which makes filtered retrieval possible.
func (t *MigrationJobTask) hasProcessedParents() bool {
	for _, other := range t.job.tasks {
		if other == t {
			break
		}
		if other.isLookupParentOf(t) {
			return true
		}
	}
	return false
}
