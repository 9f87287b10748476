package tasks

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/desertthunder/dmx/internal/models"
	"github.com/desertthunder/dmx/internal/shared"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// MissingParent is a diagnostic row for a lookup value that matched no
// parent record across all tasks. Surfaced as a warning, never an
// abort.
type MissingParent struct {
	Object string
	Field  string
	Value  string
}

// Mocker generates replacement values for masked fields. The same seed
// and call sequence produce identical values; Reset rewinds the
// sequence.
type Mocker struct {
	seed    uint64
	faker   *gofakeit.Faker
	counter int
}

// NewMocker creates a deterministic value generator.
func NewMocker(seed uint64) *Mocker {
	m := &Mocker{seed: seed}
	m.Reset()
	return m
}

// Reset rewinds the generator to its initial state.
func (m *Mocker) Reset() {
	m.faker = gofakeit.New(m.seed)
	m.counter = 0
}

// Value produces the next value for the named generator pattern.
// Unknown patterns fall back to a random word.
func (m *Mocker) Value(pattern string) string {
	m.counter++
	switch strings.ToLower(pattern) {
	case "name":
		return m.faker.Name()
	case "first_name", "firstname":
		return m.faker.FirstName()
	case "last_name", "lastname":
		return m.faker.LastName()
	case "email":
		return m.faker.Email()
	case "phone":
		return m.faker.Phone()
	case "city":
		return m.faker.City()
	case "country":
		return m.faker.Country()
	case "street", "address":
		return m.faker.Street()
	case "company":
		return m.faker.Company()
	case "word":
		return m.faker.Word()
	case "sentence":
		return m.faker.Sentence(6)
	case "uuid":
		return m.faker.UUID()
	case "counter", "number":
		return strconv.Itoa(m.counter)
	default:
		return m.faker.Word()
	}
}

type compiledMock struct {
	rule      models.MockRule
	includeIf *regexp.Regexp
	excludeIf *regexp.Regexp
}

type compiledMapping struct {
	rule    models.MappingRule
	regex   *regexp.Regexp
	program *vm.Program
}

// prepare compiles the object's filter expression, mock gates, and
// mapping rules once per run.
func (t *MigrationJobTask) prepare() error {
	if code := t.Object.FilterExpression; code != "" {
		prog, err := expr.Compile(code, expr.AllowUndefinedVariables(), expr.AsBool())
		if err != nil {
			return fmt.Errorf("%w: %s filter expression: %v", shared.ErrInvalidScript, t.Object.Name, err)
		}
		t.filterProgram = prog
	}

	for _, rule := range t.Object.MockRules {
		cm := &compiledMock{rule: rule}
		var err error
		if rule.IncludeIf != "" {
			if cm.includeIf, err = regexp.Compile(rule.IncludeIf); err != nil {
				return fmt.Errorf("%w: %s mock rule %s: %v", shared.ErrInvalidScript, t.Object.Name, rule.Field, err)
			}
		}
		if rule.ExcludeIf != "" {
			if cm.excludeIf, err = regexp.Compile(rule.ExcludeIf); err != nil {
				return fmt.Errorf("%w: %s mock rule %s: %v", shared.ErrInvalidScript, t.Object.Name, rule.Field, err)
			}
		}
		t.mocks = append(t.mocks, cm)
	}

	for _, rule := range t.Object.MappingRules {
		cm := &compiledMapping{rule: rule}
		var err error
		if rule.Regex != "" {
			if cm.regex, err = regexp.Compile(rule.Regex); err != nil {
				return fmt.Errorf("%w: %s mapping rule %s: %v", shared.ErrInvalidScript, t.Object.Name, rule.Field, err)
			}
		}
		if rule.Expression != "" {
			if cm.program, err = expr.Compile(rule.Expression, expr.AllowUndefinedVariables()); err != nil {
				return fmt.Errorf("%w: %s mapping rule %s: %v", shared.ErrInvalidScript, t.Object.Name, rule.Field, err)
			}
		}
		t.mappings = append(t.mappings, cm)
	}
	return nil
}

// transformRecords runs the pipeline over clones of the given records:
// filtering, masking, truncation, value remapping with lookup
// re-resolution, then field renaming onto the target schema. The
// originals stay untouched; the returned map links each clone's
// internal id back to its source record.
func (t *MigrationJobTask) transformRecords(records models.RecordSet, pctx *PassContext) (models.RecordSet, map[string]models.Record, []MissingParent, error) {
	filtered, err := t.filterRecords(records, pctx)
	if err != nil {
		return nil, nil, nil, err
	}

	var missing []MissingParent
	cloneToSource := make(map[string]models.Record, len(filtered))
	out := make(models.RecordSet, 0, len(filtered))
	for _, rec := range filtered {
		clone := rec.Clone()
		clone[models.SourceIDField] = rec.ID()
		cloneToSource[clone.InternalID()] = rec

		t.maskRecord(clone)
		if t.Object.TruncateFields {
			t.truncateRecord(clone)
		}
		if err := t.remapValues(clone); err != nil {
			return nil, nil, nil, err
		}
		missing = append(missing, t.resolveLookups(clone)...)

		out = append(out, t.renameFields(clone))
	}
	return out, cloneToSource, missing, nil
}

// filterRecords applies registered add-on filters and the object's
// predicate expression.
func (t *MigrationJobTask) filterRecords(records models.RecordSet, pctx *PassContext) (models.RecordSet, error) {
	records, err := t.job.addons.FilterRecords(t.Object, records, pctx)
	if err != nil {
		return nil, err
	}
	if t.filterProgram == nil {
		return records, nil
	}

	out := make(models.RecordSet, 0, len(records))
	for _, rec := range records {
		keep, err := expr.Run(t.filterProgram, map[string]any(rec))
		if err != nil {
			return nil, fmt.Errorf("%w: %s filter expression: %v", shared.ErrInvalidScript, t.Object.Name, err)
		}
		if keep == true {
			out = append(out, rec)
		}
	}
	return out, nil
}

// maskRecord overwrites gated field values with generated ones. The
// whole-value flag widens the gate regexes from the field to the entire
// record's concatenated values.
func (t *MigrationJobTask) maskRecord(rec models.Record) {
	if !t.Object.UpdateWithMockData || len(t.mocks) == 0 {
		return
	}
	for _, m := range t.mocks {
		subject := rec.GetString(m.rule.Field)
		if m.rule.MatchWholeValue {
			subject = wholeRecordText(rec)
		}
		if m.includeIf != nil && !m.includeIf.MatchString(subject) {
			continue
		}
		if m.excludeIf != nil && m.excludeIf.MatchString(subject) {
			continue
		}
		rec[m.rule.Field] = t.job.mocker.Value(m.rule.Pattern)
	}
}

func wholeRecordText(rec models.Record) string {
	var b strings.Builder
	for k, v := range rec {
		if models.IsBookkeepingField(k) {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			b.WriteString(s)
			b.WriteByte(' ')
		}
	}
	return b.String()
}

// truncateRecord trims string values to the target field's described
// length.
func (t *MigrationJobTask) truncateRecord(rec models.Record) {
	for name, v := range rec {
		s, ok := v.(string)
		if !ok || models.IsBookkeepingField(name) {
			continue
		}
		fd, known := t.TargetDescribe.Field(t.Object.TargetFieldName(name))
		if !known || fd.Length <= 0 || len(s) <= fd.Length {
			continue
		}
		rec[name] = s[:fd.Length]
	}
}

// remapValues applies the object's mapping rules: lookup table, then
// regex rewrite, then expression, in that order when several are set.
func (t *MigrationJobTask) remapValues(rec models.Record) error {
	for _, m := range t.mappings {
		original := rec.GetString(m.rule.Field)
		value := original

		if len(m.rule.Table) > 0 {
			if mapped, ok := m.rule.Table[value]; ok {
				value = mapped
			}
		}
		if m.regex != nil {
			value = m.regex.ReplaceAllString(value, m.rule.Replace)
		}
		if m.program != nil {
			result, err := expr.Run(m.program, map[string]any{"value": value})
			if err != nil {
				return fmt.Errorf("%w: %s mapping rule %s: %v", shared.ErrInvalidScript, t.Object.Name, m.rule.Field, err)
			}
			value = fmt.Sprintf("%v", result)
		}

		if value != original {
			rec[m.rule.Field] = value
		}
	}
	return nil
}

// resolveLookups replaces source-side foreign keys with the linked
// target record's id. Polymorphic lookups dispatch on whichever parent
// task actually holds the referenced record. Values that match no
// parent are cleared and reported; a later pass restores them once the
// parent exists.
func (t *MigrationJobTask) resolveLookups(rec models.Record) []MissingParent {
	var missing []MissingParent
	for _, f := range t.SourceDescribe.LookupFields() {
		val := rec.GetString(f.Name)
		if val == "" {
			continue
		}

		parent, src := t.parentRecordFor(f, val)
		if parent == nil {
			// No task migrates any of the referenced objects.
			continue
		}
		if src == nil {
			rec[f.Name] = nil
			missing = append(missing, MissingParent{Object: t.Object.Name, Field: f.Name, Value: val})
			continue
		}

		if tgt, ok := t.job.targetRecordFor(src); ok && tgt.ID() != "" {
			rec[f.Name] = tgt.ID()
		} else {
			rec[f.Name] = nil
			missing = append(missing, MissingParent{Object: t.Object.Name, Field: f.Name, Value: val})
		}
	}
	return missing
}

// parentRecordFor finds the task and source record a lookup value
// points at. The first return is nil when no task covers any referenced
// object; the second is nil when a task exists but the record is
// unknown.
func (t *MigrationJobTask) parentRecordFor(f models.FieldDescribe, val string) (*MigrationJobTask, models.Record) {
	var candidate *MigrationJobTask
	for _, other := range t.job.tasks {
		if !f.ReferencesObject(other.Object.Name) {
			continue
		}
		candidate = other
		if src, ok := other.SourceData.IDRecords[val]; ok {
			return other, src
		}
	}
	if candidate == nil {
		return nil, nil
	}
	return candidate, nil
}

// renameFields maps the record onto the target schema's field names.
// Bookkeeping fields pass through unchanged.
func (t *MigrationJobTask) renameFields(rec models.Record) models.Record {
	if !t.Object.UseFieldMapping || len(t.Object.FieldMapping) == 0 {
		return rec
	}
	out := make(models.Record, len(rec))
	for k, v := range rec {
		if models.IsBookkeepingField(k) || k == models.ErrorsField {
			out[k] = v
			continue
		}
		out[t.Object.TargetFieldName(k)] = v
	}
	return out
}
