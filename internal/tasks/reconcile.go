package tasks

import (
	"strconv"
	"strings"

	"github.com/desertthunder/dmx/internal/models"
)

// ProcessedData is the transient result of one transform+classify round:
// the insert and update buckets with their payload field lists, the
// clone-to-source links needed to map results back, and the
// missing-parent diagnostics collected along the way.
type ProcessedData struct {
	Inserts models.RecordSet
	Updates models.RecordSet

	InsertFields []string
	UpdateFields []string

	// CloneToSource links a payload record's internal id to the source
	// record it was derived from.
	CloneToSource map[string]models.Record

	MissingParents []MissingParent

	// PersonRole is set on the sub-entity passes of person-enabled
	// objects, empty otherwise.
	PersonRole string
}

// classifyRecords splits transformed clones into insert and update
// buckets against the registered target records. A clone with no target
// counterpart inserts when the operation allows it, dropping the
// working id unless the id field is itself the matching key. A clone
// with a counterpart updates, carrying the resolved target id, unless
// change detection finds every payload field already equal.
func (t *MigrationJobTask) classifyRecords(clones models.RecordSet, cloneToSource map[string]models.Record, role string) *ProcessedData {
	op := t.Object.Op()
	pd := &ProcessedData{
		InsertFields:  t.payloadFields(false, role),
		UpdateFields:  t.payloadFields(true, role),
		CloneToSource: make(map[string]models.Record, len(clones)),
		PersonRole:    role,
	}
	idIsKey := t.Object.ExternalID == models.IDField

	for _, clone := range clones {
		if role != "" && !t.matchesRole(clone, role) {
			continue
		}
		src := cloneToSource[clone.InternalID()]
		if src != nil {
			pd.CloneToSource[clone.InternalID()] = src
		}
		if role != "" {
			synthesizeNames(clone)
		}
		clone[models.ProcessedField] = true

		target := t.targetCounterpart(src, clone)
		if target == nil {
			if !op.AllowsInsert() {
				continue
			}
			payload := projectFields(clone, pd.InsertFields)
			if !idIsKey {
				delete(payload, models.IDField)
			}
			pd.Inserts = append(pd.Inserts, payload)
			continue
		}

		if !op.AllowsUpdate() {
			continue
		}
		payload := projectFields(clone, pd.UpdateFields)
		payload[models.IDField] = target.ID()
		if !t.Object.SkipRecordsComparison && !idIsKey && equalOn(payload, target, pd.UpdateFields) {
			continue
		}
		pd.Updates = append(pd.Updates, payload)
	}
	return pd
}

// payloadFields is the writable target-schema field list for one
// bucket, filtered to the sub-entity role when the object is split.
func (t *MigrationJobTask) payloadFields(forUpdate bool, role string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, src := range t.queryFields() {
		name := t.Object.TargetFieldName(src)
		if name == models.IDField {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		fd, ok := t.TargetDescribe.Field(name)
		if !ok || fd.AutoNumber {
			continue
		}
		if forUpdate && !fd.Updateable || !forUpdate && !fd.Creatable {
			continue
		}
		if role != "" && fd.PersonRole != "" && fd.PersonRole != role {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

// matchesRole checks the discriminator column against the requested
// sub-entity role.
func (t *MigrationJobTask) matchesRole(rec models.Record, role string) bool {
	disc := t.TargetDescribe.DiscriminatorField
	if disc == "" {
		return true
	}
	isPerson := truthy(rec[disc])
	return isPerson == (role == models.PersonRolePerson)
}

// targetCounterpart resolves the clone's target record, preferring the
// job-wide source link and falling back to the external-id map.
func (t *MigrationJobTask) targetCounterpart(src, clone models.Record) models.Record {
	if src != nil {
		if tgt, ok := t.job.targetRecordFor(src); ok {
			return tgt
		}
	}
	fields := t.Object.ExternalIDFields()
	mapped := make([]string, len(fields))
	for i, f := range fields {
		mapped[i] = t.Object.TargetFieldName(f)
	}
	if v := extIDValue(clone, mapped); v != "" {
		if tgt, ok := t.TargetData.RecordByExtID(v); ok {
			return tgt
		}
	}
	return nil
}

// projectFields copies the listed fields plus the bookkeeping columns
// into a fresh payload record.
func projectFields(rec models.Record, fields []string) models.Record {
	out := make(models.Record, len(fields)+3)
	for _, f := range fields {
		if v, ok := rec[f]; ok {
			out[f] = v
		}
	}
	if v, ok := rec[models.IDField]; ok {
		out[models.IDField] = v
	}
	out[models.InternalIDField] = rec[models.InternalIDField]
	out[models.SourceIDField] = rec[models.SourceIDField]
	return out
}

// equalOn reports whether payload and target agree on every comparable
// field.
func equalOn(payload, target models.Record, fields []string) bool {
	for _, f := range fields {
		if f == models.IDField || models.IsBookkeepingField(f) {
			continue
		}
		if normalizeValue(payload[f]) != normalizeValue(target[f]) {
			return false
		}
	}
	return true
}

func normalizeValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	default:
		return ""
	}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return strings.EqualFold(x, "true")
	}
	return false
}

// synthesizeNames fills the name columns a split object requires: a
// missing Name composes from FirstName/LastName, and missing name parts
// split off Name's first word.
func synthesizeNames(rec models.Record) {
	name := rec.GetString("Name")
	first := rec.GetString("FirstName")
	last := rec.GetString("LastName")

	if name == "" && (first != "" || last != "") {
		rec["Name"] = strings.TrimSpace(first + " " + last)
		return
	}
	if name != "" && first == "" && last == "" {
		parts := strings.SplitN(name, " ", 2)
		rec["FirstName"] = parts[0]
		if len(parts) == 2 {
			rec["LastName"] = parts[1]
		} else {
			rec["LastName"] = parts[0]
		}
	}
}
