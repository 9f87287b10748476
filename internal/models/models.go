package models

// Reserved record fields. These never leave the engine: the CSV adapter
// and the API engines strip them before writing.
const (
	// IDField is the store-assigned record id column.
	IDField = "Id"

	// InternalIDField holds the engine-assigned internal id. It is set
	// exactly once per record and stays stable across passes, even before
	// a remote id exists.
	InternalIDField = "__rid"

	// SourceIDField echoes the source record's id on target-side records.
	SourceIDField = "__source_id"

	// ProcessedField marks a record as handled during the current pass.
	ProcessedField = "__processed"

	// ErrorsField carries per-record CRUD error text.
	ErrorsField = "Errors"

	// ExtIDSourceSuffix is appended to an external-id field name when the
	// target object tracks the source's external id in a separate column.
	ExtIDSourceSuffix = "__source"
)

// Record is an open field/value bag. Values are strings, numbers, bools,
// or nil as produced by the query layer or the CSV reader.
type Record map[string]any

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ID returns the store-assigned id, or "" when the record has none yet.
func (r Record) ID() string {
	if v, ok := r[IDField].(string); ok {
		return v
	}
	return ""
}

// InternalID returns the engine-assigned internal id.
func (r Record) InternalID() string {
	if v, ok := r[InternalIDField].(string); ok {
		return v
	}
	return ""
}

// GetString returns the named field coerced to string, or "" when absent
// or nil.
func (r Record) GetString(field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// IsBookkeepingField reports whether the field name is engine-internal
// and must be stripped before records cross the process boundary.
func IsBookkeepingField(name string) bool {
	switch name {
	case InternalIDField, SourceIDField, ProcessedField:
		return true
	}
	return false
}

// StripBookkeeping removes all reserved engine fields in place and
// returns the record for chaining.
func (r Record) StripBookkeeping() Record {
	delete(r, InternalIDField)
	delete(r, SourceIDField)
	delete(r, ProcessedField)
	return r
}

// RecordSet is an ordered collection of records.
type RecordSet []Record

// IDs returns the store-assigned ids of all records that have one.
func (rs RecordSet) IDs() []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		if id := r.ID(); id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Values collects the distinct non-empty values of the named field,
// preserving first-seen order.
func (rs RecordSet) Values(field string) []string {
	seen := make(map[string]struct{}, len(rs))
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		v := r.GetString(field)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
