package models

import (
	"fmt"
	"strings"
)

// Operation is the CRUD semantic applied to one migrated object.
type Operation int

const (
	OperationUnknown Operation = iota
	OperationInsert
	OperationUpdate
	OperationUpsert
	OperationAdd
	OperationMerge
	OperationDelete
	OperationHardDelete
	OperationReadonly
)

// ParseOperation parses the operation name from the script,
// case-insensitively. Unknown names return an error.
func ParseOperation(s string) (Operation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "insert":
		return OperationInsert, nil
	case "update":
		return OperationUpdate, nil
	case "upsert":
		return OperationUpsert, nil
	case "add":
		return OperationAdd, nil
	case "merge":
		return OperationMerge, nil
	case "delete":
		return OperationDelete, nil
	case "harddelete":
		return OperationHardDelete, nil
	case "readonly":
		return OperationReadonly, nil
	}
	return OperationUnknown, fmt.Errorf("unknown operation %q", s)
}

func (o Operation) String() string {
	switch o {
	case OperationInsert:
		return "Insert"
	case OperationUpdate:
		return "Update"
	case OperationUpsert:
		return "Upsert"
	case OperationAdd:
		return "Add"
	case OperationMerge:
		return "Merge"
	case OperationDelete:
		return "Delete"
	case OperationHardDelete:
		return "HardDelete"
	case OperationReadonly:
		return "Readonly"
	default:
		return "Unknown"
	}
}

// AllowsInsert reports whether records without a target counterpart may
// be inserted under this operation.
func (o Operation) AllowsInsert() bool {
	switch o {
	case OperationInsert, OperationUpsert, OperationAdd:
		return true
	}
	return false
}

// AllowsUpdate reports whether records with a target counterpart may be
// updated under this operation.
func (o Operation) AllowsUpdate() bool {
	switch o {
	case OperationUpdate, OperationUpsert, OperationMerge:
		return true
	}
	return false
}

// IsDelete reports whether the operation removes target records.
func (o Operation) IsDelete() bool {
	return o == OperationDelete || o == OperationHardDelete
}

// MockRule configures masking for one field. Pattern names a generator
// ("name", "email", "city", ...) resolved by the transformation
// pipeline; the regex gates decide per record whether the value is
// replaced.
type MockRule struct {
	Field           string `toml:"field"`
	Pattern         string `toml:"pattern"`
	IncludeIf       string `toml:"include_if"`
	ExcludeIf       string `toml:"exclude_if"`
	MatchWholeValue bool   `toml:"match_whole_value"`
}

// MappingRule remaps one field's values across environments. Exactly
// one of Table, Regex/Replace, or Expression is normally set; when
// several are present they apply in that order.
type MappingRule struct {
	Field string `toml:"field"`

	// Table is a literal old→new lookup, loaded inline or from a CSV
	// values-mapping file.
	Table map[string]string `toml:"table"`

	// Regex/Replace rewrites values with capture-group references.
	Regex   string `toml:"regex"`
	Replace string `toml:"replace"`

	// Expression is evaluated with the original value bound as `value`.
	Expression string `toml:"expression"`
}

// ScriptObject declares one migrated entity. Immutable after load;
// shared by all tasks for that object.
type ScriptObject struct {
	// Query is the base retrieval query. The object name is taken from
	// its FROM clause; Name may override it.
	Query string `toml:"query"`
	Name  string `toml:"name"`

	// TargetObject maps the entity onto a differently named target
	// object. Empty means same name.
	TargetObject string `toml:"target_object"`

	Operation string `toml:"operation"`

	// ExternalID is the matching key; composite keys join field names
	// with ";".
	ExternalID string `toml:"external_id"`

	// DeleteQuery filters target records for delete operations.
	DeleteQuery string `toml:"delete_query"`

	// TargetRecordsFilter is ANDed into source-side WHERE clauses.
	TargetRecordsFilter string `toml:"records_filter"`

	ExcludedFields   []string          `toml:"excluded_fields"`
	FieldMapping     map[string]string `toml:"field_mapping"`
	MockRules        []MockRule        `toml:"mock_rules"`
	MappingRules     []MappingRule     `toml:"mapping_rules"`
	UseValuesMapping bool              `toml:"use_values_mapping"`
	UseFieldMapping  bool              `toml:"use_field_mapping"`

	DeleteOldData         bool `toml:"delete_old_data"`
	HardDelete            bool `toml:"hard_delete"`
	ProcessAllSource      bool `toml:"process_all_source"`
	ProcessAllTarget      bool `toml:"process_all_target"`
	SkipRecordsComparison bool `toml:"skip_records_comparison"`
	UpdateWithMockData    bool `toml:"update_with_mock_data"`

	// Master objects keep their own records during hierarchical deletes.
	Master bool `toml:"master"`

	// TruncateFields trims string values to the described field length.
	TruncateFields bool `toml:"truncate_fields"`

	// FilterExpression keeps only records for which the expression is
	// truthy; evaluated against the record's field map.
	FilterExpression string `toml:"filter_expression"`

	// Addons lists registered add-on names attached to this object.
	Addons []string `toml:"addons"`

	op Operation
}

// Op returns the parsed operation.
func (o *ScriptObject) Op() Operation { return o.op }

// ExternalIDFields splits a composite external id into its components.
func (o *ScriptObject) ExternalIDFields() []string {
	if o.ExternalID == "" {
		return nil
	}
	parts := strings.Split(o.ExternalID, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsComplexExternalID reports whether the external id is composite.
func (o *ScriptObject) IsComplexExternalID() bool {
	return strings.Contains(o.ExternalID, ";")
}

// Target returns the mapped target object name.
func (o *ScriptObject) Target() string {
	if o.TargetObject != "" {
		return o.TargetObject
	}
	return o.Name
}

// TargetFieldName maps a source field name onto the target schema.
func (o *ScriptObject) TargetFieldName(field string) string {
	if !o.UseFieldMapping || o.FieldMapping == nil {
		return field
	}
	if mapped, ok := o.FieldMapping[field]; ok {
		return mapped
	}
	return field
}

// Validate parses the operation and checks the minimum object contract.
// Called once at script load.
func (o *ScriptObject) Validate() error {
	op, err := ParseOperation(o.Operation)
	if err != nil {
		return err
	}
	o.op = op
	if o.Name == "" && o.Query == "" {
		return fmt.Errorf("object needs a name or a query")
	}
	if op != OperationReadonly && !op.IsDelete() && o.ExternalID == "" && op != OperationInsert {
		return fmt.Errorf("object %s: operation %s requires an external id", o.Name, op)
	}
	return nil
}

// Script is the migration configuration: global knobs plus the ordered
// object list.
type Script struct {
	Objects []*ScriptObject `toml:"objects"`

	// PollingIntervalMS is the bulk-job poll interval.
	PollingIntervalMS int `toml:"polling_interval_ms"`

	// BulkThreshold is the record count at or above which a bulk engine
	// replaces per-record REST calls.
	BulkThreshold int `toml:"bulk_api_threshold"`

	// BulkAPIVersion selects between the legacy batch API ("1.0") and
	// the ingest API ("2.0").
	BulkAPIVersion string `toml:"bulk_api_version"`

	// AllOrNone fails a whole batch when any record in it fails.
	AllOrNone bool `toml:"all_or_none"`

	Simulation bool `toml:"simulation"`

	// CSV knobs for the file-store side and result exports.
	EncryptDataFiles bool   `toml:"encrypt_data_files"`
	Passphrase       string `toml:"passphrase"`

	// QueryMaxChars bounds every composed retrieval query.
	QueryMaxChars int `toml:"query_max_chars"`

	KeepObjectOrder bool `toml:"keep_object_order"`
}

// Script defaults, applied by Validate.
const (
	DefaultPollingIntervalMS = 5000
	DefaultBulkThreshold     = 200
	DefaultQueryMaxChars     = 3900
)

// Validate applies defaults and validates every object.
func (s *Script) Validate() error {
	if s.PollingIntervalMS <= 0 {
		s.PollingIntervalMS = DefaultPollingIntervalMS
	}
	if s.BulkThreshold <= 0 {
		s.BulkThreshold = DefaultBulkThreshold
	}
	if s.QueryMaxChars <= 0 {
		s.QueryMaxChars = DefaultQueryMaxChars
	}
	if s.BulkAPIVersion == "" {
		s.BulkAPIVersion = "2.0"
	}
	if len(s.Objects) == 0 {
		return fmt.Errorf("script declares no objects")
	}
	for _, obj := range s.Objects {
		if err := obj.Validate(); err != nil {
			return err
		}
	}
	return nil
}
