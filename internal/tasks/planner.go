package tasks

import (
	"sort"
	"strings"

	"github.com/desertthunder/dmx/internal/models"
	"github.com/desertthunder/dmx/internal/soql"
)

// softDeleteField predicates are stripped from target-side WHERE
// clauses; deleted rows are reached through queryAll instead.
const softDeleteField = "IsDeleted"

// CreateQuery composes the retrieval query for one side. Target-side
// queries are rewritten onto the target object and field names, with
// the WHERE clause dropped entirely for full-table reads and only the
// soft-delete predicate removed otherwise. Source-side queries get the
// configured records filter ANDed in.
func (t *MigrationJobTask) CreateQuery(fieldNames []string, removeLimits, isTarget bool) (string, error) {
	q, err := soql.Parse(t.Object.Query)
	if err != nil {
		return "", err
	}
	if fieldNames == nil {
		fieldNames = t.queryFields()
	}

	if isTarget {
		q.Object = t.Object.Target()
		q.Fields = t.targetQueryFields(fieldNames)
		if t.Object.ProcessAllTarget || t.partOfHierarchicalDelete() {
			q.Where = ""
			q.OrderBy = ""
			q.Limit = ""
			q.Offset = ""
		} else {
			q.Where = stripSoftDelete(q.Where)
		}
	} else {
		q.Fields = fieldNames
		q.AndWhere(t.Object.TargetRecordsFilter)
	}

	if removeLimits {
		q.StripLimits()
	}
	return q.String(), nil
}

// targetQueryFields maps the source field list onto the target schema,
// keeping only described fields. Id always leads; the "__source" echo
// columns ride along when the target carries them.
func (t *MigrationJobTask) targetQueryFields(fields []string) []string {
	out := []string{models.IDField}
	seen := map[string]struct{}{models.IDField: {}}
	add := func(name string) {
		if _, dup := seen[name]; dup {
			return
		}
		if t.TargetDescribe != nil && len(t.TargetDescribe.Fields) > 0 {
			if _, ok := t.TargetDescribe.Fields[name]; !ok {
				return
			}
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, f := range fields {
		if f == models.IDField {
			continue
		}
		add(t.Object.TargetFieldName(f))
	}
	for _, f := range t.Object.ExternalIDFields() {
		add(f + models.ExtIDSourceSuffix)
	}
	return out
}

func stripSoftDelete(where string) string {
	if where == "" {
		return ""
	}
	var kept []string
	for _, part := range strings.Split(where, " AND ") {
		if strings.Contains(strings.ToLower(part), strings.ToLower(softDeleteField)) {
			continue
		}
		kept = append(kept, part)
	}
	return strings.Join(kept, " AND ")
}

// CreateFilteredQueries plans source retrieval constrained to records
// that join an already-processed parent. On reverse passes the
// relationship flips: child tasks supply the lookup values pointing
// back at this object, and the filter runs over Id. Values already
// queried this run are skipped.
func (t *MigrationJobTask) CreateFilteredQueries(reversed bool) ([]string, error) {
	var queries []string

	if reversed {
		referenced := make(map[string]struct{})
		for _, child := range t.job.tasks {
			if child == t {
				continue
			}
			for _, f := range child.lookupFieldsTo(t.Object.Name) {
				for v := range child.SourceData.CacheLookupValues(f.Name) {
					referenced[v] = struct{}{}
				}
			}
		}
		fresh := t.dedupeQueried("reversed."+models.IDField, referenced)
		if len(fresh) == 0 {
			return nil, nil
		}
		return t.chunkedQueries(models.IDField, fresh, false)
	}

	for _, parent := range t.job.tasks {
		if parent == t {
			break
		}
		for _, f := range t.lookupFieldsTo(parent.Object.Name) {
			fresh := t.dedupeQueried(f.Name, idSet(parent.SourceData))
			if len(fresh) == 0 {
				continue
			}
			chunks, err := t.chunkedQueries(f.Name, fresh, false)
			if err != nil {
				return nil, err
			}
			queries = append(queries, chunks...)
		}
	}
	return queries, nil
}

// createTargetQueries restricts the target read to rows matching the
// retrieved source records' external-id values. Composite keys cannot
// be expressed as one IN predicate, so they fall back to a full read.
func (t *MigrationJobTask) createTargetQueries() ([]string, error) {
	extFields := t.Object.ExternalIDFields()
	if len(extFields) != 1 {
		q, err := t.CreateQuery(nil, true, true)
		if err != nil {
			return nil, err
		}
		return []string{q}, nil
	}

	values := make(map[string]struct{})
	for _, rec := range t.SourceData.IDRecords {
		if v := rec.GetString(extFields[0]); v != "" {
			values[v] = struct{}{}
		}
	}
	field := t.Object.TargetFieldName(extFields[0])
	fresh := t.dedupeQueried("target."+field, values)
	if len(fresh) == 0 {
		return nil, nil
	}
	return t.chunkedQueries(field, fresh, true)
}

// dedupeQueried filters values through the per-key already-queried
// cache, marking survivors as queried. Output is sorted so query text
// is deterministic.
func (t *MigrationJobTask) dedupeQueried(key string, values map[string]struct{}) []string {
	seen := t.queried[key]
	if seen == nil {
		seen = make(map[string]struct{})
		t.queried[key] = seen
	}
	var fresh []string
	for v := range values {
		if _, done := seen[v]; done {
			continue
		}
		seen[v] = struct{}{}
		fresh = append(fresh, v)
	}
	sort.Strings(fresh)
	return fresh
}

func (t *MigrationJobTask) chunkedQueries(field string, values []string, isTarget bool) ([]string, error) {
	base, err := t.CreateQuery(nil, true, isTarget)
	if err != nil {
		return nil, err
	}
	q, err := soql.Parse(base)
	if err != nil {
		return nil, err
	}
	return ChunkInClause(q, field, values, t.job.script.QueryMaxChars), nil
}

// ChunkInClause composes copies of base with `field IN (...)` ANDed in,
// greedily packing values so no emitted query exceeds maxChars. A value
// too long to fit even alone still gets a chunk of its own rather than
// being dropped.
func ChunkInClause(base *soql.Query, field string, values []string, maxChars int) []string {
	compose := func(vals []string) string {
		q := base.Clone()
		q.AndWhere(soql.InClause(field, vals))
		return q.String()
	}

	var queries []string
	var chunk []string
	for _, v := range values {
		candidate := append(chunk[:len(chunk):len(chunk)], v)
		if len(chunk) > 0 && len(compose(candidate)) > maxChars {
			queries = append(queries, compose(chunk))
			chunk = []string{v}
			continue
		}
		chunk = candidate
	}
	if len(chunk) > 0 {
		queries = append(queries, compose(chunk))
	}
	return queries
}

func idSet(data *TaskOrgData) map[string]struct{} {
	out := make(map[string]struct{}, len(data.IDRecords))
	for id := range data.IDRecords {
		out[id] = struct{}{}
	}
	return out
}
