package tasks

import (
	"strings"

	"github.com/desertthunder/dmx/internal/models"
	"github.com/desertthunder/dmx/internal/shared"
)

// TaskOrgData is a task's per-side in-memory record store. Created
// fresh per job run phase; cleared and rebuilt on preflight refresh.
// Written only by the owning task.
type TaskOrgData struct {
	IsTarget bool

	// IDRecords maps record id (store-assigned or pseudo) to record.
	// First registration wins.
	IDRecords map[string]models.Record

	// ExtIDToRecordID maps external-id value to record id. Last write
	// wins on duplicate values.
	ExtIDToRecordID map[string]string

	// lookupCache caches distinct values per field for join planning.
	lookupCache map[string]map[string]struct{}
}

// NewTaskOrgData creates an empty per-side store.
func NewTaskOrgData(isTarget bool) *TaskOrgData {
	return &TaskOrgData{
		IsTarget:        isTarget,
		IDRecords:       make(map[string]models.Record),
		ExtIDToRecordID: make(map[string]string),
		lookupCache:     make(map[string]map[string]struct{}),
	}
}

// Clear resets all maps for a preflight refresh.
func (d *TaskOrgData) Clear() {
	d.IDRecords = make(map[string]models.Record)
	d.ExtIDToRecordID = make(map[string]string)
	d.lookupCache = make(map[string]map[string]struct{})
}

// RecordByExtID resolves a record through the external-id map.
func (d *TaskOrgData) RecordByExtID(extVal string) (models.Record, bool) {
	id, ok := d.ExtIDToRecordID[extVal]
	if !ok {
		return nil, false
	}
	rec, ok := d.IDRecords[id]
	return rec, ok
}

// Records returns all registered records in unspecified order.
func (d *TaskOrgData) Records() models.RecordSet {
	out := make(models.RecordSet, 0, len(d.IDRecords))
	for _, rec := range d.IDRecords {
		out = append(out, rec)
	}
	return out
}

// CacheLookupValues remembers the distinct values of one field across
// the registered records, for join-field planning.
func (d *TaskOrgData) CacheLookupValues(field string) map[string]struct{} {
	if cached, ok := d.lookupCache[field]; ok {
		return cached
	}
	values := make(map[string]struct{})
	for _, rec := range d.IDRecords {
		if v := rec.GetString(field); v != "" {
			values[v] = struct{}{}
		}
	}
	d.lookupCache[field] = values
	return values
}

// extIDValue composes a record's external-id value from the configured
// fields; composite components join with ";".
func extIDValue(rec models.Record, fields []string) string {
	if len(fields) == 0 {
		return ""
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = rec.GetString(f)
	}
	joined := strings.Join(parts, ";")
	if strings.Trim(joined, ";") == "" {
		return ""
	}
	return joined
}

// targetExtIDValue resolves a target-side record's external-id value,
// trying the mapped field name first and falling back to the
// "__source"-suffixed echo column when the target's own external id
// differs from the source's.
func (t *MigrationJobTask) targetExtIDValue(rec models.Record) string {
	fields := t.Object.ExternalIDFields()
	mapped := make([]string, len(fields))
	for i, f := range fields {
		mapped[i] = t.Object.TargetFieldName(f)
	}
	if v := extIDValue(rec, mapped); v != "" {
		return v
	}
	suffixed := make([]string, len(fields))
	for i, f := range fields {
		suffixed[i] = f + models.ExtIDSourceSuffix
	}
	return extIDValue(rec, suffixed)
}

// RegisterRecords stores records into the per-side maps. Records with
// no concrete id receive a locally generated pseudo-id so every record
// has a stable identity for later matching. Target records immediately
// link their source counterpart through the source's external-id map.
func (t *MigrationJobTask) RegisterRecords(records models.RecordSet, data *TaskOrgData) {
	extFields := t.Object.ExternalIDFields()
	if len(records) > 0 {
		// New records invalidate the per-field value caches.
		data.lookupCache = make(map[string]map[string]struct{})
	}

	for _, rec := range records {
		if rec.InternalID() == "" {
			rec[models.InternalIDField] = shared.GenerateID()
		}

		id := rec.ID()
		if id == "" {
			id = rec.InternalID()
		}
		if _, exists := data.IDRecords[id]; exists {
			continue
		}
		data.IDRecords[id] = rec

		var extVal string
		if data.IsTarget {
			extVal = t.targetExtIDValue(rec)
		} else {
			extVal = extIDValue(rec, extFields)
		}
		if extVal != "" {
			data.ExtIDToRecordID[extVal] = id
		}

		if data.IsTarget && extVal != "" {
			if src, ok := t.SourceData.RecordByExtID(extVal); ok {
				t.job.linkSourceToTarget(src, rec)
			}
		}
	}
}
