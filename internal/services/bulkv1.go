package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/desertthunder/dmx/internal/models"
	"github.com/desertthunder/dmx/internal/shared"
)

// BulkV1Engine drives the legacy asynchronous batch-job API: create
// job, add CSV batches, close, poll batch states, read row-ordered
// per-record results.
type BulkV1Engine struct {
	org  *OrgService
	jobs map[string]*bulkV1Job
}

type bulkV1Job struct {
	closed  bool
	batches []bulkV1Batch
}

type bulkV1Batch struct {
	id      string
	state   string
	records models.RecordSet
}

func (e *BulkV1Engine) Name() string { return "bulk-v1" }

func (e *BulkV1Engine) SupportsHardDelete() bool { return true }

func (e *BulkV1Engine) asyncPath(suffix string) string {
	return fmt.Sprintf("/services/async/%s%s", e.org.apiVersion, suffix)
}

type bulkV1JobResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

func (e *BulkV1Engine) CreateJob(ctx context.Context, object string, op CRUDOperation, extIDField string) (*Job, error) {
	if e.jobs == nil {
		e.jobs = make(map[string]*bulkV1Job)
	}

	req := map[string]any{
		"operation":   operationVerb(op, extIDField),
		"object":      object,
		"contentType": "CSV",
	}
	if extIDField != "" {
		req["externalIdFieldName"] = extIDField
	}

	var resp bulkV1JobResponse
	if err := e.org.sendJSON(ctx, http.MethodPost, e.asyncPath("/job"), req, &resp); err != nil {
		return nil, wrapFeatureError(err)
	}

	e.jobs[resp.ID] = &bulkV1Job{}
	return &Job{
		ID:              resp.ID,
		Object:          object,
		Operation:       op,
		State:           JobOpen,
		ExternalIDField: extIDField,
	}, nil
}

// operationVerb maps the engine verb onto the wire verb; inserts with
// an external id become upserts so the store reconciles duplicates.
func operationVerb(op CRUDOperation, extIDField string) string {
	if op == CRUDInsert && extIDField != "" {
		return "upsert"
	}
	return string(op)
}

// wrapFeatureError converts a feature-unavailable rejection into
// ErrNotSupported so the executor can fall back to another engine.
func wrapFeatureError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "FEATURE_NOT_ENABLED") || strings.Contains(msg, "FeatureNotEnabled") {
		return fmt.Errorf("%w: %v", shared.ErrNotSupported, err)
	}
	return err
}

func (e *BulkV1Engine) ExecuteBatch(ctx context.Context, job *Job, records models.RecordSet, fields []string) error {
	state, ok := e.jobs[job.ID]
	if !ok {
		return fmt.Errorf("unknown job %s", job.ID)
	}

	body, err := recordsToCSV(records, fields)
	if err != nil {
		return err
	}

	var resp bulkV1JobResponse
	path := e.asyncPath("/job/" + job.ID + "/batch")
	data, _, err := e.org.request(ctx, http.MethodPost, path, body, "text/csv")
	if err != nil {
		return wrapFeatureError(err)
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("%w: bad batch response: %v", shared.ErrAPIRequest, err)
	}

	state.batches = append(state.batches, bulkV1Batch{id: resp.ID, state: resp.State, records: records})
	job.State = JobInProgress
	return nil
}

// Poll closes the job on first call, then refreshes every batch state.
func (e *BulkV1Engine) Poll(ctx context.Context, job *Job) (JobState, error) {
	state, ok := e.jobs[job.ID]
	if !ok {
		return JobFailed, fmt.Errorf("unknown job %s", job.ID)
	}

	if !state.closed {
		req := map[string]string{"state": "Closed"}
		if err := e.org.sendJSON(ctx, http.MethodPost, e.asyncPath("/job/"+job.ID), req, nil); err != nil {
			return JobFailed, err
		}
		state.closed = true
	}

	allDone := true
	for i := range state.batches {
		b := &state.batches[i]
		if b.state == "Completed" || b.state == "Failed" || b.state == "Not Processed" {
			continue
		}
		var resp bulkV1JobResponse
		if err := e.org.getJSON(ctx, e.asyncPath("/job/"+job.ID+"/batch/"+b.id), &resp); err != nil {
			return JobFailed, err
		}
		b.state = resp.State
		if resp.State != "Completed" && resp.State != "Failed" && resp.State != "Not Processed" {
			allDone = false
		}
	}

	if !allDone {
		job.State = JobInProgress
		return JobInProgress, nil
	}
	for _, b := range state.batches {
		if b.state == "Failed" {
			job.State = JobFailed
			return JobFailed, nil
		}
	}
	job.State = JobComplete
	return JobComplete, nil
}

// ReadResults fetches each batch's result CSV. Result rows are in
// submission order, so they key back to records positionally.
func (e *BulkV1Engine) ReadResults(ctx context.Context, job *Job) ([]RecordResult, error) {
	state, ok := e.jobs[job.ID]
	if !ok {
		return nil, fmt.Errorf("unknown job %s", job.ID)
	}
	defer delete(e.jobs, job.ID)

	var out []RecordResult
	for _, b := range state.batches {
		data, _, err := e.org.request(ctx, http.MethodGet, e.asyncPath("/job/"+job.ID+"/batch/"+b.id+"/result"), nil, "")
		if err != nil {
			return nil, err
		}
		rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
		if err != nil {
			return nil, fmt.Errorf("bad batch result CSV: %w", err)
		}
		if len(rows) == 0 {
			continue
		}
		cols := indexColumns(rows[0])
		for i, row := range rows[1:] {
			if i >= len(b.records) {
				break
			}
			rec := b.records[i]
			res := RecordResult{InternalID: rec.InternalID(), ID: rec.ID()}
			if id := cell(row, cols, "Id"); id != "" {
				res.ID = id
			}
			res.Success = strings.EqualFold(cell(row, cols, "Success"), "true")
			res.Error = cell(row, cols, "Error")
			out = append(out, res)
		}
	}
	return out, nil
}

// recordsToCSV renders the payload columns of a record set for a bulk
// upload. Bookkeeping fields and the error column never leave the
// engine; Id is included only when present so deletes can name rows.
func recordsToCSV(records models.RecordSet, fields []string) ([]byte, error) {
	cols := make([]string, 0, len(fields))
	for _, f := range fields {
		if models.IsBookkeepingField(f) || f == models.ErrorsField {
			continue
		}
		cols = append(cols, f)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(cols); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}
	row := make([]string, len(cols))
	for _, rec := range records {
		for i, c := range cols {
			row[i] = valueToCell(rec[c])
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

func valueToCell(v any) string {
	if v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		// JSON numbers arrive as float64; render integers without a
		// trailing fraction.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(v)
	}
}

func indexColumns(header []string) map[string]int {
	out := make(map[string]int, len(header))
	for i, h := range header {
		out[h] = i
	}
	return out
}

func cell(row []string, cols map[string]int, name string) string {
	idx, ok := cols[name]
	if !ok || idx >= len(row) {
		return ""
	}
	return row[idx]
}
