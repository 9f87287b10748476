package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strings"

	"github.com/desertthunder/dmx/internal/models"
	"github.com/desertthunder/dmx/internal/shared"
)

// Upload limits for one ingest job. Payloads past either bound are
// split across sibling jobs.
const (
	bulkV2MaxUploadBytes = 100 * 1024 * 1024
	bulkV2MaxUploadRows  = 150000
)

// BulkV2Engine drives the ingest-job API: create job, upload CSV
// content, close, poll until terminal, fetch successful/failed/
// unprocessed result CSVs.
//
// One logical [Job] may span several ingest jobs when the CSV payload
// exceeds the upload limits; Poll and ReadResults aggregate over all of
// them.
type BulkV2Engine struct {
	org  *OrgService
	jobs map[string]*bulkV2Job
}

type bulkV2Job struct {
	ingestIDs []string
	submitted models.RecordSet
	columns   []string
}

func (e *BulkV2Engine) Name() string { return "bulk-v2" }

// The ingest API rejects hardDelete jobs unless the org has the bulk
// hard-delete feature; the executor treats this engine as lacking the
// capability and retries through REST.
func (e *BulkV2Engine) SupportsHardDelete() bool { return false }

func (e *BulkV2Engine) ingestPath(suffix string) string {
	return e.org.dataPath("/jobs/ingest" + suffix)
}

type bulkV2JobResponse struct {
	ID         string `json:"id"`
	State      string `json:"state"`
	ContentURL string `json:"contentUrl"`
}

func (e *BulkV2Engine) createIngestJob(ctx context.Context, object string, op CRUDOperation, extIDField string) (string, error) {
	req := map[string]any{
		"object":      object,
		"operation":   operationVerb(op, extIDField),
		"contentType": "CSV",
		"lineEnding":  "LF",
	}
	if extIDField != "" {
		req["externalIdFieldName"] = extIDField
	}
	var resp bulkV2JobResponse
	if err := e.org.sendJSON(ctx, http.MethodPost, e.ingestPath(""), req, &resp); err != nil {
		return "", wrapFeatureError(err)
	}
	return resp.ID, nil
}

func (e *BulkV2Engine) CreateJob(ctx context.Context, object string, op CRUDOperation, extIDField string) (*Job, error) {
	if op == CRUDHardDelete {
		return nil, fmt.Errorf("%w: ingest jobs cannot hard-delete", shared.ErrNotSupported)
	}
	if e.jobs == nil {
		e.jobs = make(map[string]*bulkV2Job)
	}

	id, err := e.createIngestJob(ctx, object, op, extIDField)
	if err != nil {
		return nil, err
	}

	e.jobs[id] = &bulkV2Job{ingestIDs: []string{id}}
	return &Job{
		ID:              id,
		Object:          object,
		Operation:       op,
		State:           JobOpen,
		ExternalIDField: extIDField,
	}, nil
}

// ExecuteBatch renders the records as CSV, splits the payload by the
// upload limits, uploads each part to its own ingest job, and closes
// every job for processing.
func (e *BulkV2Engine) ExecuteBatch(ctx context.Context, job *Job, records models.RecordSet, fields []string) error {
	state, ok := e.jobs[job.ID]
	if !ok {
		return fmt.Errorf("unknown job %s", job.ID)
	}
	state.submitted = append(state.submitted, records...)

	cols := make([]string, 0, len(fields))
	for _, f := range fields {
		if models.IsBookkeepingField(f) || f == models.ErrorsField {
			continue
		}
		cols = append(cols, f)
	}
	state.columns = cols

	chunks, err := chunkCSV(records, cols, bulkV2MaxUploadBytes, bulkV2MaxUploadRows)
	if err != nil {
		return err
	}

	for i, chunk := range chunks {
		ingestID := state.ingestIDs[0]
		if i > 0 {
			ingestID, err = e.createIngestJob(ctx, job.Object, job.Operation, job.ExternalIDField)
			if err != nil {
				return err
			}
			state.ingestIDs = append(state.ingestIDs, ingestID)
		}

		if _, _, err := e.org.request(ctx, http.MethodPut, e.ingestPath("/"+ingestID+"/batches"), chunk, "text/csv"); err != nil {
			return wrapFeatureError(err)
		}
		req := map[string]string{"state": "UploadComplete"}
		if err := e.org.sendJSON(ctx, http.MethodPatch, e.ingestPath("/"+ingestID), req, nil); err != nil {
			return err
		}
	}

	job.State = JobUploadComplete
	return nil
}

// chunkCSV splits a record set into CSV payloads, each under the byte
// and row bounds. Every chunk carries its own header row.
func chunkCSV(records models.RecordSet, cols []string, maxBytes, maxRows int) ([][]byte, error) {
	header, err := csvRow(cols)
	if err != nil {
		return nil, err
	}

	var chunks [][]byte
	var buf bytes.Buffer
	rows := 0
	buf.Write(header)

	flush := func() {
		if rows == 0 {
			return
		}
		out := make([]byte, buf.Len())
		copy(out, buf.Bytes())
		chunks = append(chunks, out)
		buf.Reset()
		buf.Write(header)
		rows = 0
	}

	cells := make([]string, len(cols))
	for _, rec := range records {
		for i, c := range cols {
			cells[i] = valueToCell(rec[c])
		}
		row, err := csvRow(cells)
		if err != nil {
			return nil, err
		}
		if rows > 0 && (buf.Len()+len(row) > maxBytes || rows >= maxRows) {
			flush()
		}
		buf.Write(row)
		rows++
	}
	flush()
	return chunks, nil
}

func csvRow(cells []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(cells); err != nil {
		return nil, fmt.Errorf("failed to write CSV row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

var bulkV2TerminalStates = map[string]JobState{
	"JobComplete": JobComplete,
	"Failed":      JobFailed,
	"Aborted":     JobAborted,
}

// Poll refreshes every ingest job; the logical job is terminal only
// when all of them are.
func (e *BulkV2Engine) Poll(ctx context.Context, job *Job) (JobState, error) {
	state, ok := e.jobs[job.ID]
	if !ok {
		return JobFailed, fmt.Errorf("unknown job %s", job.ID)
	}

	aggregate := JobComplete
	for _, id := range state.ingestIDs {
		var resp bulkV2JobResponse
		if err := e.org.getJSON(ctx, e.ingestPath("/"+id), &resp); err != nil {
			return JobFailed, err
		}
		terminal, ok := bulkV2TerminalStates[resp.State]
		if !ok {
			job.State = JobInProgress
			return JobInProgress, nil
		}
		if terminal != JobComplete {
			aggregate = terminal
		}
	}
	job.State = aggregate
	return aggregate, nil
}

// ReadResults fetches the three result CSVs of every ingest job and
// keys rows back to submitted records by their payload column tuple.
// Duplicate tuples resolve in submission order.
func (e *BulkV2Engine) ReadResults(ctx context.Context, job *Job) ([]RecordResult, error) {
	state, ok := e.jobs[job.ID]
	if !ok {
		return nil, fmt.Errorf("unknown job %s", job.ID)
	}
	defer delete(e.jobs, job.ID)

	index := newTupleIndex(state.submitted, state.columns)
	out := make([]RecordResult, 0, len(state.submitted))

	for _, id := range state.ingestIDs {
		successes, err := e.fetchResultCSV(ctx, id, "/successfulResults/")
		if err != nil {
			return nil, err
		}
		for _, row := range successes {
			rec := index.take(row, state.columns)
			if rec == nil {
				continue
			}
			out = append(out, RecordResult{
				InternalID: rec.InternalID(),
				ID:         firstNonEmpty(row["sf__Id"], rec.ID()),
				Success:    true,
			})
		}

		failures, err := e.fetchResultCSV(ctx, id, "/failedResults/")
		if err != nil {
			return nil, err
		}
		for _, row := range failures {
			rec := index.take(row, state.columns)
			if rec == nil {
				continue
			}
			out = append(out, RecordResult{
				InternalID: rec.InternalID(),
				ID:         rec.ID(),
				Error:      firstNonEmpty(row["sf__Error"], "record failed"),
			})
		}

		unprocessed, err := e.fetchResultCSV(ctx, id, "/unprocessedrecords/")
		if err != nil {
			return nil, err
		}
		for _, row := range unprocessed {
			rec := index.take(row, state.columns)
			if rec == nil {
				continue
			}
			out = append(out, RecordResult{
				InternalID: rec.InternalID(),
				ID:         rec.ID(),
				Error:      "record not processed",
			})
		}
	}
	return out, nil
}

func (e *BulkV2Engine) fetchResultCSV(ctx context.Context, ingestID, suffix string) ([]map[string]string, error) {
	data, _, err := e.org.request(ctx, http.MethodGet, e.ingestPath("/"+ingestID+suffix), nil, "")
	if err != nil {
		return nil, err
	}
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("bad result CSV: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil
	}
	header := rows[0]
	out := make([]map[string]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		m := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(row) {
				m[h] = row[i]
			}
		}
		out = append(out, m)
	}
	return out, nil
}

// tupleIndex matches result rows (which echo the submitted columns)
// back to the submitted records. Records with identical payloads queue
// FIFO under one key.
type tupleIndex struct {
	queues map[string][]models.Record
}

func newTupleIndex(records models.RecordSet, cols []string) *tupleIndex {
	idx := &tupleIndex{queues: make(map[string][]models.Record, len(records))}
	cells := make([]string, len(cols))
	for _, rec := range records {
		for i, c := range cols {
			cells[i] = valueToCell(rec[c])
		}
		key := strings.Join(cells, "\x00")
		idx.queues[key] = append(idx.queues[key], rec)
	}
	return idx
}

func (idx *tupleIndex) take(row map[string]string, cols []string) models.Record {
	cells := make([]string, len(cols))
	for i, c := range cols {
		cells[i] = row[c]
	}
	key := strings.Join(cells, "\x00")
	queue := idx.queues[key]
	if len(queue) == 0 {
		return nil
	}
	rec := queue[0]
	idx.queues[key] = queue[1:]
	return rec
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
