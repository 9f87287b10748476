package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/desertthunder/dmx/internal/models"
	"github.com/desertthunder/dmx/internal/shared"
)

// RestEngine performs synchronous per-record CRUD calls. Jobs complete
// inside ExecuteBatch; Poll exists only to satisfy the engine protocol.
type RestEngine struct {
	org  *OrgService
	jobs jobResults
}

// jobResults buffers per-record outcomes keyed by job id until the
// executor reads them. Single-threaded access per the engine's
// cooperative scheduling, so no lock.
type jobResults map[string][]RecordResult

func (e *RestEngine) Name() string { return "rest" }

func (e *RestEngine) SupportsHardDelete() bool { return true }

func (e *RestEngine) CreateJob(ctx context.Context, object string, op CRUDOperation, extIDField string) (*Job, error) {
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

// ExecuteBatch performs one call per record, collecting outcomes. A
// transport failure on one record becomes that record's error rather
// than failing the batch.
func (e *RestEngine) ExecuteBatch(ctx context.Context, job *Job, records models.RecordSet, fields []string) error {
	results := e.jobs[job.ID]
	for _, rec := range records {
		res := e.executeRecord(ctx, job, rec, fields)
		results = append(results, res)
	}
	e.jobs[job.ID] = results
	job.State = JobComplete
	return nil
}

func (e *RestEngine) executeRecord(ctx context.Context, job *Job, rec models.Record, fields []string) RecordResult {
	res := RecordResult{InternalID: rec.InternalID(), ID: rec.ID()}

	var err error
	switch job.Operation {
	case CRUDInsert:
		res.ID, err = e.insertRecord(ctx, job, rec, fields)
	case CRUDUpdate:
		err = e.updateRecord(ctx, job, rec, fields)
	case CRUDDelete, CRUDHardDelete:
		// REST has no separate hard-delete verb; DELETE bypasses the
		// recycle bin semantics the caller asked to skip.
		err = e.deleteRecord(ctx, job, rec)
	default:
		err = fmt.Errorf("%w: rest engine cannot %s", shared.ErrNotSupported, job.Operation)
	}

	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	return res
}

// payload builds the write body from the allowed field list.
func payload(rec models.Record, fields []string) map[string]any {
	body := make(map[string]any, len(fields))
	for _, f := range fields {
		if models.IsBookkeepingField(f) || f == models.IDField || f == models.ErrorsField {
			continue
		}
		if v, ok := rec[f]; ok {
			body[f] = v
		}
	}
	return body
}

type saveResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Errors  []struct {
		Message    string `json:"message"`
		StatusCode string `json:"statusCode"`
	} `json:"errors"`
}

func (r saveResult) err() error {
	if r.Success {
		return nil
	}
	if len(r.Errors) > 0 {
		return fmt.Errorf("%s: %s", r.Errors[0].StatusCode, r.Errors[0].Message)
	}
	return fmt.Errorf("record save failed")
}

func (e *RestEngine) insertRecord(ctx context.Context, job *Job, rec models.Record, fields []string) (string, error) {
	body := payload(rec, fields)

	// Upsert-by-external-id routes through the external id resource so
	// the store decides insert vs update.
	if job.ExternalIDField != "" {
		extVal := rec.GetString(job.ExternalIDField)
		if extVal == "" {
			return "", fmt.Errorf("record has no %s value", job.ExternalIDField)
		}
		delete(body, job.ExternalIDField)
		path := e.org.dataPath(fmt.Sprintf("/sobjects/%s/%s/%s", job.Object, job.ExternalIDField, url.PathEscape(extVal)))
		var out saveResult
		if err := e.org.sendJSON(ctx, http.MethodPatch, path, body, &out); err != nil {
			return "", err
		}
		return out.ID, out.err()
	}

	var out saveResult
	path := e.org.dataPath("/sobjects/" + job.Object)
	if err := e.org.sendJSON(ctx, http.MethodPost, path, body, &out); err != nil {
		return "", err
	}
	return out.ID, out.err()
}

func (e *RestEngine) updateRecord(ctx context.Context, job *Job, rec models.Record, fields []string) error {
	id := rec.ID()
	if id == "" {
		return fmt.Errorf("record has no id to update")
	}
	body := payload(rec, fields)
	delete(body, models.IDField)
	path := e.org.dataPath(fmt.Sprintf("/sobjects/%s/%s", job.Object, id))
	return e.org.sendJSON(ctx, http.MethodPatch, path, body, nil)
}

func (e *RestEngine) deleteRecord(ctx context.Context, job *Job, rec models.Record) error {
	id := rec.ID()
	if id == "" {
		return fmt.Errorf("record has no id to delete")
	}
	path := e.org.dataPath(fmt.Sprintf("/sobjects/%s/%s", job.Object, id))
	_, _, err := e.org.request(ctx, http.MethodDelete, path, nil, "")
	if err != nil && strings.Contains(err.Error(), "404") {
		// Already gone; deletes are idempotent from the engine's view.
		return nil
	}
	return err
}

func (e *RestEngine) Poll(ctx context.Context, job *Job) (JobState, error) {
	return job.State, nil
}

func (e *RestEngine) ReadResults(ctx context.Context, job *Job) ([]RecordResult, error) {
	results, ok := e.jobs[job.ID]
	if !ok {
		return nil, fmt.Errorf("no results for job %s", job.ID)
	}
	delete(e.jobs, job.ID)
	return results, nil
}
