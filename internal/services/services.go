package services

import (
	"context"

	"github.com/desertthunder/dmx/internal/models"
	"github.com/desertthunder/dmx/internal/shared"
)

// Store defines one side of the migration: a backend that can describe
// objects and answer retrieval queries.
type Store interface {
	// Name identifies the store in logs and reports.
	Name() string

	// Kind reports whether this is a remote org or a local file store.
	Kind() shared.StoreKind

	// Describe returns the object's schema.
	Describe(ctx context.Context, object string) (*models.ObjectDescribe, error)

	// QueryRecords runs one retrieval query. queryAll includes
	// soft-deleted rows where the backend distinguishes them.
	QueryRecords(ctx context.Context, query string, queryAll bool) (models.RecordSet, error)

	// RestEngine returns the synchronous per-record engine.
	RestEngine() Engine

	// BulkEngine returns the bulk engine for the given API version
	// ("1.0" or "2.0"), or nil when the store has none.
	BulkEngine(version string) Engine
}

// CRUDOperation names the write verb an engine job performs.
type CRUDOperation string

const (
	CRUDInsert     CRUDOperation = "insert"
	CRUDUpdate     CRUDOperation = "update"
	CRUDDelete     CRUDOperation = "delete"
	CRUDHardDelete CRUDOperation = "hardDelete"
)

// JobState is the lifecycle state of an engine job.
type JobState int

const (
	JobOpen JobState = iota
	JobUploadComplete
	JobInProgress
	JobComplete
	JobFailed
	JobAborted
)

func (s JobState) String() string {
	switch s {
	case JobOpen:
		return "Open"
	case JobUploadComplete:
		return "UploadComplete"
	case JobInProgress:
		return "InProgress"
	case JobComplete:
		return "JobComplete"
	case JobFailed:
		return "Failed"
	case JobAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the job has finished, successfully or not.
func (s JobState) Terminal() bool {
	switch s {
	case JobComplete, JobFailed, JobAborted:
		return true
	}
	return false
}

// Job is one engine job. Engines stash per-job state (batch ids,
// buffered results) keyed by the job's ID.
type Job struct {
	ID        string
	Object    string
	Operation CRUDOperation
	State     JobState

	// ExternalIDField is set for upsert-style inserts where the store
	// matches on the external id instead of generating a fresh row.
	ExternalIDField string
}

// RecordResult is the per-record outcome of an executed batch, keyed
// back to the original record by its engine-internal id.
type RecordResult struct {
	InternalID string
	ID         string
	Success    bool
	Error      string
}

// Engine performs CRUD against a store: create-job, execute-batch,
// poll, read-results.
type Engine interface {
	Name() string

	// SupportsHardDelete reports whether the engine can service
	// hard-delete jobs; the executor falls back to another engine when
	// it cannot.
	SupportsHardDelete() bool

	CreateJob(ctx context.Context, object string, op CRUDOperation, extIDField string) (*Job, error)

	// ExecuteBatch submits records for the job. fields bounds the
	// payload columns; bookkeeping fields never leave the engine.
	ExecuteBatch(ctx context.Context, job *Job, records models.RecordSet, fields []string) error

	// Poll refreshes and returns the job state.
	Poll(ctx context.Context, job *Job) (JobState, error)

	// ReadResults returns per-record outcomes once the job is terminal.
	ReadResults(ctx context.Context, job *Job) ([]RecordResult, error)
}

// NewStore wires a Store from one side's configuration.
func NewStore(cfg shared.StoreConfig) (Store, error) {
	switch cfg.Kind {
	case shared.StoreKindFile:
		return NewFileStore(cfg.Name, cfg.Path)
	case shared.StoreKindOrg, "":
		return NewOrgService(cfg, nil)
	}
	return nil, shared.ErrInvalidConfig
}
