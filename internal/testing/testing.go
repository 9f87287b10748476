// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"

	"github.com/desertthunder/dmx/internal/models"
	"github.com/desertthunder/dmx/internal/services"
	"github.com/desertthunder/dmx/internal/shared"
	"github.com/desertthunder/dmx/internal/soql"
)

// MockStore is a test double for [services.Store] backed by in-memory
// record sets keyed by object name. Every query against an object
// returns that object's full set; issued query text is recorded for
// assertions.
type MockStore struct {
	StoreName string
	Describes map[string]*models.ObjectDescribe
	Data      map[string]models.RecordSet

	Queries  []string
	QueryErr error

	Rest *MockEngine
	Bulk *MockEngine
}

func NewMockStore(name string) *MockStore {
	return &MockStore{
		StoreName: name,
		Describes: make(map[string]*models.ObjectDescribe),
		Data:      make(map[string]models.RecordSet),
		Rest:      NewMockEngine("mock-rest"),
	}
}

func (m *MockStore) Name() string { return m.StoreName }

func (m *MockStore) Kind() shared.StoreKind { return shared.StoreKindOrg }

func (m *MockStore) Describe(ctx context.Context, object string) (*models.ObjectDescribe, error) {
	if desc, ok := m.Describes[object]; ok {
		return desc, nil
	}
	return nil, fmt.Errorf("%w: %s", shared.ErrObjectNotFound, object)
}

func (m *MockStore) QueryRecords(ctx context.Context, query string, queryAll bool) (models.RecordSet, error) {
	m.Queries = append(m.Queries, query)
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	q, err := soql.Parse(query)
	if err != nil {
		return nil, err
	}
	return m.Data[q.Object], nil
}

func (m *MockStore) RestEngine() services.Engine { return m.Rest }

func (m *MockStore) BulkEngine(version string) services.Engine {
	if m.Bulk == nil {
		return nil
	}
	return m.Bulk
}

// MockEngine is a test double for [services.Engine]. Batches succeed by
// default with generated ids; scripted errors and per-record outcomes
// override that.
type MockEngine struct {
	EngineName string
	HardDelete bool

	CreateErr  error
	ExecuteErr error
	PollErr    error

	// ResultFn overrides the default per-record success outcome.
	ResultFn func(job *services.Job, rec models.Record) services.RecordResult

	Batches []models.RecordSet
	Ops     []services.CRUDOperation

	results map[string][]services.RecordResult
	seq     int
}

func NewMockEngine(name string) *MockEngine {
	return &MockEngine{EngineName: name, HardDelete: true, results: make(map[string][]services.RecordResult)}
}

func (m *MockEngine) Name() string { return m.EngineName }

func (m *MockEngine) SupportsHardDelete() bool { return m.HardDelete }

func (m *MockEngine) CreateJob(ctx context.Context, object string, op services.CRUDOperation, extIDField string) (*services.Job, error) {
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	m.seq++
	return &services.Job{
		ID:              fmt.Sprintf("mock-%d", m.seq),
		Object:          object,
		Operation:       op,
		State:           services.JobOpen,
		ExternalIDField: extIDField,
	}, nil
}

func (m *MockEngine) ExecuteBatch(ctx context.Context, job *services.Job, records models.RecordSet, fields []string) error {
	if m.ExecuteErr != nil {
		return m.ExecuteErr
	}
	m.Batches = append(m.Batches, records)
	m.Ops = append(m.Ops, job.Operation)

	results := make([]services.RecordResult, 0, len(records))
	for i, rec := range records {
		if m.ResultFn != nil {
			results = append(results, m.ResultFn(job, rec))
			continue
		}
		id := rec.ID()
		if job.Operation == services.CRUDInsert && id == "" {
			id = fmt.Sprintf("%s-%s-%d", job.ID, job.Object, i)
		}
		results = append(results, services.RecordResult{InternalID: rec.InternalID(), ID: id, Success: true})
	}
	m.results[job.ID] = results
	job.State = services.JobComplete
	return nil
}

func (m *MockEngine) Poll(ctx context.Context, job *services.Job) (services.JobState, error) {
	if m.PollErr != nil {
		return job.State, m.PollErr
	}
	return job.State, nil
}

func (m *MockEngine) ReadResults(ctx context.Context, job *services.Job) ([]services.RecordResult, error) {
	results, ok := m.results[job.ID]
	if !ok {
		return nil, fmt.Errorf("no results for job %s", job.ID)
	}
	return results, nil
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

func MustGetwd(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	return wd
}

func MustChdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Failed to change directory: %v", err)
	}
}

var _ io.ReadCloser = (*FCloser)(nil)
