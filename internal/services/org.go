// Org store implementation of [Store]
//
// Speaks the REST data API (query, describe, per-record CRUD) and hosts
// the bulk engines. Requests share one rate-limited, token-refreshing
// HTTP client per org; the engine reuses the connection across a pass.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/desertthunder/dmx/internal/models"
	"github.com/desertthunder/dmx/internal/shared"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

const defaultAPIVersion = "58.0"

// OrgService implements [Store] for a query-capable remote org.
type OrgService struct {
	name       string
	baseURL    string
	apiVersion string
	httpClient *http.Client
	limiter    *rate.Limiter

	rest   *RestEngine
	bulkV1 *BulkV1Engine
	bulkV2 *BulkV2Engine
}

// NewOrgService builds an org store from one side's configuration. The
// client is nil in production (a token-refreshing client is built from
// the org credentials) and injected in tests.
func NewOrgService(cfg shared.StoreConfig, client *http.Client) (*OrgService, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: org %q has no base_url", shared.ErrInvalidConfig, cfg.Name)
	}
	if client == nil {
		creds := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		client = creds.Client(context.Background())
	}

	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 5.0
	}

	version := cfg.APIVersion
	if version == "" {
		version = defaultAPIVersion
	}

	org := &OrgService{
		name:       cfg.Name,
		baseURL:    cfg.BaseURL,
		apiVersion: version,
		httpClient: client,
		limiter:    rate.NewLimiter(rate.Limit(limit), 1),
	}
	org.rest = &RestEngine{org: org}
	org.bulkV1 = &BulkV1Engine{org: org}
	org.bulkV2 = &BulkV2Engine{org: org}
	return org, nil
}

func (o *OrgService) Name() string { return o.name }

func (o *OrgService) Kind() shared.StoreKind { return shared.StoreKindOrg }

// RestEngine returns the synchronous per-record engine.
func (o *OrgService) RestEngine() Engine { return o.rest }

// BulkEngine returns the engine for the requested bulk API version.
func (o *OrgService) BulkEngine(version string) Engine {
	switch version {
	case "1.0":
		return o.bulkV1
	default:
		return o.bulkV2
	}
}

// dataPath prefixes a REST data API path with the version segment.
func (o *OrgService) dataPath(suffix string) string {
	return fmt.Sprintf("/services/data/v%s%s", o.apiVersion, suffix)
}

// request performs one rate-limited HTTP call and returns the raw body.
// Non-2xx statuses surface as ErrAPIRequest with the body text.
func (o *OrgService) request(ctx context.Context, method, path string, body []byte, contentType string) ([]byte, int, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, o.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json, text/csv")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return data, resp.StatusCode, fmt.Errorf("%w: %s %s: status %d: %s", shared.ErrAPIRequest, method, path, resp.StatusCode, truncateBody(data))
	}
	return data, resp.StatusCode, nil
}

// getJSON performs a GET and decodes the JSON body into out.
func (o *OrgService) getJSON(ctx context.Context, path string, out any) error {
	data, _, err := o.request(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: bad JSON from %s: %v", shared.ErrAPIRequest, path, err)
	}
	return nil
}

// sendJSON performs a write with a JSON payload and optionally decodes
// the response.
func (o *OrgService) sendJSON(ctx context.Context, method, path string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}
	data, _, err := o.request(ctx, method, path, body, "application/json")
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: bad JSON from %s: %v", shared.ErrAPIRequest, path, err)
	}
	return nil
}

func truncateBody(data []byte) string {
	const max = 512
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}

// queryResponse is one page of query results.
type queryResponse struct {
	TotalSize      int              `json:"totalSize"`
	Done           bool             `json:"done"`
	NextRecordsURL string           `json:"nextRecordsUrl"`
	Records        []map[string]any `json:"records"`
}

// QueryRecords runs a retrieval query, following pagination until done.
// queryAll reads through the endpoint that includes soft-deleted rows.
func (o *OrgService) QueryRecords(ctx context.Context, query string, queryAll bool) (models.RecordSet, error) {
	endpoint := "/query"
	if queryAll {
		endpoint = "/queryAll"
	}
	path := o.dataPath(endpoint) + "?q=" + url.QueryEscape(query)

	var out models.RecordSet
	for {
		var page queryResponse
		if err := o.getJSON(ctx, path, &page); err != nil {
			return nil, err
		}
		for _, raw := range page.Records {
			rec := models.Record(raw)
			delete(rec, "attributes")
			out = append(out, rec)
		}
		if page.Done || page.NextRecordsURL == "" {
			break
		}
		path = page.NextRecordsURL
	}
	return out, nil
}

// describeResponse mirrors the describe-metadata payload.
type describeResponse struct {
	Name   string `json:"name"`
	Label  string `json:"label"`
	Fields []struct {
		Name          string   `json:"name"`
		Type          string   `json:"type"`
		Label         string   `json:"label"`
		Length        int      `json:"length"`
		Createable    bool     `json:"createable"`
		Updateable    bool     `json:"updateable"`
		AutoNumber    bool     `json:"autoNumber"`
		NameField     bool     `json:"nameField"`
		ReferenceTo   []string `json:"referenceTo"`
		CascadeDelete bool     `json:"cascadeDelete"`
	} `json:"fields"`
	Createable bool `json:"createable"`
	Updateable bool `json:"updateable"`
}

// Describe fetches and converts the object's schema.
func (o *OrgService) Describe(ctx context.Context, object string) (*models.ObjectDescribe, error) {
	var resp describeResponse
	path := o.dataPath("/sobjects/" + object + "/describe")
	if err := o.getJSON(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", shared.ErrMetadata, object, err)
	}

	desc := &models.ObjectDescribe{
		Name:     resp.Name,
		Label:    resp.Label,
		Readonly: !resp.Createable && !resp.Updateable,
		Fields:   make(map[string]models.FieldDescribe, len(resp.Fields)),
	}
	for _, f := range resp.Fields {
		fd := models.FieldDescribe{
			Name:         f.Name,
			Type:         fieldTypeFromAPI(f.Type),
			Label:        f.Label,
			Length:       f.Length,
			Creatable:    f.Createable,
			Updateable:   f.Updateable,
			AutoNumber:   f.AutoNumber,
			NameField:    f.NameField,
			IsReference:  f.Type == "reference",
			ReferencedTo: f.ReferenceTo,
			// Master-detail lookups cascade-delete their children.
			IsMasterDetail: f.Type == "reference" && f.CascadeDelete,
		}
		if f.Name == "IsPersonAccount" {
			desc.IsPersonEnabled = true
			desc.DiscriminatorField = f.Name
		}
		desc.Fields[f.Name] = fd
	}
	return desc, nil
}

func fieldTypeFromAPI(t string) models.FieldType {
	switch t {
	case "int", "integer", "long":
		return models.FieldTypeInt
	case "double", "currency", "percent":
		return models.FieldTypeFloat
	case "boolean":
		return models.FieldTypeBool
	case "date", "datetime":
		return models.FieldTypeDateTime
	case "id", "reference":
		return models.FieldTypeID
	default:
		return models.FieldTypeString
	}
}
