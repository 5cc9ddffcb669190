// Package index provides search index clients implementing the posting
// storage contract: a Marqo HTTP client for production and an in-memory
// index for tests and local development.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jobradar/jobradar/internal/jobs"
)

const defaultRequestTimeout = 30 * time.Second

// Marqo talks to a Marqo tensor search instance over its REST API. Posting
// documents are stored with client-assigned IDs so inserts stay idempotent.
type Marqo struct {
	baseURL   string
	indexName string
	client    *http.Client
	logger    *zap.Logger
}

// NewMarqo builds a Marqo client for one index.
func NewMarqo(baseURL, indexName string, logger *zap.Logger) *Marqo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Marqo{
		baseURL:   baseURL,
		indexName: indexName,
		client:    &http.Client{Timeout: defaultRequestTimeout},
		logger:    logger,
	}
}

type marqoDocument struct {
	ID              string `json:"_id"`
	Title           string `json:"title"`
	Company         string `json:"company"`
	Description     string `json:"description"`
	URL             string `json:"url,omitempty"`
	Location        string `json:"location,omitempty"`
	Salary          string `json:"salary,omitempty"`
	JobType         string `json:"job_type,omitempty"`
	ExperienceLevel string `json:"experience_level,omitempty"`
	PostedAt        string `json:"posted_at"`
	Source          string `json:"source"`
	SourceNativeID  string `json:"source_native_id,omitempty"`
	CanonicalURL    string `json:"canonical_url"`
	ContentHash     string `json:"content_hash"`
}

type addDocumentsRequest struct {
	Documents    []marqoDocument `json:"documents"`
	TensorFields []string        `json:"tensorFields"`
}

type addDocumentsResponse struct {
	Errors bool `json:"errors"`
	Items  []struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  string `json:"error,omitempty"`
	} `json:"items"`
}

type searchRequest struct {
	Query  string `json:"q"`
	Filter string `json:"filter,omitempty"`
	Limit  int    `json:"limit"`
}

type searchResponse struct {
	Hits []struct {
		ID string `json:"_id"`
	} `json:"hits"`
}

// Add indexes a posting and returns its assigned document ID.
func (m *Marqo) Add(ctx context.Context, p jobs.Posting) (string, error) {
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	fp := jobs.FingerprintFor(p)
	doc := marqoDocument{
		ID:              id,
		Title:           p.Title,
		Company:         p.Company,
		Description:     p.Description,
		URL:             p.URL,
		Location:        p.Location,
		Salary:          p.Salary,
		JobType:         p.JobType,
		ExperienceLevel: p.ExperienceLevel,
		PostedAt:        p.PostedAt.UTC().Format(time.RFC3339),
		Source:          p.Source,
		SourceNativeID:  p.SourceNativeID,
		CanonicalURL:    fp.CanonicalURL,
		ContentHash:     fp.ContentHash,
	}
	req := addDocumentsRequest{
		Documents:    []marqoDocument{doc},
		TensorFields: []string{"title", "description"},
	}

	var resp addDocumentsResponse
	if err := m.do(ctx, http.MethodPost, m.documentsPath(), req, &resp); err != nil {
		return "", err
	}
	if len(resp.Items) == 0 {
		return "", fmt.Errorf("marqo add: empty response for index %s", m.indexName)
	}
	item := resp.Items[0]
	if item.Status >= 400 {
		return "", fmt.Errorf("marqo add: document rejected: %s", item.Error)
	}
	return item.ID, nil
}

// Exists reports whether a document with the given fingerprint is indexed.
func (m *Marqo) Exists(ctx context.Context, fp jobs.Fingerprint) (bool, error) {
	req := searchRequest{
		Query:  "*",
		Filter: fmt.Sprintf("content_hash:(%s)", fp.ContentHash),
		Limit:  1,
	}
	var resp searchResponse
	if err := m.do(ctx, http.MethodPost, m.indexPath("/search"), req, &resp); err != nil {
		return false, err
	}
	return len(resp.Hits) > 0, nil
}

// Delete removes a document by ID. Deleting an absent document is not an
// error.
func (m *Marqo) Delete(ctx context.Context, id string) error {
	payload := []string{id}
	return m.do(ctx, http.MethodPost, m.documentsPath("/delete-batch"), payload, nil)
}

func (m *Marqo) documentsPath(suffix ...string) string {
	path := m.indexPath("/documents")
	for _, s := range suffix {
		path += s
	}
	return path
}

func (m *Marqo) indexPath(suffix string) string {
	return fmt.Sprintf("%s/indexes/%s%s", m.baseURL, m.indexName, suffix)
}

func (m *Marqo) do(ctx context.Context, method, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marqo request encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("marqo request build: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("marqo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("marqo %s %s: status %d: %s", method, url, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("marqo response decode: %w", err)
	}
	return nil
}

var _ jobs.SearchIndex = (*Marqo)(nil)
