package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jobradar/jobradar/internal/dedup"
	"github.com/jobradar/jobradar/internal/index"
	"github.com/jobradar/jobradar/internal/jobs"
	"github.com/jobradar/jobradar/internal/orchestrator"
	"github.com/jobradar/jobradar/internal/run"
	"github.com/jobradar/jobradar/internal/storage/memory"
)

type stubCrawler struct {
	name     string
	postings []jobs.Posting
}

func (c *stubCrawler) Name() string                   { return c.name }
func (c *stubCrawler) Pipeline() []jobs.StepName      { return jobs.GenericPipeline() }
func (c *stubCrawler) Available(context.Context) bool { return true }
func (c *stubCrawler) Crawl(_ context.Context, max int) ([]jobs.Posting, error) {
	if max > 0 && len(c.postings) > max {
		return c.postings[:max], nil
	}
	return c.postings, nil
}

func newTestServer(t *testing.T, auth AuthConfig) (*Server, *run.Tracker) {
	t.Helper()
	tracker := run.NewTracker(memory.NewHistoryStore(), zap.NewNop())
	engine := dedup.New(memory.NewPostingStore(), index.NewMemory(), zap.NewNop())
	runner := run.NewRunner(tracker, engine, zap.NewNop())
	orch := orchestrator.New(runner, zap.NewNop())
	orch.Register(&stubCrawler{
		name: "topboard",
		postings: []jobs.Posting{{
			Title:       "Go Engineer",
			Company:     "Acme",
			Description: "build crawlers",
			URL:         "https://top.example/jobs/1",
			Source:      "topboard",
			PostedAt:    time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		}},
	})
	return NewServer(orch, tracker, engine, auth, zap.NewNop()), tracker
}

func doRequest(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, AuthConfig{})
	require.Equal(t, http.StatusOK, doRequest(t, s, http.MethodGet, "/healthz").Code)
	require.Equal(t, http.StatusOK, doRequest(t, s, http.MethodGet, "/readyz").Code)
	require.Equal(t, http.StatusOK, doRequest(t, s, http.MethodGet, "/metrics").Code)
}

func TestCrawlOneSynchronous(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, AuthConfig{})
	rec := doRequest(t, s, http.MethodPost, "/v1/crawl/topboard?wait=1")
	require.Equal(t, http.StatusOK, rec.Code)

	var result jobs.SourceResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Equal(t, "topboard", result.Source)
	require.Equal(t, 1, result.Crawled)
	require.Equal(t, 1, result.Added)
	require.NotEmpty(t, result.JobID)
}

func TestCrawlOneUnknownSource(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, AuthConfig{})
	rec := doRequest(t, s, http.MethodPost, "/v1/crawl/nope?wait=1")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRunAndListRuns(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, AuthConfig{})
	rec := doRequest(t, s, http.MethodPost, "/v1/crawl/topboard?wait=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var result jobs.SourceResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))

	runRec := doRequest(t, s, http.MethodGet, "/v1/runs/"+result.JobID)
	require.Equal(t, http.StatusOK, runRec.Code)
	var job jobs.CrawlJob
	require.NoError(t, json.Unmarshal(runRec.Body.Bytes(), &job))
	require.Equal(t, jobs.JobCompleted, job.Status)
	require.NotEmpty(t, job.Steps)

	require.Equal(t, http.StatusNotFound, doRequest(t, s, http.MethodGet, "/v1/runs/does-not-exist").Code)

	listRec := doRequest(t, s, http.MethodGet, "/v1/runs?source=topboard&limit=5")
	require.Equal(t, http.StatusOK, listRec.Code)
	var listed struct {
		Runs []jobs.CrawlJob `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &listed))
	require.Len(t, listed.Runs, 1)

	require.Equal(t, http.StatusBadRequest, doRequest(t, s, http.MethodGet, "/v1/runs?limit=9999").Code)
}

func TestListSources(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, AuthConfig{})
	rec := doRequest(t, s, http.MethodGet, "/v1/sources")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "topboard")
}

func TestDuplicateStats(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, AuthConfig{})
	// Crawl twice so the second run records url-match duplicates.
	require.Equal(t, http.StatusOK, doRequest(t, s, http.MethodPost, "/v1/crawl/topboard?wait=1").Code)
	require.Equal(t, http.StatusOK, doRequest(t, s, http.MethodPost, "/v1/crawl/topboard?wait=1").Code)

	rec := doRequest(t, s, http.MethodGet, "/v1/stats/duplicates")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "url-match")
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, AuthConfig{Enabled: true, APIKey: "sekrit"})

	require.Equal(t, http.StatusForbidden, doRequest(t, s, http.MethodGet, "/v1/sources").Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/sources", nil)
	req.Header.Set("X-API-Key", "sekrit")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Equal(t, http.StatusOK, doRequest(t, s, http.MethodGet, "/v1/sources?api_key=sekrit").Code)
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, AuthConfig{})
	rec := doRequest(t, s, http.MethodGet, "/healthz")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
