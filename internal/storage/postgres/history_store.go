package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jobradar/jobradar/internal/jobs"
)

// HistoryStore persists crawl jobs. Steps live in a jsonb column on the job
// row; each job has a single writer, so step updates never race each other.
//
// It assumes a table schema like:
// CREATE TABLE crawl_jobs (
//
//	id UUID PRIMARY KEY,
//	source TEXT NOT NULL,
//	status TEXT NOT NULL,
//	trigger_origin TEXT NOT NULL,
//	started_at TIMESTAMPTZ NOT NULL,
//	completed_at TIMESTAMPTZ,
//	found INT NOT NULL DEFAULT 0,
//	added INT NOT NULL DEFAULT 0,
//	duplicate INT NOT NULL DEFAULT 0,
//	errors TEXT[],
//	summary TEXT,
//	steps JSONB NOT NULL
//
// );
type HistoryStore struct {
	pool dbPool
}

// NewHistoryStore creates a Postgres-backed HistoryStore.
func NewHistoryStore(ctx context.Context, cfg PostingStoreConfig) (*HistoryStore, error) {
	pool, err := newPool(ctx, cfg.DSN, cfg.MaxConns, cfg.MinConns, cfg.MaxConnLifetime)
	if err != nil {
		return nil, err
	}
	return &HistoryStore{pool: pool}, nil
}

// NewHistoryStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewHistoryStoreWithPool(pool dbPool) (*HistoryStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &HistoryStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *HistoryStore) Close() {
	s.pool.Close()
}

// SaveJob upserts the full job record.
func (s *HistoryStore) SaveJob(ctx context.Context, job jobs.CrawlJob) error {
	steps, err := json.Marshal(job.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	query := `
		INSERT INTO crawl_jobs (
			id, source, status, trigger_origin, started_at, completed_at,
			found, added, duplicate, errors, summary, steps
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			completed_at = EXCLUDED.completed_at,
			found = EXCLUDED.found,
			added = EXCLUDED.added,
			duplicate = EXCLUDED.duplicate,
			errors = EXCLUDED.errors,
			summary = EXCLUDED.summary,
			steps = EXCLUDED.steps;
	`
	_, err = s.pool.Exec(ctx, query,
		job.ID,
		job.Source,
		string(job.Status),
		string(job.Trigger),
		job.StartedAt,
		job.CompletedAt,
		job.Counters.Found,
		job.Counters.Added,
		job.Counters.Duplicate,
		job.Errors,
		job.Summary,
		steps,
	)
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

// UpdateStep replaces one step inside the job's steps document.
func (s *HistoryStore) UpdateStep(ctx context.Context, jobID string, step jobs.CrawlStep) error {
	encoded, err := json.Marshal(step)
	if err != nil {
		return fmt.Errorf("encode step: %w", err)
	}
	query := `
		UPDATE crawl_jobs
		SET steps = (
			SELECT jsonb_agg(CASE WHEN elem->>'name' = $2 THEN $3::jsonb ELSE elem END)
			FROM jsonb_array_elements(steps) AS elem
		)
		WHERE id = $1;
	`
	tag, err := s.pool.Exec(ctx, query, jobID, string(step.Name), encoded)
	if err != nil {
		return fmt.Errorf("update step: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("job %s not found", jobID)
	}
	return nil
}

const jobColumns = `id, source, status, trigger_origin, started_at, completed_at,
	found, added, duplicate, errors, summary, steps`

// GetJob returns a stored job.
func (s *HistoryStore) GetJob(ctx context.Context, jobID string) (jobs.CrawlJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM crawl_jobs WHERE id = $1;`, jobColumns)
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return jobs.CrawlJob{}, fmt.Errorf("job %s not found", jobID)
	}
	if err != nil {
		return jobs.CrawlJob{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Query lists jobs newest first, optionally filtered by source.
func (s *HistoryStore) Query(ctx context.Context, source string, limit int) ([]jobs.CrawlJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT %s FROM crawl_jobs
		WHERE ($1 = '' OR source = $1)
		ORDER BY started_at DESC
		LIMIT $2;
	`, jobColumns)
	rows, err := s.pool.Query(ctx, query, source, limit)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []jobs.CrawlJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query jobs rows: %w", err)
	}
	return out, nil
}

func scanJob(row pgx.Row) (jobs.CrawlJob, error) {
	var (
		job         jobs.CrawlJob
		status      string
		trigger     string
		completedAt *time.Time
		steps       []byte
	)
	err := row.Scan(
		&job.ID,
		&job.Source,
		&status,
		&trigger,
		&job.StartedAt,
		&completedAt,
		&job.Counters.Found,
		&job.Counters.Added,
		&job.Counters.Duplicate,
		&job.Errors,
		&job.Summary,
		&steps,
	)
	if err != nil {
		return jobs.CrawlJob{}, err
	}
	job.Status = jobs.JobStatus(status)
	job.Trigger = jobs.TriggerOrigin(trigger)
	job.CompletedAt = completedAt
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &job.Steps); err != nil {
			return jobs.CrawlJob{}, fmt.Errorf("decode steps: %w", err)
		}
	}
	return job, nil
}

var _ jobs.HistoryStore = (*HistoryStore)(nil)
