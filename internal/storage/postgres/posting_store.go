// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jobradar/jobradar/internal/jobs"
)

type dbPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// PostingStoreConfig controls the Postgres connection pool used for postings.
type PostingStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// PostingStore persists postings, fingerprints, and duplicate audit rows.
// Unique indexes on canonical_url and content_hash make the insert the final
// dedup arbiter under concurrency.
//
// It assumes table schemas like:
// CREATE TABLE postings (
//
//	id UUID PRIMARY KEY,
//	title TEXT NOT NULL,
//	company TEXT NOT NULL,
//	description TEXT NOT NULL,
//	url TEXT,
//	location TEXT,
//	salary TEXT,
//	job_type TEXT,
//	experience_level TEXT,
//	posted_at TIMESTAMPTZ NOT NULL,
//	source TEXT NOT NULL,
//	source_native_id TEXT,
//	canonical_url TEXT NOT NULL UNIQUE,
//	content_hash TEXT NOT NULL UNIQUE,
//	created_at TIMESTAMPTZ DEFAULT NOW()
//
// );
// CREATE TABLE posting_duplicates (
//
//	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
//	original_id UUID NOT NULL,
//	source TEXT NOT NULL,
//	native_id TEXT,
//	url TEXT,
//	title TEXT NOT NULL,
//	company TEXT NOT NULL,
//	method TEXT NOT NULL,
//	score DOUBLE PRECISION,
//	detected_at TIMESTAMPTZ NOT NULL
//
// );
type PostingStore struct {
	pool dbPool
}

// NewPostingStore creates a Postgres-backed PostingStore.
func NewPostingStore(ctx context.Context, cfg PostingStoreConfig) (*PostingStore, error) {
	pool, err := newPool(ctx, cfg.DSN, cfg.MaxConns, cfg.MinConns, cfg.MaxConnLifetime)
	if err != nil {
		return nil, err
	}
	return &PostingStore{pool: pool}, nil
}

// NewPostingStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewPostingStoreWithPool(pool dbPool) (*PostingStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PostingStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *PostingStore) Close() {
	s.pool.Close()
}

const postingColumns = `id, title, company, description, url, location, salary,
	job_type, experience_level, posted_at, source, source_native_id`

// Insert writes a posting and its fingerprint in one statement. A collision
// on any uniqueness constraint reports DuplicateConflict and writes nothing.
func (s *PostingStore) Insert(ctx context.Context, p jobs.Posting, fp jobs.Fingerprint) (jobs.InsertOutcome, error) {
	query := `
		INSERT INTO postings (
			id, title, company, description, url, location, salary,
			job_type, experience_level, posted_at, source, source_native_id,
			canonical_url, content_hash, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULLIF($12, ''), $13, $14, now())
		ON CONFLICT DO NOTHING;
	`
	tag, err := s.pool.Exec(ctx, query,
		p.ID,
		p.Title,
		p.Company,
		p.Description,
		p.URL,
		p.Location,
		p.Salary,
		p.JobType,
		p.ExperienceLevel,
		p.PostedAt,
		p.Source,
		p.SourceNativeID,
		fp.CanonicalURL,
		fp.ContentHash,
	)
	if err != nil {
		return jobs.Inserted, fmt.Errorf("insert posting: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobs.DuplicateConflict, nil
	}
	return jobs.Inserted, nil
}

// FindByNativeID looks a posting up by its source-assigned identifier.
func (s *PostingStore) FindByNativeID(ctx context.Context, source, nativeID string) (jobs.Posting, bool, error) {
	query := fmt.Sprintf(`SELECT %s FROM postings WHERE source = $1 AND source_native_id = $2;`, postingColumns)
	return s.findOne(ctx, query, source, nativeID)
}

// FindByCanonicalURL looks a posting up by canonical URL.
func (s *PostingStore) FindByCanonicalURL(ctx context.Context, canonicalURL string) (jobs.Posting, bool, error) {
	query := fmt.Sprintf(`SELECT %s FROM postings WHERE canonical_url = $1;`, postingColumns)
	return s.findOne(ctx, query, canonicalURL)
}

// FindByContentHash looks a posting up by content hash.
func (s *PostingStore) FindByContentHash(ctx context.Context, hash string) (jobs.Posting, bool, error) {
	query := fmt.Sprintf(`SELECT %s FROM postings WHERE content_hash = $1;`, postingColumns)
	return s.findOne(ctx, query, hash)
}

// FuzzyCandidates returns same-company postings whose title shares the given
// prefix, capped at limit.
func (s *PostingStore) FuzzyCandidates(ctx context.Context, company, titlePrefix string, limit int) ([]jobs.Posting, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM postings
		WHERE lower(company) = lower($1) AND title ILIKE $2 || '%%'
		ORDER BY posted_at DESC
		LIMIT $3;
	`, postingColumns)
	rows, err := s.pool.Query(ctx, query, company, titlePrefix, limit)
	if err != nil {
		return nil, fmt.Errorf("fuzzy candidates: %w", err)
	}
	defer rows.Close()

	var out []jobs.Posting
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fuzzy candidate: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fuzzy candidates rows: %w", err)
	}
	return out, nil
}

// RecordDuplicate appends an audit row for a rejected duplicate.
func (s *PostingStore) RecordDuplicate(ctx context.Context, rec jobs.DuplicateRecord) error {
	query := `
		INSERT INTO posting_duplicates (
			original_id, source, native_id, url, title, company, method, score, detected_at
		)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7, $8, $9);
	`
	_, err := s.pool.Exec(ctx, query,
		rec.OriginalID,
		rec.Source,
		rec.NativeID,
		rec.URL,
		rec.Title,
		rec.Company,
		string(rec.Method),
		rec.Score,
		rec.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("record duplicate: %w", err)
	}
	return nil
}

// DuplicateStats groups audit rows by detection method.
func (s *PostingStore) DuplicateStats(ctx context.Context) (map[jobs.DetectionMethod]int64, error) {
	query := `SELECT method, count(*) FROM posting_duplicates GROUP BY method;`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("duplicate stats: %w", err)
	}
	defer rows.Close()

	stats := map[jobs.DetectionMethod]int64{}
	for rows.Next() {
		var (
			method string
			count  int64
		)
		if err := rows.Scan(&method, &count); err != nil {
			return nil, fmt.Errorf("scan duplicate stats: %w", err)
		}
		stats[jobs.DetectionMethod(method)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("duplicate stats rows: %w", err)
	}
	return stats, nil
}

func (s *PostingStore) findOne(ctx context.Context, query string, args ...any) (jobs.Posting, bool, error) {
	row := s.pool.QueryRow(ctx, query, args...)
	p, err := scanPosting(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return jobs.Posting{}, false, nil
	}
	if err != nil {
		return jobs.Posting{}, false, fmt.Errorf("find posting: %w", err)
	}
	return p, true, nil
}

func scanPosting(row pgx.Row) (jobs.Posting, error) {
	var (
		p        jobs.Posting
		nativeID *string
	)
	err := row.Scan(
		&p.ID,
		&p.Title,
		&p.Company,
		&p.Description,
		&p.URL,
		&p.Location,
		&p.Salary,
		&p.JobType,
		&p.ExperienceLevel,
		&p.PostedAt,
		&p.Source,
		&nativeID,
	)
	if err != nil {
		return jobs.Posting{}, err
	}
	if nativeID != nil {
		p.SourceNativeID = *nativeID
	}
	return p, nil
}

func newPool(ctx context.Context, dsn string, maxConns, minConns int32, maxLifetime time.Duration) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}
	if minConns > 0 {
		poolCfg.MinConns = minConns
	}
	if maxLifetime > 0 {
		poolCfg.MaxConnLifetime = maxLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

var _ jobs.PostingStore = (*PostingStore)(nil)
