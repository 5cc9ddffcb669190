package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/jobradar/jobradar/internal/jobs"
)

var postingRowColumns = []string{
	"id", "title", "company", "description", "url", "location", "salary",
	"job_type", "experience_level", "posted_at", "source", "source_native_id",
}

func samplePosting() (jobs.Posting, jobs.Fingerprint) {
	p := jobs.Posting{
		ID:          "f3b6c2e4-1111-2222-3333-444455556666",
		Title:       "Go Engineer",
		Company:     "Acme",
		Description: "build crawlers in Go",
		URL:         "https://x.example/job/1",
		Location:    "Hanoi",
		Source:      "topboard",
		PostedAt:    time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
	return p, jobs.FingerprintFor(p)
}

func TestPostingStoreInsertNewRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostingStoreWithPool(mock)
	require.NoError(t, err)

	p, fp := samplePosting()
	mock.ExpectExec("INSERT INTO postings").
		WithArgs(
			p.ID, p.Title, p.Company, p.Description, p.URL, p.Location, p.Salary,
			p.JobType, p.ExperienceLevel, p.PostedAt, p.Source, p.SourceNativeID,
			fp.CanonicalURL, fp.ContentHash,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	outcome, err := store.Insert(context.Background(), p, fp)
	require.NoError(t, err)
	require.Equal(t, jobs.Inserted, outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostingStoreInsertConflictReportsDuplicate(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostingStoreWithPool(mock)
	require.NoError(t, err)

	p, fp := samplePosting()
	mock.ExpectExec("INSERT INTO postings").
		WithArgs(
			p.ID, p.Title, p.Company, p.Description, p.URL, p.Location, p.Salary,
			p.JobType, p.ExperienceLevel, p.PostedAt, p.Source, p.SourceNativeID,
			fp.CanonicalURL, fp.ContentHash,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	outcome, err := store.Insert(context.Background(), p, fp)
	require.NoError(t, err)
	require.Equal(t, jobs.DuplicateConflict, outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostingStoreFindByCanonicalURL(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostingStoreWithPool(mock)
	require.NoError(t, err)

	p, fp := samplePosting()
	rows := pgxmock.NewRows(postingRowColumns).AddRow(
		p.ID, p.Title, p.Company, p.Description, p.URL, p.Location, p.Salary,
		p.JobType, p.ExperienceLevel, p.PostedAt, p.Source, (*string)(nil),
	)
	mock.ExpectQuery("SELECT .+ FROM postings WHERE canonical_url").
		WithArgs(fp.CanonicalURL).
		WillReturnRows(rows)

	got, found, err := store.FindByCanonicalURL(context.Background(), fp.CanonicalURL)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, p.ID, got.ID)
	require.Equal(t, p.Title, got.Title)
	require.Empty(t, got.SourceNativeID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostingStoreFindMissRowIsNotAnError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostingStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT .+ FROM postings WHERE content_hash").
		WithArgs("deadbeef").
		WillReturnError(pgx.ErrNoRows)

	_, found, err := store.FindByContentHash(context.Background(), "deadbeef")
	require.NoError(t, err)
	require.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostingStoreFuzzyCandidates(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostingStoreWithPool(mock)
	require.NoError(t, err)

	p, _ := samplePosting()
	native := "1833111"
	rows := pgxmock.NewRows(postingRowColumns).AddRow(
		p.ID, p.Title, p.Company, p.Description, p.URL, p.Location, p.Salary,
		p.JobType, p.ExperienceLevel, p.PostedAt, p.Source, &native,
	)
	mock.ExpectQuery("SELECT .+ FROM postings").
		WithArgs("Acme", "Go Engineer", 25).
		WillReturnRows(rows)

	got, err := store.FuzzyCandidates(context.Background(), "Acme", "Go Engineer", 25)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "1833111", got[0].SourceNativeID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostingStoreRecordDuplicateAndStats(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPostingStoreWithPool(mock)
	require.NoError(t, err)

	rec := jobs.DuplicateRecord{
		OriginalID: "f3b6c2e4-1111-2222-3333-444455556666",
		Source:     "topboard",
		URL:        "https://x.example/job/1?utm=feed",
		Title:      "Go Engineer",
		Company:    "Acme",
		Method:     jobs.MethodURLMatch,
		DetectedAt: time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC),
	}
	mock.ExpectExec("INSERT INTO posting_duplicates").
		WithArgs(
			rec.OriginalID, rec.Source, rec.NativeID, rec.URL, rec.Title,
			rec.Company, string(rec.Method), rec.Score, rec.DetectedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, store.RecordDuplicate(context.Background(), rec))

	statRows := pgxmock.NewRows([]string{"method", "count"}).
		AddRow("url-match", int64(41)).
		AddRow("fuzzy-match", int64(3))
	mock.ExpectQuery("SELECT method, count").WillReturnRows(statRows)

	stats, err := store.DuplicateStats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(41), stats[jobs.MethodURLMatch])
	require.Equal(t, int64(3), stats[jobs.MethodFuzzyMatch])
	require.NoError(t, mock.ExpectationsWereMet())
}
