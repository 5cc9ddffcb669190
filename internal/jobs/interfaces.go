package jobs

import (
	"context"
)

// SourceCrawler is implemented once per job board. Site-specific DOM and
// selector logic lives entirely behind this boundary.
type SourceCrawler interface {
	Name() string
	Pipeline() []StepName
	Available(ctx context.Context) bool
	Crawl(ctx context.Context, maxPostings int) ([]Posting, error)
}

// Extractor turns fetched HTML into candidate postings. It is internal to a
// SourceCrawler implementation.
type Extractor interface {
	Extract(html []byte, baseURL string) ([]Posting, error)
}

// SearchIndex is the persistence/serving collaborator that stores accepted
// postings. The core depends only on this contract, never on ranking or
// indexing internals.
type SearchIndex interface {
	Add(ctx context.Context, p Posting) (string, error)
	Exists(ctx context.Context, fp Fingerprint) (bool, error)
	Delete(ctx context.Context, id string) error
}

// InsertOutcome is the explicit result of a posting insert. A concurrent
// duplicate surfaces as DuplicateConflict, not as an error.
type InsertOutcome int

// Insert outcomes.
const (
	Inserted InsertOutcome = iota
	DuplicateConflict
)

// PostingStore persists posting metadata and fingerprints. Its uniqueness
// constraints on canonical URL and content hash are the final dedup arbiter
// under concurrency.
type PostingStore interface {
	Insert(ctx context.Context, p Posting, fp Fingerprint) (InsertOutcome, error)
	FindByNativeID(ctx context.Context, source, nativeID string) (Posting, bool, error)
	FindByCanonicalURL(ctx context.Context, canonicalURL string) (Posting, bool, error)
	FindByContentHash(ctx context.Context, hash string) (Posting, bool, error)
	FuzzyCandidates(ctx context.Context, company, titlePrefix string, limit int) ([]Posting, error)
	RecordDuplicate(ctx context.Context, rec DuplicateRecord) error
	DuplicateStats(ctx context.Context) (map[DetectionMethod]int64, error)
}

// HistoryStore persists crawl jobs and step transitions so another process
// can read current progress.
type HistoryStore interface {
	SaveJob(ctx context.Context, job CrawlJob) error
	UpdateStep(ctx context.Context, jobID string, step CrawlStep) error
	GetJob(ctx context.Context, jobID string) (CrawlJob, error)
	Query(ctx context.Context, source string, limit int) ([]CrawlJob, error)
}

// Publisher pushes posting events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore archives raw fetched pages and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}
