// Package memory provides in-memory store implementations used by tests and
// local development. They honor the same contracts as the postgres stores,
// including duplicate conflict reporting on insert.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jobradar/jobradar/internal/jobs"
)

// PostingStore keeps postings, fingerprints, and duplicate audit records in
// maps guarded by a mutex.
type PostingStore struct {
	mu         sync.Mutex
	byID       map[string]jobs.Posting
	byURL      map[string]string // canonical URL -> posting ID
	byHash     map[string]string // content hash -> posting ID
	byNative   map[string]string // source|native ID -> posting ID
	duplicates []jobs.DuplicateRecord
}

// NewPostingStore builds an empty PostingStore.
func NewPostingStore() *PostingStore {
	return &PostingStore{
		byID:     map[string]jobs.Posting{},
		byURL:    map[string]string{},
		byHash:   map[string]string{},
		byNative: map[string]string{},
	}
}

// Insert stores a posting and its fingerprint. A fingerprint collision
// reports DuplicateConflict and stores nothing, mirroring the database
// uniqueness constraints.
func (s *PostingStore) Insert(_ context.Context, p jobs.Posting, fp jobs.Fingerprint) (jobs.InsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byURL[fp.CanonicalURL]; ok {
		return jobs.DuplicateConflict, nil
	}
	if _, ok := s.byHash[fp.ContentHash]; ok {
		return jobs.DuplicateConflict, nil
	}
	s.byID[p.ID] = p
	s.byURL[fp.CanonicalURL] = p.ID
	s.byHash[fp.ContentHash] = p.ID
	if p.SourceNativeID != "" {
		s.byNative[nativeKey(p.Source, p.SourceNativeID)] = p.ID
	}
	return jobs.Inserted, nil
}

// FindByNativeID looks a posting up by its source-assigned identifier.
func (s *PostingStore) FindByNativeID(_ context.Context, source, nativeID string) (jobs.Posting, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(s.byNative[nativeKey(source, nativeID)])
}

// FindByCanonicalURL looks a posting up by canonical URL.
func (s *PostingStore) FindByCanonicalURL(_ context.Context, canonicalURL string) (jobs.Posting, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(s.byURL[canonicalURL])
}

// FindByContentHash looks a posting up by content hash.
func (s *PostingStore) FindByContentHash(_ context.Context, hash string) (jobs.Posting, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookup(s.byHash[hash])
}

// FuzzyCandidates returns postings from the same company whose title starts
// with the given prefix, capped at limit.
func (s *PostingStore) FuzzyCandidates(_ context.Context, company, titlePrefix string, limit int) ([]jobs.Posting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []jobs.Posting
	for _, p := range s.byID {
		if !strings.EqualFold(p.Company, company) {
			continue
		}
		if titlePrefix != "" && !strings.HasPrefix(strings.ToLower(p.Title), strings.ToLower(titlePrefix)) {
			continue
		}
		out = append(out, p)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// RecordDuplicate appends an audit record.
func (s *PostingStore) RecordDuplicate(_ context.Context, rec jobs.DuplicateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duplicates = append(s.duplicates, rec)
	return nil
}

// DuplicateStats groups audit records by detection method.
func (s *PostingStore) DuplicateStats(context.Context) (map[jobs.DetectionMethod]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := map[jobs.DetectionMethod]int64{}
	for _, d := range s.duplicates {
		stats[d.Method]++
	}
	return stats, nil
}

// Duplicates returns a copy of the audit records.
func (s *PostingStore) Duplicates() []jobs.DuplicateRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]jobs.DuplicateRecord(nil), s.duplicates...)
}

// Len reports the number of stored postings.
func (s *PostingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

func (s *PostingStore) lookup(id string) (jobs.Posting, bool, error) {
	if id == "" {
		return jobs.Posting{}, false, nil
	}
	p, ok := s.byID[id]
	return p, ok, nil
}

func nativeKey(source, nativeID string) string {
	return source + "|" + nativeID
}

// HistoryStore keeps crawl jobs in a map guarded by a mutex.
type HistoryStore struct {
	mu   sync.Mutex
	jobs map[string]jobs.CrawlJob
}

// NewHistoryStore builds an empty HistoryStore.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{jobs: map[string]jobs.CrawlJob{}}
}

// SaveJob upserts the full job record.
func (s *HistoryStore) SaveJob(_ context.Context, job jobs.CrawlJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

// UpdateStep replaces one step of a stored job.
func (s *HistoryStore) UpdateStep(_ context.Context, jobID string, step jobs.CrawlStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	for i := range job.Steps {
		if job.Steps[i].Name == step.Name {
			job.Steps[i] = step
			s.jobs[jobID] = job
			return nil
		}
	}
	return fmt.Errorf("job %s has no step %s", jobID, step.Name)
}

// GetJob returns a stored job.
func (s *HistoryStore) GetJob(_ context.Context, jobID string) (jobs.CrawlJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return jobs.CrawlJob{}, fmt.Errorf("job %s not found", jobID)
	}
	return job, nil
}

// Query lists jobs newest first, optionally filtered by source.
func (s *HistoryStore) Query(_ context.Context, source string, limit int) ([]jobs.CrawlJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []jobs.CrawlJob
	for _, job := range s.jobs {
		if source != "" && job.Source != source {
			continue
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var (
	_ jobs.PostingStore = (*PostingStore)(nil)
	_ jobs.HistoryStore = (*HistoryStore)(nil)
)
