package dedup

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jobradar/jobradar/internal/jobs"
)

type fakeStore struct {
	mu         sync.Mutex
	byURL      map[string]jobs.Posting
	byHash     map[string]jobs.Posting
	byNative   map[string]jobs.Posting
	duplicates []jobs.DuplicateRecord
	// forceConflict makes the next Insert report a constraint violation.
	forceConflict bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		byURL:    map[string]jobs.Posting{},
		byHash:   map[string]jobs.Posting{},
		byNative: map[string]jobs.Posting{},
	}
}

func (s *fakeStore) Insert(_ context.Context, p jobs.Posting, fp jobs.Fingerprint) (jobs.InsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forceConflict {
		s.forceConflict = false
		return jobs.DuplicateConflict, nil
	}
	if _, ok := s.byURL[fp.CanonicalURL]; ok {
		return jobs.DuplicateConflict, nil
	}
	if _, ok := s.byHash[fp.ContentHash]; ok {
		return jobs.DuplicateConflict, nil
	}
	s.byURL[fp.CanonicalURL] = p
	s.byHash[fp.ContentHash] = p
	if p.SourceNativeID != "" {
		s.byNative[p.Source+"|"+p.SourceNativeID] = p
	}
	return jobs.Inserted, nil
}

func (s *fakeStore) FindByNativeID(_ context.Context, source, nativeID string) (jobs.Posting, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byNative[source+"|"+nativeID]
	return p, ok, nil
}

func (s *fakeStore) FindByCanonicalURL(_ context.Context, canonicalURL string) (jobs.Posting, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byURL[canonicalURL]
	return p, ok, nil
}

func (s *fakeStore) FindByContentHash(_ context.Context, hash string) (jobs.Posting, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byHash[hash]
	return p, ok, nil
}

func (s *fakeStore) FuzzyCandidates(_ context.Context, company, titlePrefix string, limit int) ([]jobs.Posting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []jobs.Posting
	for _, p := range s.byURL {
		if strings.EqualFold(p.Company, company) && len(out) < limit {
			out = append(out, p)
		}
	}
	_ = titlePrefix
	return out, nil
}

func (s *fakeStore) RecordDuplicate(_ context.Context, rec jobs.DuplicateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duplicates = append(s.duplicates, rec)
	return nil
}

func (s *fakeStore) DuplicateStats(context.Context) (map[jobs.DetectionMethod]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := map[jobs.DetectionMethod]int64{}
	for _, d := range s.duplicates {
		stats[d.Method]++
	}
	return stats, nil
}

type fakeIndex struct {
	mu      sync.Mutex
	nextID  int
	added   []jobs.Posting
	deleted []string
}

func (f *fakeIndex) Add(_ context.Context, p jobs.Posting) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.added = append(f.added, p)
	return fmt.Sprintf("idx-%d", f.nextID), nil
}

func (f *fakeIndex) Exists(context.Context, jobs.Fingerprint) (bool, error) { return false, nil }

func (f *fakeIndex) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func basePosting() jobs.Posting {
	return jobs.Posting{
		Title:       "Go Engineer",
		Company:     "Acme",
		Description: "build crawlers in Go",
		URL:         "https://x.example/job/1?utm=abc",
		Source:      "topboard",
		PostedAt:    time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestEngine_NewThenDuplicate(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	engine := New(store, &fakeIndex{}, zap.NewNop())

	first, err := engine.Check(context.Background(), basePosting())
	require.NoError(t, err)
	require.False(t, first.Duplicate)
	require.NotEmpty(t, first.PostingID)

	second, err := engine.Check(context.Background(), basePosting())
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, first.PostingID, second.OriginalID)
	require.Len(t, store.duplicates, 1)
}

func TestEngine_URLMatchIgnoresTrackingParams(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	engine := New(store, &fakeIndex{}, zap.NewNop())

	_, err := engine.Check(context.Background(), basePosting())
	require.NoError(t, err)

	clean := basePosting()
	clean.URL = "https://x.example/job/1"
	clean.Description = "different text entirely so only the URL can match"
	clean.Title = "Completely Different Role"
	clean.Company = "Acme"

	decision, err := engine.Check(context.Background(), clean)
	require.NoError(t, err)
	require.True(t, decision.Duplicate)
	require.Equal(t, jobs.MethodURLMatch, decision.Method)
}

func TestEngine_NativeIDMatchWinsFirst(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	engine := New(store, &fakeIndex{}, zap.NewNop())

	p := basePosting()
	p.SourceNativeID = "1833111"
	_, err := engine.Check(context.Background(), p)
	require.NoError(t, err)

	relisted := p
	relisted.URL = "https://x.example/job/1-relisted"
	relisted.Description = "reworded description"

	decision, err := engine.Check(context.Background(), relisted)
	require.NoError(t, err)
	require.True(t, decision.Duplicate)
	require.Equal(t, jobs.MethodIDMatch, decision.Method)
}

func TestEngine_HashMatchWhenURLDiffers(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	engine := New(store, &fakeIndex{}, zap.NewNop())

	_, err := engine.Check(context.Background(), basePosting())
	require.NoError(t, err)

	mirrored := basePosting()
	mirrored.URL = "https://mirror.example/listing/99"
	mirrored.Title = "  go   ENGINEER "

	decision, err := engine.Check(context.Background(), mirrored)
	require.NoError(t, err)
	require.True(t, decision.Duplicate)
	require.Equal(t, jobs.MethodHashMatch, decision.Method)
}

func TestEngine_SurrogateURLDedupesPostingsWithoutURL(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	engine := New(store, &fakeIndex{}, zap.NewNop())

	p := basePosting()
	p.URL = ""
	p.Location = "Hanoi"
	_, err := engine.Check(context.Background(), p)
	require.NoError(t, err)

	again := p
	again.Description = "reworded enough to change the content hash"

	decision, err := engine.Check(context.Background(), again)
	require.NoError(t, err)
	require.True(t, decision.Duplicate)
	require.Equal(t, jobs.MethodURLMatch, decision.Method)
}

func TestEngine_FuzzyMatchNearIdenticalRepost(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	engine := New(store, &fakeIndex{}, zap.NewNop())

	p := basePosting()
	p.Title = strings.Repeat("a", 23) + strings.Repeat("b", 7)
	_, err := engine.Check(context.Background(), p)
	require.NoError(t, err)

	repost := p
	repost.Title = strings.Repeat("a", 23) + strings.Repeat("c", 7)
	repost.URL = "https://x.example/job/2"
	repost.Description = "reworded description for the repost"

	decision, err := engine.Check(context.Background(), repost)
	require.NoError(t, err)
	require.True(t, decision.Duplicate)
	require.Equal(t, jobs.MethodFuzzyMatch, decision.Method)
	require.Greater(t, decision.Score, FuzzyThreshold)
}

func TestEngine_InsertRaceIsDuplicateNotError(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	index := &fakeIndex{}
	engine := New(store, index, zap.NewNop())

	// Simulate a concurrent winner: the upfront checks see nothing, the
	// constraint fires on insert.
	store.forceConflict = true

	decision, err := engine.Check(context.Background(), basePosting())
	require.NoError(t, err)
	require.True(t, decision.Duplicate)
	require.Equal(t, jobs.MethodURLMatch, decision.Method)
	require.Len(t, index.deleted, 1, "orphaned index entry must be compensated")
}

func TestEngine_Stats(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	engine := New(store, &fakeIndex{}, zap.NewNop())

	_, err := engine.Check(context.Background(), basePosting())
	require.NoError(t, err)
	_, err = engine.Check(context.Background(), basePosting())
	require.NoError(t, err)

	stats, err := engine.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), stats[jobs.MethodURLMatch])
}
