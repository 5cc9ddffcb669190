// Package dedup implements the multi-tier duplicate detection engine that
// keeps the same posting from being stored twice across sources and over
// time.
package dedup

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jobradar/jobradar/internal/jobs"
	"github.com/jobradar/jobradar/internal/metrics"
)

// Checks run cheap-first: native id, canonical URL, content hash, then the
// fuzzy pass over a bounded candidate set.
const fuzzyCandidateLimit = 25

// Decision is the outcome of one dedup check.
type Decision struct {
	Duplicate  bool
	Method     jobs.DetectionMethod
	Score      float64
	OriginalID string
	PostingID  string // set when the posting was accepted and stored
}

// FingerprintCache is an optional fast path in front of the store lookups:
// it maps fingerprint keys to posting IDs. Misses always fall through to the
// store; the cache is never authoritative for correctness.
type FingerprintCache interface {
	Lookup(ctx context.Context, key string) (string, bool, error)
	Store(ctx context.Context, key, postingID string) error
}

// Engine decides whether candidate postings are new or duplicates, persists
// the new ones, and records audit evidence for the rejected ones.
type Engine struct {
	store  jobs.PostingStore
	index  jobs.SearchIndex
	cache  FingerprintCache
	logger *zap.Logger
	now    func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithCache installs a fingerprint cache.
func WithCache(cache FingerprintCache) Option {
	return func(e *Engine) { e.cache = cache }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an Engine.
func New(store jobs.PostingStore, index jobs.SearchIndex, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:  store,
		index:  index,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Check classifies a posting. On New it persists the posting and its
// fingerprint before returning; on Duplicate it appends an audit record and
// stores nothing.
func (e *Engine) Check(ctx context.Context, p jobs.Posting) (Decision, error) {
	fp := jobs.FingerprintFor(p)

	original, method, score, err := e.findDuplicate(ctx, p, fp)
	if err != nil {
		return Decision{}, err
	}
	if original != nil {
		return e.reject(ctx, p, *original, method, score)
	}

	return e.accept(ctx, p, fp)
}

// Stats reports duplicate totals grouped by detection method.
func (e *Engine) Stats(ctx context.Context) (map[jobs.DetectionMethod]int64, error) {
	stats, err := e.store.DuplicateStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("duplicate stats: %w", err)
	}
	return stats, nil
}

func (e *Engine) findDuplicate(
	ctx context.Context,
	p jobs.Posting,
	fp jobs.Fingerprint,
) (*jobs.Posting, jobs.DetectionMethod, float64, error) {
	if p.SourceNativeID != "" {
		existing, found, err := e.store.FindByNativeID(ctx, p.Source, p.SourceNativeID)
		if err != nil {
			return nil, "", 0, fmt.Errorf("native id lookup: %w", err)
		}
		if found {
			return &existing, jobs.MethodIDMatch, 0, nil
		}
	}

	if existing, found, err := e.lookupURL(ctx, fp.CanonicalURL); err != nil {
		return nil, "", 0, err
	} else if found {
		return &existing, jobs.MethodURLMatch, 0, nil
	}

	if existing, found, err := e.lookupHash(ctx, fp.ContentHash); err != nil {
		return nil, "", 0, err
	} else if found {
		return &existing, jobs.MethodHashMatch, 0, nil
	}

	existing, score, err := e.fuzzyMatch(ctx, p)
	if err != nil {
		return nil, "", 0, err
	}
	if existing != nil {
		return existing, jobs.MethodFuzzyMatch, score, nil
	}
	return nil, "", 0, nil
}

func (e *Engine) lookupURL(ctx context.Context, canonicalURL string) (jobs.Posting, bool, error) {
	if id, hit := e.cacheLookup(ctx, urlKey(canonicalURL)); hit {
		return jobs.Posting{ID: id, URL: canonicalURL}, true, nil
	}
	existing, found, err := e.store.FindByCanonicalURL(ctx, canonicalURL)
	if err != nil {
		return jobs.Posting{}, false, fmt.Errorf("url lookup: %w", err)
	}
	return existing, found, nil
}

func (e *Engine) lookupHash(ctx context.Context, hash string) (jobs.Posting, bool, error) {
	if id, hit := e.cacheLookup(ctx, hashKey(hash)); hit {
		return jobs.Posting{ID: id}, true, nil
	}
	existing, found, err := e.store.FindByContentHash(ctx, hash)
	if err != nil {
		return jobs.Posting{}, false, fmt.Errorf("hash lookup: %w", err)
	}
	return existing, found, nil
}

func (e *Engine) fuzzyMatch(ctx context.Context, p jobs.Posting) (*jobs.Posting, float64, error) {
	prefix := TitlePrefix(p.Title, 3)
	candidates, err := e.store.FuzzyCandidates(ctx, p.Company, prefix, fuzzyCandidateLimit)
	if err != nil {
		return nil, 0, fmt.Errorf("fuzzy candidates: %w", err)
	}

	var (
		best      *jobs.Posting
		bestScore float64
	)
	for i := range candidates {
		score := PostingSimilarity(candidates[i], p)
		if score > bestScore {
			best = &candidates[i]
			bestScore = score
		}
	}
	if best != nil && bestScore > FuzzyThreshold {
		return best, bestScore, nil
	}
	return nil, 0, nil
}

func (e *Engine) reject(
	ctx context.Context,
	p jobs.Posting,
	original jobs.Posting,
	method jobs.DetectionMethod,
	score float64,
) (Decision, error) {
	rec := jobs.DuplicateRecord{
		OriginalID: original.ID,
		Source:     p.Source,
		NativeID:   p.SourceNativeID,
		URL:        p.URL,
		Title:      p.Title,
		Company:    p.Company,
		Method:     method,
		Score:      score,
		DetectedAt: e.now().UTC(),
	}
	if err := e.store.RecordDuplicate(ctx, rec); err != nil {
		// The duplicate verdict stands even if the audit write fails.
		e.logger.Warn("duplicate audit write failed",
			zap.String("source", p.Source),
			zap.String("method", string(method)),
			zap.Error(err),
		)
	}
	metrics.ObserveDedupDecision(string(method))
	return Decision{Duplicate: true, Method: method, Score: score, OriginalID: original.ID}, nil
}

func (e *Engine) accept(ctx context.Context, p jobs.Posting, fp jobs.Fingerprint) (Decision, error) {
	id, err := e.index.Add(ctx, p)
	if err != nil {
		return Decision{}, &jobs.PersistenceError{Op: "index add", Err: err}
	}
	p.ID = id

	outcome, err := e.store.Insert(ctx, p, fp)
	if err != nil {
		e.compensateIndex(ctx, id)
		return Decision{}, &jobs.PersistenceError{Op: "posting insert", Err: err}
	}
	if outcome == jobs.DuplicateConflict {
		// A concurrent caller won the insert race. The constraint is the
		// final arbiter: this is a normal duplicate outcome, not an error.
		e.compensateIndex(ctx, id)
		original, found, lookupErr := e.store.FindByCanonicalURL(ctx, fp.CanonicalURL)
		if lookupErr != nil || !found {
			original = jobs.Posting{}
		}
		return e.reject(ctx, p, original, jobs.MethodURLMatch, 0)
	}

	e.cacheStore(ctx, urlKey(fp.CanonicalURL), id)
	e.cacheStore(ctx, hashKey(fp.ContentHash), id)
	metrics.ObserveDedupDecision("new")
	return Decision{PostingID: id}, nil
}

// compensateIndex removes an index entry whose metadata row never landed.
func (e *Engine) compensateIndex(ctx context.Context, id string) {
	if err := e.index.Delete(ctx, id); err != nil {
		e.logger.Warn("index compensation failed", zap.String("posting_id", id), zap.Error(err))
	}
}

func (e *Engine) cacheLookup(ctx context.Context, key string) (string, bool) {
	if e.cache == nil {
		return "", false
	}
	id, hit, err := e.cache.Lookup(ctx, key)
	if err != nil {
		e.logger.Debug("fingerprint cache lookup failed", zap.String("key", key), zap.Error(err))
		return "", false
	}
	return id, hit
}

func (e *Engine) cacheStore(ctx context.Context, key, id string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Store(ctx, key, id); err != nil {
		e.logger.Debug("fingerprint cache store failed", zap.String("key", key), zap.Error(err))
	}
}

func urlKey(canonicalURL string) string { return "url:" + canonicalURL }

func hashKey(hash string) string { return "hash:" + hash }
