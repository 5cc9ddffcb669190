package run

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/jobradar/jobradar/internal/jobs"
)

const defaultCompletedCacheSize = 256

// Tracker owns the lifecycle of crawl jobs: it creates them, writes every
// transition through to the history store, and answers status polls. Active
// jobs live in memory; finished ones move to a bounded cache with the history
// store as the durable fallback.
type Tracker struct {
	history   jobs.HistoryStore
	logger    *zap.Logger
	now       func() time.Time
	completed *lru.Cache[string, jobs.CrawlJob]

	mu     sync.Mutex // guards active
	active map[string]*Job
}

// TrackerOption customizes a Tracker.
type TrackerOption func(*Tracker)

// WithTrackerClock overrides the timestamp source.
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// NewTracker builds a Tracker. history may be nil for purely in-memory use.
func NewTracker(history jobs.HistoryStore, logger *zap.Logger, opts ...TrackerOption) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	completed, _ := lru.New[string, jobs.CrawlJob](defaultCompletedCacheSize)
	t := &Tracker{
		history:   history,
		logger:    logger,
		now:       time.Now,
		active:    map[string]*Job{},
		completed: completed,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewJob registers a fresh job for the given source and pipeline and persists
// its initial state.
func (t *Tracker) NewJob(ctx context.Context, source string, pipeline []jobs.StepName, trigger jobs.TriggerOrigin) *Job {
	job := &Job{
		tracker: t,
		job:     newCrawlJob(source, pipeline, trigger, t.now().UTC()),
	}

	t.mu.Lock()
	t.active[job.job.ID] = job
	t.mu.Unlock()

	t.persistJob(ctx, job)
	return job
}

// Get returns a snapshot of a job by ID. Active jobs and recently completed
// jobs come from memory; older ones fall through to the history store.
func (t *Tracker) Get(ctx context.Context, jobID string) (jobs.CrawlJob, error) {
	t.mu.Lock()
	handle, ok := t.active[jobID]
	t.mu.Unlock()
	if ok {
		return handle.Snapshot(), nil
	}

	if job, ok := t.completed.Get(jobID); ok {
		return cloneJob(job), nil
	}

	if t.history == nil {
		return jobs.CrawlJob{}, fmt.Errorf("job %s not found", jobID)
	}
	job, err := t.history.GetJob(ctx, jobID)
	if err != nil {
		return jobs.CrawlJob{}, fmt.Errorf("job %s: %w", jobID, err)
	}
	return job, nil
}

// Query lists recent jobs, optionally filtered by source.
func (t *Tracker) Query(ctx context.Context, source string, limit int) ([]jobs.CrawlJob, error) {
	if t.history == nil {
		return t.queryMemory(source, limit), nil
	}
	out, err := t.history.Query(ctx, source, limit)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	return out, nil
}

// Active returns snapshots of all in-flight jobs.
func (t *Tracker) Active() []jobs.CrawlJob {
	t.mu.Lock()
	handles := make([]*Job, 0, len(t.active))
	for _, h := range t.active {
		handles = append(handles, h)
	}
	t.mu.Unlock()

	out := make([]jobs.CrawlJob, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.Snapshot())
	}
	return out
}

func (t *Tracker) queryMemory(source string, limit int) []jobs.CrawlJob {
	var out []jobs.CrawlJob
	for _, id := range t.completed.Keys() {
		job, ok := t.completed.Get(id)
		if !ok {
			continue
		}
		if source != "" && job.Source != source {
			continue
		}
		out = append(out, cloneJob(job))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// retire moves a finalized job out of the active set.
func (t *Tracker) retire(ctx context.Context, j *Job, snapshot jobs.CrawlJob) {
	t.mu.Lock()
	delete(t.active, snapshot.ID)
	t.mu.Unlock()
	t.completed.Add(snapshot.ID, snapshot)

	t.writeJob(ctx, snapshot)
}

// persistStep writes one step transition through to the history store.
// History writes are observability; a failed write is logged, never fatal to
// the run.
func (t *Tracker) persistStep(ctx context.Context, j *Job, step jobs.CrawlStep) {
	t.persistJob(ctx, j)
	if t.history == nil {
		return
	}
	if err := t.history.UpdateStep(ctx, j.ID(), step); err != nil {
		t.logger.Warn("step history write failed",
			zap.String("job_id", j.ID()),
			zap.String("step", string(step.Name)),
			zap.Error(err),
		)
	}
}

func (t *Tracker) persistJob(ctx context.Context, j *Job) {
	t.writeJob(ctx, j.Snapshot())
}

func (t *Tracker) writeJob(ctx context.Context, snapshot jobs.CrawlJob) {
	if t.history == nil {
		return
	}
	if err := t.history.SaveJob(ctx, snapshot); err != nil {
		t.logger.Warn("job history write failed",
			zap.String("job_id", snapshot.ID),
			zap.Error(err),
		)
	}
}
