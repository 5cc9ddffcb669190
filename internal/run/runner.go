package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jobradar/jobradar/internal/dedup"
	"github.com/jobradar/jobradar/internal/jobs"
	"github.com/jobradar/jobradar/internal/metrics"
)

const defaultEventTopic = "jobradar.postings"

// ProgressReporter lets a crawler report progress on the session and
// enumeration steps it owns internally.
type ProgressReporter interface {
	Start(ctx context.Context, name jobs.StepName)
	Progress(ctx context.Context, name jobs.StepName, pct int, message string)
	Complete(ctx context.Context, name jobs.StepName, message string, details jobs.StepDetails)
}

// ReportingCrawler is an optional capability: crawlers that drive a browser
// session implement it to surface their internal stages as pipeline steps.
type ReportingCrawler interface {
	CrawlWithProgress(ctx context.Context, maxPostings int, rep ProgressReporter) ([]jobs.Posting, error)
}

// Runner executes one crawl job: it walks the crawler's pipeline in order,
// feeds extracted postings through validation and the dedup engine, and
// releases crawler resources no matter where the run stopped.
type Runner struct {
	tracker   *Tracker
	engine    *dedup.Engine
	publisher jobs.Publisher
	topic     string
	budget    time.Duration
	logger    *zap.Logger
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithPublisher installs an event publisher for accepted postings.
func WithPublisher(p jobs.Publisher, topic string) RunnerOption {
	return func(r *Runner) {
		r.publisher = p
		if topic != "" {
			r.topic = topic
		}
	}
}

// WithAbandonBudget marks a run abandoned once it overstays the wall-clock
// budget. The run itself is never interrupted; if it finishes later, the real
// outcome replaces the abandoned status.
func WithAbandonBudget(d time.Duration) RunnerOption {
	return func(r *Runner) { r.budget = d }
}

// NewRunner builds a Runner.
func NewRunner(tracker *Tracker, engine *dedup.Engine, logger *zap.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		tracker: tracker,
		engine:  engine,
		topic:   defaultEventTopic,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes a full crawl for one source. The returned snapshot is the
// job's terminal state; err is the failure that stopped the run, nil when it
// completed.
func (r *Runner) Run(ctx context.Context, crawler jobs.SourceCrawler, maxPostings int, trigger jobs.TriggerOrigin) (jobs.CrawlJob, error) {
	start := time.Now()
	job := r.tracker.NewJob(ctx, crawler.Name(), crawler.Pipeline(), trigger)
	log := r.logger.With(zap.String("source", crawler.Name()), zap.String("job_id", job.ID()))
	log.Info("crawl job started", zap.String("trigger", string(trigger)))

	if r.budget > 0 {
		watchdog := time.AfterFunc(r.budget, func() {
			log.Warn("crawl job exceeded wall-clock budget", zap.Duration("budget", r.budget))
			job.Abandon(context.WithoutCancel(ctx), r.budget)
		})
		defer watchdog.Stop()
	}

	runErr := r.execute(ctx, job, crawler, maxPostings, log)

	r.cleanup(ctx, job, crawler, runErr != nil, log)
	snapshot := job.Finalize(ctx, summarize(job.Counters(), runErr))

	metrics.ObserveCrawlJob(snapshot.Source, string(snapshot.Status), time.Since(start))
	log.Info("crawl job finished",
		zap.String("status", string(snapshot.Status)),
		zap.Int("found", snapshot.Counters.Found),
		zap.Int("added", snapshot.Counters.Added),
		zap.Int("duplicate", snapshot.Counters.Duplicate),
		zap.Duration("duration", time.Since(start)),
	)
	return snapshot, runErr
}

func (r *Runner) execute(ctx context.Context, job *Job, crawler jobs.SourceCrawler, maxPostings int, log *zap.Logger) error {
	if err := r.initialize(ctx, job, crawler); err != nil {
		return err
	}
	if err := r.checkAvailability(ctx, job, crawler); err != nil {
		return err
	}

	postings, err := r.fetchAndExtract(ctx, job, crawler, maxPostings)
	if err != nil {
		return err
	}
	job.AddCounters(ctx, len(postings), 0, 0)

	valid, err := r.validate(ctx, job, postings, log)
	if err != nil {
		return err
	}

	accepted, duplicates, err := r.deduplicate(ctx, job, valid)
	if err != nil {
		return err
	}
	job.AddCounters(ctx, 0, len(accepted), duplicates)

	return r.persist(ctx, job, accepted, log)
}

func (r *Runner) initialize(ctx context.Context, job *Job, crawler jobs.SourceCrawler) error {
	if err := job.StartStep(ctx, jobs.StepInitialize); err != nil {
		return err
	}
	return job.CompleteStep(ctx, jobs.StepInitialize,
		fmt.Sprintf("crawler %s ready", crawler.Name()), jobs.StepDetails{})
}

func (r *Runner) checkAvailability(ctx context.Context, job *Job, crawler jobs.SourceCrawler) error {
	if err := job.StartStep(ctx, jobs.StepCheckAvailability); err != nil {
		return err
	}
	if !crawler.Available(ctx) {
		err := &jobs.NotAvailableError{Source: crawler.Name(), Reason: "availability probe failed"}
		_ = job.FailStep(ctx, jobs.StepCheckAvailability, err)
		return err
	}
	return job.CompleteStep(ctx, jobs.StepCheckAvailability, "source reachable", jobs.StepDetails{})
}

// fetchAndExtract runs the crawl itself. Reporting crawlers drive the
// session and enumeration steps through the reporter; plain crawlers get
// those steps skipped and everything attributed to FetchAndExtract.
func (r *Runner) fetchAndExtract(ctx context.Context, job *Job, crawler jobs.SourceCrawler, maxPostings int) ([]jobs.Posting, error) {
	pipeline := crawler.Pipeline()

	if rc, ok := crawler.(ReportingCrawler); ok {
		postings, err := rc.CrawlWithProgress(ctx, maxPostings, &jobReporter{job: job})
		if err != nil {
			r.failCrawlStep(ctx, job, pipeline, err)
			return nil, err
		}
		r.settleCrawlSteps(ctx, job, pipeline, len(postings))
		return postings, nil
	}

	for _, name := range pipeline {
		if name == jobs.StepEstablishSession || name == jobs.StepEnumerateTargets {
			_ = job.SkipStep(ctx, name, "handled inside crawler")
		}
	}

	if err := job.StartStep(ctx, jobs.StepFetchAndExtract); err != nil {
		return nil, err
	}
	postings, err := crawler.Crawl(ctx, maxPostings)
	if err != nil {
		_ = job.FailStep(ctx, jobs.StepFetchAndExtract, err)
		return nil, err
	}
	err = job.CompleteStep(ctx, jobs.StepFetchAndExtract,
		fmt.Sprintf("extracted %d postings", len(postings)),
		jobs.StepDetails{PostingsFound: len(postings)})
	return postings, err
}

// failCrawlStep attributes a crawl failure to whichever crawl-phase step was
// in flight, falling back to FetchAndExtract.
func (r *Runner) failCrawlStep(ctx context.Context, job *Job, pipeline []jobs.StepName, err error) {
	snapshot := job.Snapshot()
	for _, s := range snapshot.Steps {
		if crawlPhase(s.Name) && s.Status == jobs.StepRunning {
			_ = job.FailStep(ctx, s.Name, err)
			return
		}
	}
	for _, name := range pipeline {
		if name == jobs.StepFetchAndExtract {
			if startErr := job.StartStep(ctx, name); startErr == nil {
				_ = job.FailStep(ctx, name, err)
			}
			return
		}
	}
}

// settleCrawlSteps closes out any crawl-phase step the crawler left open.
func (r *Runner) settleCrawlSteps(ctx context.Context, job *Job, pipeline []jobs.StepName, found int) {
	snapshot := job.Snapshot()
	states := map[jobs.StepName]jobs.StepStatus{}
	for _, s := range snapshot.Steps {
		states[s.Name] = s.Status
	}
	for _, name := range pipeline {
		if !crawlPhase(name) {
			continue
		}
		switch states[name] {
		case jobs.StepRunning:
			details := jobs.StepDetails{}
			if name == jobs.StepFetchAndExtract {
				details.PostingsFound = found
			}
			_ = job.CompleteStep(ctx, name, "", details)
		case jobs.StepPending:
			_ = job.SkipStep(ctx, name, "not needed for this run")
		}
	}
}

func crawlPhase(name jobs.StepName) bool {
	switch name {
	case jobs.StepEstablishSession, jobs.StepEnumerateTargets, jobs.StepFetchAndExtract:
		return true
	}
	return false
}

func (r *Runner) validate(ctx context.Context, job *Job, postings []jobs.Posting, log *zap.Logger) ([]jobs.Posting, error) {
	if err := job.StartStep(ctx, jobs.StepValidate); err != nil {
		return nil, err
	}
	valid := postings[:0:0]
	dropped := 0
	for _, p := range postings {
		if err := p.Validate(); err != nil {
			dropped++
			metrics.ObservePosting(job.Source(), "dropped")
			log.Debug("posting dropped", zap.String("title", p.Title), zap.Error(err))
			continue
		}
		valid = append(valid, p)
	}
	err := job.CompleteStep(ctx, jobs.StepValidate,
		fmt.Sprintf("%d valid, %d dropped", len(valid), dropped),
		jobs.StepDetails{PostingsDropped: dropped})
	return valid, err
}

func (r *Runner) deduplicate(ctx context.Context, job *Job, postings []jobs.Posting) ([]jobs.Posting, int, error) {
	if err := job.StartStep(ctx, jobs.StepDeduplicate); err != nil {
		return nil, 0, err
	}

	var (
		accepted   []jobs.Posting
		duplicates int
	)
	for i, p := range postings {
		decision, err := r.engine.Check(ctx, p)
		if err != nil {
			var perr *jobs.PersistenceError
			if errors.As(err, &perr) {
				_ = job.FailStep(ctx, jobs.StepDeduplicate, err)
				return nil, 0, err
			}
			job.AddError(ctx, fmt.Sprintf("dedup check %q: %v", p.Title, err))
			continue
		}
		if decision.Duplicate {
			duplicates++
			metrics.ObservePosting(job.Source(), "duplicate")
		} else {
			p.ID = decision.PostingID
			accepted = append(accepted, p)
			metrics.ObservePosting(job.Source(), "added")
		}
		if len(postings) > 0 {
			job.Progress(ctx, jobs.StepDeduplicate, (i+1)*100/len(postings), "")
		}
	}

	err := job.CompleteStep(ctx, jobs.StepDeduplicate,
		fmt.Sprintf("%d new, %d duplicates", len(accepted), duplicates), jobs.StepDetails{})
	return accepted, duplicates, err
}

// persist fans accepted postings out to downstream consumers. Storage and
// indexing already happened inside the dedup engine; this step publishes the
// posting-added events.
func (r *Runner) persist(ctx context.Context, job *Job, accepted []jobs.Posting, log *zap.Logger) error {
	if err := job.StartStep(ctx, jobs.StepPersist); err != nil {
		return err
	}
	if r.publisher != nil {
		for _, p := range accepted {
			if _, err := r.publisher.Publish(ctx, r.topic, p); err != nil {
				// Events are best effort; the posting is already durable.
				log.Warn("posting event publish failed", zap.String("posting_id", p.ID), zap.Error(err))
				job.AddError(ctx, fmt.Sprintf("publish %s: %v", p.ID, err))
			}
		}
	}
	return job.CompleteStep(ctx, jobs.StepPersist,
		fmt.Sprintf("%d postings stored", len(accepted)), jobs.StepDetails{})
}

// cleanup releases crawler resources on every exit path. The step itself only
// transitions on successful runs; once a step has failed, every later step
// stays pending.
func (r *Runner) cleanup(ctx context.Context, job *Job, crawler jobs.SourceCrawler, failed bool, log *zap.Logger) {
	if !failed {
		_ = job.StartStep(ctx, jobs.StepCleanup)
	}
	if closer, ok := crawler.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.Warn("crawler close failed", zap.Error(err))
		}
	}
	if !failed {
		_ = job.CompleteStep(ctx, jobs.StepCleanup, "resources released", jobs.StepDetails{})
	}
}

func summarize(c jobs.JobCounters, runErr error) string {
	if runErr != nil {
		return fmt.Sprintf("stopped after %d found, %d added, %d duplicates: %v",
			c.Found, c.Added, c.Duplicate, runErr)
	}
	return fmt.Sprintf("%d found, %d added, %d duplicates", c.Found, c.Added, c.Duplicate)
}

// jobReporter adapts a Job to the ProgressReporter surface handed to
// reporting crawlers.
type jobReporter struct {
	job *Job
}

func (r *jobReporter) Start(ctx context.Context, name jobs.StepName) {
	_ = r.job.StartStep(ctx, name)
}

func (r *jobReporter) Progress(ctx context.Context, name jobs.StepName, pct int, message string) {
	r.job.Progress(ctx, name, pct, message)
}

func (r *jobReporter) Complete(ctx context.Context, name jobs.StepName, message string, details jobs.StepDetails) {
	_ = r.job.CompleteStep(ctx, name, message, details)
}
