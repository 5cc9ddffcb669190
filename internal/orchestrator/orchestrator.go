// Package orchestrator fans a crawl request out across registered sources,
// isolates their failures from one another, and aggregates the per-source
// outcomes into a single report.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jobradar/jobradar/internal/jobs"
	"github.com/jobradar/jobradar/internal/metrics"
	"github.com/jobradar/jobradar/internal/run"
)

// Orchestrator owns the source registry and runs crawls through a Runner.
// Sources are registered at startup; registration is not safe to interleave
// with crawling.
type Orchestrator struct {
	runner       *run.Runner
	logger       *zap.Logger
	maxPerSource int

	mu       sync.RWMutex
	crawlers map[string]jobs.SourceCrawler
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithMaxPerSource caps how many postings each source may yield per run.
// Zero means no cap.
func WithMaxPerSource(n int) Option {
	return func(o *Orchestrator) { o.maxPerSource = n }
}

// New builds an Orchestrator.
func New(runner *run.Runner, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		runner:   runner,
		logger:   logger,
		crawlers: map[string]jobs.SourceCrawler{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Register adds a source crawler. Registering the same name twice replaces
// the earlier crawler.
func (o *Orchestrator) Register(c jobs.SourceCrawler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.crawlers[c.Name()] = c
}

// Sources lists registered source names, sorted.
func (o *Orchestrator) Sources() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, 0, len(o.crawlers))
	for name := range o.crawlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CrawlAll runs every registered source in parallel. One source failing, or
// even panicking, never stops the others; its outcome lands in the aggregate
// as an error entry.
func (o *Orchestrator) CrawlAll(ctx context.Context, trigger jobs.TriggerOrigin) jobs.CrawlResult {
	start := time.Now()

	o.mu.RLock()
	crawlers := make([]jobs.SourceCrawler, 0, len(o.crawlers))
	for _, c := range o.crawlers {
		crawlers = append(crawlers, c)
	}
	o.mu.RUnlock()

	o.logger.Info("orchestrated crawl started",
		zap.Int("sources", len(crawlers)),
		zap.String("trigger", string(trigger)),
	)

	results := make(chan jobs.SourceResult, len(crawlers))
	var wg sync.WaitGroup
	for _, c := range crawlers {
		wg.Add(1)
		go func(c jobs.SourceCrawler) {
			defer wg.Done()
			results <- o.crawlSource(ctx, c, trigger)
		}(c)
	}
	wg.Wait()
	close(results)

	out := jobs.CrawlResult{Sources: map[string]jobs.SourceResult{}}
	for res := range results {
		out.Sources[res.Source] = res
		out.TotalCrawled += res.Crawled
		out.TotalAdded += res.Added
		out.TotalAlreadyExist += res.Duplicates
		if res.Error != "" {
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %s", res.Source, res.Error))
		}
	}
	sort.Strings(out.Errors)
	out.Duration = time.Since(start)

	o.logger.Info("orchestrated crawl finished",
		zap.Int("total_crawled", out.TotalCrawled),
		zap.Int("total_added", out.TotalAdded),
		zap.Int("total_already_exist", out.TotalAlreadyExist),
		zap.Int("failed_sources", len(out.Errors)),
		zap.Duration("duration", out.Duration),
	)
	return out
}

// CrawlOne runs a single source by name.
func (o *Orchestrator) CrawlOne(ctx context.Context, source string, trigger jobs.TriggerOrigin) (jobs.SourceResult, error) {
	o.mu.RLock()
	c, ok := o.crawlers[source]
	o.mu.RUnlock()
	if !ok {
		return jobs.SourceResult{}, fmt.Errorf("unknown source %q, available: %s",
			source, strings.Join(o.Sources(), ", "))
	}
	res := o.crawlSource(ctx, c, trigger)
	if res.Error != "" {
		return res, fmt.Errorf("crawl %s: %s", source, res.Error)
	}
	return res, nil
}

func (o *Orchestrator) crawlSource(ctx context.Context, c jobs.SourceCrawler, trigger jobs.TriggerOrigin) (res jobs.SourceResult) {
	start := time.Now()
	res.Source = c.Name()

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("source crawler panicked",
				zap.String("source", c.Name()),
				zap.Any("panic", r),
			)
			res.Error = fmt.Sprintf("crawler panic: %v", r)
			res.Duration = time.Since(start)
		}
	}()

	metrics.CrawlStarted()
	defer metrics.CrawlFinished()

	job, err := o.runner.Run(ctx, c, o.maxPerSource, trigger)
	res.JobID = job.ID
	res.Crawled = job.Counters.Found
	res.Added = job.Counters.Added
	res.Duplicates = job.Counters.Duplicate
	res.Duration = time.Since(start)
	if res.Crawled > 0 {
		res.SuccessRate = float64(res.Added) / float64(res.Crawled)
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}
