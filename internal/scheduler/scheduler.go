// Package scheduler triggers recurring full crawls on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/jobradar/jobradar/internal/jobs"
)

// CrawlRunner is the part of the orchestrator the scheduler needs.
type CrawlRunner interface {
	CrawlAll(ctx context.Context, trigger jobs.TriggerOrigin) jobs.CrawlResult
}

// Scheduler wraps a cron runner that kicks off scheduled crawls. Entries
// never overlap: a tick that arrives while a crawl is still running is
// skipped.
type Scheduler struct {
	cron    *cron.Cron
	runner  CrawlRunner
	logger  *zap.Logger
	running chan struct{}
}

// New builds a Scheduler.
func New(runner CrawlRunner, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	running := make(chan struct{}, 1)
	running <- struct{}{}
	return &Scheduler{
		cron:    cron.New(),
		runner:  runner,
		logger:  logger,
		running: running,
	}
}

// Add registers a crawl on the given cron spec.
func (s *Scheduler) Add(spec string) error {
	_, err := s.cron.AddFunc(spec, s.tick)
	if err != nil {
		return fmt.Errorf("add cron entry %q: %w", spec, err)
	}
	return nil
}

// Start begins running scheduled entries.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for a running entry to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) tick() {
	select {
	case <-s.running:
	default:
		s.logger.Warn("scheduled crawl skipped, previous run still in progress")
		return
	}
	defer func() { s.running <- struct{}{} }()

	start := time.Now()
	s.logger.Info("scheduled crawl starting")
	result := s.runner.CrawlAll(context.Background(), jobs.TriggerScheduled)
	s.logger.Info("scheduled crawl finished",
		zap.Int("total_added", result.TotalAdded),
		zap.Int("total_already_exist", result.TotalAlreadyExist),
		zap.Int("failed_sources", len(result.Errors)),
		zap.Duration("duration", time.Since(start)),
	)
}
