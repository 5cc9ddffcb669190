// Package run implements the crawl job state machine: fixed step pipelines,
// derived job status, incremental counters, and the tracker that keeps
// progress observable across goroutines and processes.
package run

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jobradar/jobradar/internal/jobs"
)

// Job is the mutable handle for one crawl run. All mutations go through its
// mutex so concurrent status polls see consistent snapshots; only the run's
// executing goroutine should call the transition methods.
type Job struct {
	mu      sync.Mutex
	tracker *Tracker
	job     jobs.CrawlJob
	final   bool
}

// ID returns the job's identifier.
func (j *Job) ID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.job.ID
}

// Source returns the source the job runs against.
func (j *Job) Source() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.job.Source
}

// Snapshot returns a deep copy safe to hand to pollers.
func (j *Job) Snapshot() jobs.CrawlJob {
	j.mu.Lock()
	defer j.mu.Unlock()
	return cloneJob(j.job)
}

// Counters returns the current counter values.
func (j *Job) Counters() jobs.JobCounters {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.job.Counters
}

// StartStep moves a pending step to running. Starting a step that is not
// pending, or while another step is still running, is a programming error.
func (j *Job) StartStep(ctx context.Context, name jobs.StepName) error {
	j.mu.Lock()
	step := j.findStep(name)
	if step == nil {
		j.mu.Unlock()
		return fmt.Errorf("job %s has no step %s", j.job.ID, name)
	}
	if step.Status != jobs.StepPending {
		j.mu.Unlock()
		return fmt.Errorf("step %s is %s, not pending", name, step.Status)
	}
	for i := range j.job.Steps {
		if j.job.Steps[i].Status == jobs.StepRunning {
			j.mu.Unlock()
			return fmt.Errorf("step %s cannot start while %s is running", name, j.job.Steps[i].Name)
		}
	}
	now := j.tracker.now().UTC()
	step.Status = jobs.StepRunning
	step.StartedAt = &now
	step.Message = ""
	j.job.Status = jobs.DeriveStatus(j.job.Steps)
	snapshot := *step
	j.mu.Unlock()

	j.tracker.persistStep(ctx, j, snapshot)
	return nil
}

// Progress updates a running step's progress percentage and message.
func (j *Job) Progress(ctx context.Context, name jobs.StepName, pct int, message string) {
	j.mu.Lock()
	step := j.findStep(name)
	if step == nil || step.Status != jobs.StepRunning {
		j.mu.Unlock()
		return
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	step.Progress = pct
	step.Message = message
	snapshot := *step
	j.mu.Unlock()

	j.tracker.persistStep(ctx, j, snapshot)
}

// CompleteStep moves a running step to completed.
func (j *Job) CompleteStep(ctx context.Context, name jobs.StepName, message string, details jobs.StepDetails) error {
	return j.finishStep(ctx, name, jobs.StepCompleted, message, "", details)
}

// FailStep moves a running step to failed and records the error on the job.
// Later steps are never started; the job derives as failed.
func (j *Job) FailStep(ctx context.Context, name jobs.StepName, stepErr error) error {
	msg := ""
	if stepErr != nil {
		msg = stepErr.Error()
	}
	return j.finishStep(ctx, name, jobs.StepFailed, "", msg, jobs.StepDetails{})
}

// SkipStep marks a pending step skipped.
func (j *Job) SkipStep(ctx context.Context, name jobs.StepName, reason string) error {
	j.mu.Lock()
	step := j.findStep(name)
	if step == nil {
		j.mu.Unlock()
		return fmt.Errorf("job %s has no step %s", j.job.ID, name)
	}
	if step.Status != jobs.StepPending {
		j.mu.Unlock()
		return fmt.Errorf("step %s is %s, not pending", name, step.Status)
	}
	step.Status = jobs.StepSkipped
	step.Message = reason
	j.job.Status = jobs.DeriveStatus(j.job.Steps)
	snapshot := *step
	j.mu.Unlock()

	j.tracker.persistStep(ctx, j, snapshot)
	return nil
}

func (j *Job) finishStep(
	ctx context.Context,
	name jobs.StepName,
	status jobs.StepStatus,
	message, errText string,
	details jobs.StepDetails,
) error {
	j.mu.Lock()
	step := j.findStep(name)
	if step == nil {
		j.mu.Unlock()
		return fmt.Errorf("job %s has no step %s", j.job.ID, name)
	}
	if step.Status != jobs.StepRunning {
		j.mu.Unlock()
		return fmt.Errorf("step %s is %s, not running", name, step.Status)
	}
	now := j.tracker.now().UTC()
	step.Status = status
	step.CompletedAt = &now
	if status == jobs.StepCompleted {
		step.Progress = 100
	}
	if message != "" {
		step.Message = message
	}
	if errText != "" {
		step.Error = errText
		j.job.Errors = append(j.job.Errors, fmt.Sprintf("%s: %s", name, errText))
	}
	mergeDetails(&step.Details, details)
	j.job.Status = jobs.DeriveStatus(j.job.Steps)
	snapshot := *step
	j.mu.Unlock()

	j.tracker.persistStep(ctx, j, snapshot)
	return nil
}

// AddCounters accumulates run counters incrementally so partial progress
// survives a later failure.
func (j *Job) AddCounters(ctx context.Context, found, added, duplicate int) {
	j.mu.Lock()
	j.job.Counters.Found += found
	j.job.Counters.Added += added
	j.job.Counters.Duplicate += duplicate
	j.mu.Unlock()

	j.tracker.persistJob(ctx, j)
}

// AddError appends a non-fatal error to the job's error list.
func (j *Job) AddError(ctx context.Context, text string) {
	j.mu.Lock()
	j.job.Errors = append(j.job.Errors, text)
	j.mu.Unlock()

	j.tracker.persistJob(ctx, j)
}

// Abandon marks an overdue run. It does not interrupt the executing
// goroutine; if the run finishes later, Finalize records the real outcome.
func (j *Job) Abandon(ctx context.Context, budget time.Duration) {
	j.mu.Lock()
	if j.final {
		j.mu.Unlock()
		return
	}
	j.job.Status = jobs.JobAbandoned
	j.job.Errors = append(j.job.Errors, fmt.Sprintf("run exceeded wall-clock budget %s", budget))
	j.mu.Unlock()

	j.tracker.persistJob(ctx, j)
}

// Finalize derives the terminal status, stamps completion, persists, and
// retires the job into the completed cache. It is idempotent.
func (j *Job) Finalize(ctx context.Context, summary string) jobs.CrawlJob {
	j.mu.Lock()
	if j.final {
		snapshot := cloneJob(j.job)
		j.mu.Unlock()
		return snapshot
	}
	j.final = true
	now := j.tracker.now().UTC()
	j.job.Status = jobs.DeriveStatus(j.job.Steps)
	j.job.CompletedAt = &now
	j.job.Summary = summary
	snapshot := cloneJob(j.job)
	j.mu.Unlock()

	j.tracker.retire(ctx, j, snapshot)
	return snapshot
}

func (j *Job) findStep(name jobs.StepName) *jobs.CrawlStep {
	for i := range j.job.Steps {
		if j.job.Steps[i].Name == name {
			return &j.job.Steps[i]
		}
	}
	return nil
}

func mergeDetails(dst *jobs.StepDetails, src jobs.StepDetails) {
	if src.PagesFetched > 0 {
		dst.PagesFetched = src.PagesFetched
	}
	if src.PostingsFound > 0 {
		dst.PostingsFound = src.PostingsFound
	}
	if src.PostingsDropped > 0 {
		dst.PostingsDropped = src.PostingsDropped
	}
	if src.StrategyUsed != "" {
		dst.StrategyUsed = src.StrategyUsed
	}
	for k, v := range src.Extra {
		if dst.Extra == nil {
			dst.Extra = map[string]string{}
		}
		dst.Extra[k] = v
	}
}

func cloneJob(job jobs.CrawlJob) jobs.CrawlJob {
	out := job
	out.Steps = make([]jobs.CrawlStep, len(job.Steps))
	copy(out.Steps, job.Steps)
	for i := range out.Steps {
		if extra := job.Steps[i].Details.Extra; extra != nil {
			cloned := make(map[string]string, len(extra))
			for k, v := range extra {
				cloned[k] = v
			}
			out.Steps[i].Details.Extra = cloned
		}
	}
	out.Errors = append([]string(nil), job.Errors...)
	return out
}

func newCrawlJob(source string, pipeline []jobs.StepName, trigger jobs.TriggerOrigin, now time.Time) jobs.CrawlJob {
	steps := make([]jobs.CrawlStep, len(pipeline))
	for i, name := range pipeline {
		steps[i] = jobs.CrawlStep{
			ID:     fmt.Sprintf("%d", i+1),
			Name:   name,
			Status: jobs.StepPending,
		}
	}
	return jobs.CrawlJob{
		ID:        uuid.NewString(),
		Source:    source,
		Steps:     steps,
		Status:    jobs.JobPending,
		StartedAt: now,
		Trigger:   trigger,
	}
}
