package run

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jobradar/jobradar/internal/jobs"
	"github.com/jobradar/jobradar/internal/storage/memory"
)

func TestTracker_ActiveJobVisibleToPollers(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(memory.NewHistoryStore(), zap.NewNop())
	job := tracker.NewJob(context.Background(), "topboard", jobs.GenericPipeline(), jobs.TriggerManual)

	require.NoError(t, job.StartStep(context.Background(), jobs.StepInitialize))

	got, err := tracker.Get(context.Background(), job.ID())
	require.NoError(t, err)
	require.Equal(t, jobs.JobRunning, got.Status)
	require.Equal(t, jobs.StepRunning, got.Steps[0].Status)

	active := tracker.Active()
	require.Len(t, active, 1)
	require.Equal(t, job.ID(), active[0].ID)
}

func TestTracker_FinalizedJobServedFromCompletedCache(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(memory.NewHistoryStore(), zap.NewNop())
	job := tracker.NewJob(context.Background(), "topboard", jobs.GenericPipeline(), jobs.TriggerManual)

	for _, name := range jobs.GenericPipeline() {
		require.NoError(t, job.StartStep(context.Background(), name))
		require.NoError(t, job.CompleteStep(context.Background(), name, "", jobs.StepDetails{}))
	}
	final := job.Finalize(context.Background(), "done")
	require.Equal(t, jobs.JobCompleted, final.Status)

	require.Empty(t, tracker.Active())
	got, err := tracker.Get(context.Background(), job.ID())
	require.NoError(t, err)
	require.Equal(t, jobs.JobCompleted, got.Status)
	require.Equal(t, "done", got.Summary)
}

func TestTracker_GetFallsBackToHistory(t *testing.T) {
	t.Parallel()

	history := memory.NewHistoryStore()
	old := jobs.CrawlJob{
		ID:        "restart-survivor",
		Source:    "topboard",
		Status:    jobs.JobCompleted,
		StartedAt: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, history.SaveJob(context.Background(), old))

	tracker := NewTracker(history, zap.NewNop())
	got, err := tracker.Get(context.Background(), "restart-survivor")
	require.NoError(t, err)
	require.Equal(t, jobs.JobCompleted, got.Status)

	_, err = tracker.Get(context.Background(), "never-existed")
	require.Error(t, err)
}

func TestTracker_QueryFiltersBySource(t *testing.T) {
	t.Parallel()

	history := memory.NewHistoryStore()
	tracker := NewTracker(history, zap.NewNop())
	for _, source := range []string{"topboard", "otherboard", "topboard"} {
		job := tracker.NewJob(context.Background(), source, jobs.GenericPipeline(), jobs.TriggerManual)
		job.Finalize(context.Background(), "")
	}

	got, err := tracker.Query(context.Background(), "topboard", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, j := range got {
		require.Equal(t, "topboard", j.Source)
	}
}

func TestJob_StepTransitionInvariants(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(nil, zap.NewNop())
	job := tracker.NewJob(context.Background(), "topboard", jobs.GenericPipeline(), jobs.TriggerManual)
	ctx := context.Background()

	// Completing a step that never started is rejected.
	require.Error(t, job.CompleteStep(ctx, jobs.StepInitialize, "", jobs.StepDetails{}))

	require.NoError(t, job.StartStep(ctx, jobs.StepInitialize))
	// Only one step may run at a time.
	require.Error(t, job.StartStep(ctx, jobs.StepCheckAvailability))
	// Re-starting a running step is rejected.
	require.Error(t, job.StartStep(ctx, jobs.StepInitialize))

	require.NoError(t, job.CompleteStep(ctx, jobs.StepInitialize, "", jobs.StepDetails{}))
	// Terminal steps never transition again.
	require.Error(t, job.StartStep(ctx, jobs.StepInitialize))
	require.Error(t, job.CompleteStep(ctx, jobs.StepInitialize, "", jobs.StepDetails{}))
	require.Error(t, job.SkipStep(ctx, jobs.StepInitialize, ""))
}

func TestJob_FailStepDerivesFailedJob(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(nil, zap.NewNop())
	job := tracker.NewJob(context.Background(), "topboard", jobs.GenericPipeline(), jobs.TriggerManual)
	ctx := context.Background()

	require.NoError(t, job.StartStep(ctx, jobs.StepInitialize))
	require.NoError(t, job.CompleteStep(ctx, jobs.StepInitialize, "", jobs.StepDetails{}))
	require.NoError(t, job.StartStep(ctx, jobs.StepCheckAvailability))
	require.NoError(t, job.FailStep(ctx, jobs.StepCheckAvailability, &jobs.NotAvailableError{Source: "topboard", Reason: "probe timeout"}))

	snapshot := job.Snapshot()
	require.Equal(t, jobs.JobFailed, snapshot.Status)
	require.Len(t, snapshot.Errors, 1)
	require.Contains(t, snapshot.Errors[0], "CheckAvailability")
}

func TestJob_AbandonDoesNotOverrideFinalOutcome(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(nil, zap.NewNop())
	job := tracker.NewJob(context.Background(), "slowboard", jobs.GenericPipeline(), jobs.TriggerScheduled)
	ctx := context.Background()

	job.Abandon(ctx, 5*time.Minute)
	require.Equal(t, jobs.JobAbandoned, job.Snapshot().Status)

	for _, name := range jobs.GenericPipeline() {
		require.NoError(t, job.StartStep(ctx, name))
		require.NoError(t, job.CompleteStep(ctx, name, "", jobs.StepDetails{}))
	}
	final := job.Finalize(ctx, "finished late")
	require.Equal(t, jobs.JobCompleted, final.Status)

	// Abandon after finalize is a no-op.
	job.Abandon(ctx, 5*time.Minute)
	require.Equal(t, jobs.JobCompleted, job.Snapshot().Status)
}

func TestJob_CountersAccumulate(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(nil, zap.NewNop())
	job := tracker.NewJob(context.Background(), "topboard", jobs.GenericPipeline(), jobs.TriggerManual)
	ctx := context.Background()

	job.AddCounters(ctx, 10, 0, 0)
	job.AddCounters(ctx, 0, 6, 3)
	require.Equal(t, jobs.JobCounters{Found: 10, Added: 6, Duplicate: 3}, job.Counters())
}
