package jobs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func step(name StepName, status StepStatus) CrawlStep {
	return CrawlStep{ID: string(name), Name: name, Status: status}
}

func TestDeriveStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		steps []CrawlStep
		want  JobStatus
	}{
		{
			name: "no steps is pending",
			want: JobPending,
		},
		{
			name: "all pending is pending",
			steps: []CrawlStep{
				step(StepInitialize, StepPending),
				step(StepCleanup, StepPending),
			},
			want: JobPending,
		},
		{
			name: "any running makes the job running",
			steps: []CrawlStep{
				step(StepInitialize, StepCompleted),
				step(StepFetchAndExtract, StepRunning),
				step(StepCleanup, StepPending),
			},
			want: JobRunning,
		},
		{
			name: "any failed makes the job failed",
			steps: []CrawlStep{
				step(StepInitialize, StepCompleted),
				step(StepFetchAndExtract, StepFailed),
				step(StepCleanup, StepPending),
			},
			want: JobFailed,
		},
		{
			name: "completed plus skipped completes the job",
			steps: []CrawlStep{
				step(StepInitialize, StepCompleted),
				step(StepEstablishSession, StepSkipped),
				step(StepCleanup, StepCompleted),
			},
			want: JobCompleted,
		},
		{
			name: "trailing pending keeps the job running",
			steps: []CrawlStep{
				step(StepInitialize, StepCompleted),
				step(StepCleanup, StepPending),
			},
			want: JobRunning,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, DeriveStatus(tc.steps))
		})
	}
}

func TestPostingValidate(t *testing.T) {
	t.Parallel()

	valid := Posting{Title: "Go Engineer", Company: "Acme", Description: "crawlers", Source: "topboard"}
	require.NoError(t, valid.Validate())

	missingTitle := valid
	missingTitle.Title = ""
	err := missingTitle.Validate()
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "title", verr.Field)
}

func TestContentHash_NormalizesCaseAndWhitespace(t *testing.T) {
	t.Parallel()

	a := Posting{Title: "Go Engineer", Company: "Acme", Description: "build crawlers"}
	b := Posting{Title: "  go   ENGINEER ", Company: "acme", Description: "Build\tCrawlers"}
	c := Posting{Title: "Go Engineer", Company: "Acme", Description: "build parsers"}

	require.Equal(t, ContentHash(a), ContentHash(b))
	require.NotEqual(t, ContentHash(a), ContentHash(c))
}

func TestStepStatusTerminal(t *testing.T) {
	t.Parallel()

	require.True(t, StepCompleted.Terminal())
	require.True(t, StepFailed.Terminal())
	require.True(t, StepSkipped.Terminal())
	require.False(t, StepPending.Terminal())
	require.False(t, StepRunning.Terminal())
}
