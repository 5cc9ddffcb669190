// Package jobs defines core types shared across subsystems.
package jobs

import (
	"time"
)

// Posting is a single job listing extracted from a source page. It is
// transient until the deduplication engine accepts it; only then does it get
// an ID and reach storage.
type Posting struct {
	ID              string    `json:"id,omitempty"`
	Title           string    `json:"title"`
	Company         string    `json:"company"`
	Description     string    `json:"description"`
	URL             string    `json:"url,omitempty"`
	Location        string    `json:"location,omitempty"`
	Salary          string    `json:"salary,omitempty"`
	JobType         string    `json:"job_type,omitempty"`
	ExperienceLevel string    `json:"experience_level,omitempty"`
	PostedAt        time.Time `json:"posted_at"`
	Source          string    `json:"source"`
	SourceNativeID  string    `json:"source_native_id,omitempty"`
}

// Validate checks the fields a posting must carry before it may be stored.
func (p Posting) Validate() error {
	switch {
	case p.Title == "":
		return &ValidationError{Field: "title"}
	case p.Company == "":
		return &ValidationError{Field: "company"}
	case p.Description == "":
		return &ValidationError{Field: "description"}
	case p.Source == "":
		return &ValidationError{Field: "source"}
	}
	return nil
}

// Fingerprint is the derived identity of a posting used for duplicate
// lookups. It is computed at persistence time and never changes afterwards.
type Fingerprint struct {
	CanonicalURL string `json:"canonical_url"`
	ContentHash  string `json:"content_hash"`
}

// DetectionMethod names the dedup tier that identified a duplicate.
type DetectionMethod string

// Detection methods recorded on duplicate audit rows.
const (
	MethodIDMatch    DetectionMethod = "id-match"
	MethodURLMatch   DetectionMethod = "url-match"
	MethodHashMatch  DetectionMethod = "hash-match"
	MethodFuzzyMatch DetectionMethod = "fuzzy-match"
)

// DuplicateRecord is the append-only evidence kept for each rejected
// duplicate.
type DuplicateRecord struct {
	OriginalID string          `json:"original_id"`
	Source     string          `json:"source"`
	NativeID   string          `json:"native_id,omitempty"`
	URL        string          `json:"url,omitempty"`
	Title      string          `json:"title"`
	Company    string          `json:"company"`
	Method     DetectionMethod `json:"method"`
	Score      float64         `json:"score,omitempty"`
	DetectedAt time.Time       `json:"detected_at"`
}

// StepStatus is the lifecycle state of one pipeline step.
type StepStatus string

// Step status values persisted by the history store.
const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Terminal reports whether the status can no longer change.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepSkipped:
		return true
	}
	return false
}

// StepName identifies a pipeline stage. Each source type declares a fixed
// ordered list of these.
type StepName string

// Pipeline stages.
const (
	StepInitialize        StepName = "Initialize"
	StepCheckAvailability StepName = "CheckAvailability"
	StepEstablishSession  StepName = "EstablishSession"
	StepEnumerateTargets  StepName = "EnumerateTargets"
	StepFetchAndExtract   StepName = "FetchAndExtract"
	StepValidate          StepName = "Validate"
	StepDeduplicate       StepName = "Deduplicate"
	StepPersist           StepName = "Persist"
	StepCleanup           StepName = "Cleanup"
)

// BrowserPipeline is the step order for sources that need a browser session.
func BrowserPipeline() []StepName {
	return []StepName{
		StepInitialize,
		StepCheckAvailability,
		StepEstablishSession,
		StepEnumerateTargets,
		StepFetchAndExtract,
		StepValidate,
		StepDeduplicate,
		StepPersist,
		StepCleanup,
	}
}

// GenericPipeline is the step order for plain HTTP sources.
func GenericPipeline() []StepName {
	return []StepName{
		StepInitialize,
		StepCheckAvailability,
		StepFetchAndExtract,
		StepValidate,
		StepDeduplicate,
		StepPersist,
		StepCleanup,
	}
}

// StepDetails carries structured per-step observations. Common fields are
// typed; anything site-specific goes through Extra.
type StepDetails struct {
	PagesFetched    int               `json:"pages_fetched,omitempty"`
	PostingsFound   int               `json:"postings_found,omitempty"`
	PostingsDropped int               `json:"postings_dropped,omitempty"`
	StrategyUsed    string            `json:"strategy_used,omitempty"`
	Extra           map[string]string `json:"extra,omitempty"`
}

// CrawlStep is one stage of a crawl job. It is owned exclusively by the job
// that holds it.
type CrawlStep struct {
	ID          string      `json:"id"`
	Name        StepName    `json:"name"`
	Status      StepStatus  `json:"status"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Progress    int         `json:"progress_percentage"`
	Message     string      `json:"message,omitempty"`
	Error       string      `json:"error,omitempty"`
	Details     StepDetails `json:"details"`
}

// JobStatus is the derived lifecycle state of a crawl job.
type JobStatus string

// Job status values. Abandoned is set by the orchestrator when a run
// overstays its wall-clock budget; everything else derives from steps.
const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobAbandoned JobStatus = "abandoned"
)

// TriggerOrigin records what started a crawl run.
type TriggerOrigin string

// Trigger origins.
const (
	TriggerManual    TriggerOrigin = "manual"
	TriggerScheduled TriggerOrigin = "scheduled"
)

// JobCounters tracks per-run posting stats. Counters accumulate as steps
// execute so partial progress survives a later failure.
type JobCounters struct {
	Found     int `json:"found"`
	Added     int `json:"added"`
	Duplicate int `json:"duplicate"`
}

// CrawlJob is one run of one source. It is mutated only by the goroutine
// executing the run and becomes immutable once terminal.
type CrawlJob struct {
	ID          string        `json:"id"`
	Source      string        `json:"source"`
	Steps       []CrawlStep   `json:"steps"`
	Status      JobStatus     `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Counters    JobCounters   `json:"counters"`
	Errors      []string      `json:"errors,omitempty"`
	Summary     string        `json:"summary,omitempty"`
	Trigger     TriggerOrigin `json:"trigger"`
}

// DeriveStatus computes the job status from its steps. Failed wins over
// Running; a job is Completed only when every step is Completed or Skipped.
func DeriveStatus(steps []CrawlStep) JobStatus {
	if len(steps) == 0 {
		return JobPending
	}
	allTerminalOK := true
	anyStarted := false
	for _, s := range steps {
		switch s.Status {
		case StepFailed:
			return JobFailed
		case StepRunning:
			anyStarted = true
			allTerminalOK = false
		case StepPending:
			allTerminalOK = false
		default:
			anyStarted = true
		}
	}
	if allTerminalOK {
		return JobCompleted
	}
	if anyStarted {
		return JobRunning
	}
	return JobPending
}

// SourceResult is the read-only per-source view aggregated by the
// orchestrator. SuccessRate is added/crawled, zero when nothing was crawled.
type SourceResult struct {
	Source      string        `json:"source"`
	JobID       string        `json:"job_id,omitempty"`
	Crawled     int           `json:"crawled"`
	Added       int           `json:"added"`
	Duplicates  int           `json:"duplicates"`
	SuccessRate float64       `json:"success_rate"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// CrawlResult aggregates every source of one orchestrated run.
type CrawlResult struct {
	TotalCrawled      int                     `json:"total_crawled"`
	TotalAdded        int                     `json:"total_added"`
	TotalAlreadyExist int                     `json:"total_already_exist"`
	Errors            []string                `json:"errors,omitempty"`
	Sources           map[string]SourceResult `json:"source_results"`
	Duration          time.Duration           `json:"duration"`
}
