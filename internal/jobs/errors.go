package jobs

import (
	"fmt"
	"strings"
	"time"
)

// NotAvailableError means a source failed its availability probe before any
// fetch budget was spent. The orchestrator records it and moves on.
type NotAvailableError struct {
	Source string
	Reason string
}

func (e *NotAvailableError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("source %s is not available", e.Source)
	}
	return fmt.Sprintf("source %s is not available: %s", e.Source, e.Reason)
}

// StrategyAttempt records one exhausted fetch strategy and why it failed.
type StrategyAttempt struct {
	Strategy string `json:"strategy"`
	Reason   string `json:"reason"`
}

// FetchError means every fetch strategy was exhausted for a URL. The attempt
// list is always populated; a chain never fails silently.
type FetchError struct {
	URL      string
	Attempts []StrategyAttempt
}

func (e *FetchError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", a.Strategy, a.Reason))
	}
	return fmt.Sprintf("all fetch strategies exhausted for %s [%s]", e.URL, strings.Join(parts, "; "))
}

// ChallengeTimeoutError means the interactive fallback waited its full budget
// without the anti-bot challenge resolving. Kept distinct from FetchError so
// a run summary reads "blocked by defenses", not "crawler bug".
type ChallengeTimeoutError struct {
	URL    string
	Waited time.Duration
}

func (e *ChallengeTimeoutError) Error() string {
	return fmt.Sprintf("challenge on %s unresolved after %s", e.URL, e.Waited)
}

// ValidationError marks a posting missing a required field. Such postings are
// dropped and counted, never fatal to the job.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("posting missing required field %q", e.Field)
}

// PersistenceError wraps a write failure against the index or history store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
