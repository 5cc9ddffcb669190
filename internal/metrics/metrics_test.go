package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	require.NotNil(t, fetchAttemptsTotal)
	require.NotNil(t, dedupDecisionsTotal)
	require.NotNil(t, activeCrawls)
}

func TestObserversToleratePreInitCalls(t *testing.T) {
	// Observers are no-ops before Init so unit tests of other packages do
	// not need the registry.
	ObserveFetchAttempt("direct")
	ObserveFetchSuccess("direct")
	ObserveDedupDecision("new")
	ObservePosting("topboard", "added")
	ObserveCrawlJob("topboard", "completed", time.Second)
	CrawlStarted()
	CrawlFinished()
}

func TestHandlerServesRegistry(t *testing.T) {
	Init()
	require.NotNil(t, Handler())
}
