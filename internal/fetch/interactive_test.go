package fetch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jobradar/jobradar/internal/jobs"
)

type fakeSession struct {
	snapshots []PageSnapshot
	pos       int
	closed    bool
}

func (f *fakeSession) Navigate(context.Context, string) error { return nil }

func (f *fakeSession) Snapshot(context.Context) (PageSnapshot, error) {
	snap := f.snapshots[f.pos]
	if f.pos < len(f.snapshots)-1 {
		f.pos++
	}
	return snap, nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

const challengeHTML = "<html><head><title>Just a moment...</title></head><body>Checking your browser</body></html>"

func TestInteractive_ResolvesWhenHumanClearsChallenge(t *testing.T) {
	t.Parallel()

	session := &fakeSession{snapshots: []PageSnapshot{
		{Title: "Just a moment...", URL: "https://x.example/jobs", HTML: []byte(challengeHTML)},
		{Title: "Just a moment...", URL: "https://x.example/jobs", HTML: []byte(challengeHTML)},
		{Title: "Jobs in Hanoi", URL: "https://x.example/jobs", HTML: []byte(realHTML)},
	}}
	factory := func(context.Context) (BrowserSession, error) { return session, nil }

	i := NewInteractive(InteractiveConfig{
		PollInterval: 5 * time.Millisecond,
		MaxWait:      time.Second,
	}, nil, factory)

	page, err := i.Fetch(context.Background(), Target{URL: "https://x.example/jobs"})
	require.NoError(t, err)
	require.Equal(t, []byte(realHTML), page.HTML)
	require.True(t, session.closed, "session must be released on success")
}

func TestInteractive_TimesOutWithChallengeTimeoutError(t *testing.T) {
	t.Parallel()

	session := &fakeSession{snapshots: []PageSnapshot{
		{Title: "Just a moment...", URL: "https://x.example/jobs", HTML: []byte(challengeHTML)},
	}}
	factory := func(context.Context) (BrowserSession, error) { return session, nil }

	i := NewInteractive(InteractiveConfig{
		PollInterval: 5 * time.Millisecond,
		MaxWait:      30 * time.Millisecond,
	}, nil, factory)

	_, err := i.Fetch(context.Background(), Target{URL: "https://x.example/jobs"})

	var cte *jobs.ChallengeTimeoutError
	require.ErrorAs(t, err, &cte)
	require.Equal(t, "https://x.example/jobs", cte.URL)
	require.True(t, session.closed, "session must be released on timeout")
}

func TestInteractive_ExpectedMarkerShortCircuits(t *testing.T) {
	t.Parallel()

	// The marker shows up even though the page still smells like a
	// challenge wrapper.
	html := "<html><head><title>Just a moment...</title></head><body><div class=\"job-list\"></div></body></html>"
	session := &fakeSession{snapshots: []PageSnapshot{
		{Title: "Just a moment...", URL: "https://x.example/jobs", HTML: []byte(html)},
	}}
	factory := func(context.Context) (BrowserSession, error) { return session, nil }

	i := NewInteractive(InteractiveConfig{PollInterval: time.Minute, MaxWait: time.Minute}, nil, factory)

	page, err := i.Fetch(context.Background(), Target{
		URL:           "https://x.example/jobs",
		ExpectMarkers: []string{"job-list"},
	})
	require.NoError(t, err)
	require.Equal(t, 200, page.StatusCode)
}
