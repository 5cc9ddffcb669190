package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/jobradar/jobradar/internal/jobs"
)

// PageSnapshot is one observation of an open browser page.
type PageSnapshot struct {
	Title string
	URL   string
	HTML  []byte
}

// BrowserSession is an open, user-visible browser page the interactive
// strategy polls while a human works the challenge.
type BrowserSession interface {
	Navigate(ctx context.Context, url string) error
	Snapshot(ctx context.Context) (PageSnapshot, error)
	Close() error
}

// SessionFactory opens a new browser session.
type SessionFactory func(ctx context.Context) (BrowserSession, error)

// InteractiveConfig controls the human-assisted last-resort strategy.
type InteractiveConfig struct {
	PollInterval time.Duration
	MaxWait      time.Duration
}

// Interactive opens a visible browser and waits for a human to clear the
// challenge, polling for resolution signals. Exceeding the wait budget is a
// ChallengeTimeoutError, which reads as "blocked by defenses" downstream.
type Interactive struct {
	cfg        InteractiveConfig
	detector   *ChallengeDetector
	newSession SessionFactory
}

// NewInteractive builds the interactive strategy.
func NewInteractive(cfg InteractiveConfig, detector *ChallengeDetector, factory SessionFactory) *Interactive {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 2 * time.Minute
	}
	if detector == nil {
		detector = NewChallengeDetector(nil)
	}
	if factory == nil {
		factory = VisibleBrowserSession
	}
	return &Interactive{cfg: cfg, detector: detector, newSession: factory}
}

// Name implements Strategy.
func (i *Interactive) Name() string { return "interactive" }

// Fetch opens the page and polls until it resolves or the budget runs out.
// The session is released on every exit path.
func (i *Interactive) Fetch(ctx context.Context, target Target) (Page, error) {
	session, err := i.newSession(ctx)
	if err != nil {
		return Page{}, fmt.Errorf("open interactive session: %w", err)
	}
	defer func() { _ = session.Close() }()

	start := time.Now()
	if err := session.Navigate(ctx, target.URL); err != nil {
		return Page{}, fmt.Errorf("interactive navigate: %w", err)
	}

	initial, err := session.Snapshot(ctx)
	if err != nil {
		return Page{}, fmt.Errorf("interactive initial snapshot: %w", err)
	}
	if page, ok := i.resolved(initial, initial, target); ok {
		page.Duration = time.Since(start)
		return page, nil
	}

	deadline := start.Add(i.cfg.MaxWait)
	ticker := time.NewTicker(i.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Page{}, fmt.Errorf("interactive wait canceled: %w", ctx.Err())
		case <-ticker.C:
		}

		snap, err := session.Snapshot(ctx)
		if err != nil {
			// The human may be mid-navigation; keep polling until budget.
			if time.Now().After(deadline) {
				return Page{}, &jobs.ChallengeTimeoutError{URL: target.URL, Waited: time.Since(start)}
			}
			continue
		}
		if page, ok := i.resolved(initial, snap, target); ok {
			page.Duration = time.Since(start)
			return page, nil
		}
		if time.Now().After(deadline) {
			return Page{}, &jobs.ChallengeTimeoutError{URL: target.URL, Waited: time.Since(start)}
		}
	}
}

// resolved checks the snapshot for resolution signals: expected content
// present, the page no longer looks like a challenge, or the title and URL
// both left the initial challenge state.
func (i *Interactive) resolved(initial, current PageSnapshot, target Target) (Page, bool) {
	ok := i.detector.HasExpected(current.HTML, target.ExpectMarkers) ||
		!i.detector.IsChallenge(current.HTML) ||
		(current.URL != initial.URL && i.detector.TitleResolved(initial.Title, current.Title))
	if !ok {
		return Page{}, false
	}
	return Page{
		URL:        current.URL,
		StatusCode: 200,
		HTML:       append([]byte(nil), current.HTML...),
	}, true
}

var _ Strategy = (*Interactive)(nil)

type chromedpSession struct {
	taskCtx context.Context
	cancels []context.CancelFunc
}

// VisibleBrowserSession opens a non-headless Chrome window so a human can
// interact with the challenge.
func VisibleBrowserSession(ctx context.Context) (BrowserSession, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", false),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	return &chromedpSession{
		taskCtx: taskCtx,
		cancels: []context.CancelFunc{taskCancel, allocCancel},
	}, nil
}

func (s *chromedpSession) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := mergeDeadline(s.taskCtx, ctx)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	return nil
}

func (s *chromedpSession) Snapshot(ctx context.Context) (PageSnapshot, error) {
	var (
		title string
		url   string
		html  string
	)
	runCtx, cancel := mergeDeadline(s.taskCtx, ctx)
	defer cancel()
	err := chromedp.Run(runCtx,
		chromedp.Title(&title),
		chromedp.Location(&url),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return PageSnapshot{}, fmt.Errorf("snapshot: %w", err)
	}
	return PageSnapshot{Title: title, URL: url, HTML: []byte(html)}, nil
}

func (s *chromedpSession) Close() error {
	for _, cancel := range s.cancels {
		cancel()
	}
	return nil
}

// mergeDeadline applies the caller context's deadline to the browser task
// context, which must stay alive between calls.
func mergeDeadline(taskCtx, caller context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := caller.Deadline(); ok {
		return context.WithDeadline(taskCtx, deadline)
	}
	return context.WithCancel(taskCtx)
}
