package fetch

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// HeadlessConfig controls the stealth browser strategy.
type HeadlessConfig struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Headless renders pages through a Chrome session with automation markers
// suppressed. It defeats challenges that only probe for a JS runtime.
type Headless struct {
	cfg         HeadlessConfig
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// Fingerprint scrubbing applied before any site script runs.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
window.chrome = window.chrome || { runtime: {} };
`

// NewHeadless creates the headless strategy backed by chromedp.
func NewHeadless(cfg HeadlessConfig) (*Headless, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Headless{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (h *Headless) Close() {
	h.allocCancel()
}

// Name implements Strategy.
func (h *Headless) Name() string { return "headless" }

// Fetch navigates with the stealth browser and returns the rendered DOM.
func (h *Headless) Fetch(ctx context.Context, target Target) (Page, error) {
	if err := h.acquire(ctx); err != nil {
		return Page{}, err
	}
	defer h.release()

	taskCtx, taskCancel := chromedp.NewContext(h.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, h.cfg.NavigationTimeout)
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := h.runBrowser(taskCtx, target)
	if err != nil {
		return Page{}, err
	}

	status, responseURL := meta.snapshotWithFallbacks(target.URL, finalURL)
	return Page{
		URL:        responseURL,
		StatusCode: status,
		HTML:       []byte(html),
		Duration:   time.Since(start),
	}, nil
}

func (h *Headless) runBrowser(ctx context.Context, target Target) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		h.sessionSetupAction(target.Headers),
		chromedp.Navigate(target.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (h *Headless) sessionSetupAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx); err != nil {
			return fmt.Errorf("install stealth script: %w", err)
		}
		if h.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(h.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (h *Headless) acquire(ctx context.Context) error {
	if h.limiter == nil {
		return nil
	}
	select {
	case h.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (h *Headless) release() {
	if h.limiter == nil {
		return
	}
	select {
	case <-h.limiter:
	default:
	}
}

var _ Strategy = (*Headless)(nil)

type responseMeta struct {
	mu     sync.RWMutex
	status int
	url    string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, string) {
	m.mu.RLock()
	status, url := m.status, m.url
	m.mu.RUnlock()

	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, url
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
