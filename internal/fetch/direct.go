package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// DirectConfig controls the plain-HTTP strategy.
type DirectConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// Direct is the cheapest strategy: a single HTTP GET through a Colly
// collector with browser-like headers. Many boards serve real content to it;
// the chain escalates when they do not.
type Direct struct {
	cfg           DirectConfig
	baseCollector *colly.Collector
}

const defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// NewDirect builds the direct strategy.
func NewDirect(cfg DirectConfig) *Direct {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	c.IgnoreRobotsTxt = true
	return &Direct{cfg: cfg, baseCollector: c}
}

// Name implements Strategy.
func (d *Direct) Name() string { return "direct" }

// Fetch executes a single GET using a cloned collector.
func (d *Direct) Fetch(ctx context.Context, target Target) (Page, error) {
	var (
		result   Page
		fetchErr error
	)
	start := time.Now()

	collector := d.baseCollector.Clone()
	collector.UserAgent = d.cfg.UserAgent
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(d.cfg.Timeout)

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9,vi;q=0.8")
		r.Headers.Set("Upgrade-Insecure-Requests", "1")
		for key, values := range target.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		result = Page{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			HTML:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target.URL)
	}()

	select {
	case <-ctx.Done():
		return Page{}, fmt.Errorf("direct fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return Page{}, fmt.Errorf("direct visit failed: %w", err)
		}
		if fetchErr != nil {
			return Page{}, fmt.Errorf("direct response failed: %w", fetchErr)
		}
		return result, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
