package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/jobradar/jobradar/internal/fetch"
	"github.com/jobradar/jobradar/internal/jobs"
)

const probeTimeout = 10 * time.Second

// BoardConfig describes one job board.
type BoardConfig struct {
	Name     string
	StartURL string
	// PageParam is the query parameter used for pagination. Empty means the
	// board is a single listing page.
	PageParam string
	MaxPages  int
	// ExpectMarkers prove a real listing page loaded despite challenge-like
	// markup elsewhere in the document.
	ExpectMarkers []string
	// Browser marks boards whose defenses require a full browser session.
	Browser bool
	Headers map[string]string
}

// Board crawls one job board through the fetch chain. It satisfies the
// crawler contract used by the orchestrator.
type Board struct {
	cfg       BoardConfig
	chain     *fetch.Chain
	extractor jobs.Extractor
	archive   jobs.BlobStore
	probe     func(ctx context.Context) bool
	logger    *zap.Logger
}

// BoardOption customizes a Board.
type BoardOption func(*Board)

// WithArchive stores every fetched listing page in the blob store.
func WithArchive(store jobs.BlobStore) BoardOption {
	return func(b *Board) { b.archive = store }
}

// WithProbe overrides the availability probe.
func WithProbe(probe func(ctx context.Context) bool) BoardOption {
	return func(b *Board) { b.probe = probe }
}

// NewBoard builds a Board.
func NewBoard(cfg BoardConfig, chain *fetch.Chain, extractor jobs.Extractor, logger *zap.Logger, opts ...BoardOption) *Board {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	b := &Board{
		cfg:       cfg,
		chain:     chain,
		extractor: extractor,
		logger:    logger.With(zap.String("source", cfg.Name)),
	}
	b.probe = b.headProbe
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the board's source name.
func (b *Board) Name() string { return b.cfg.Name }

// Pipeline returns the step order this board's runs follow.
func (b *Board) Pipeline() []jobs.StepName {
	if b.cfg.Browser {
		return jobs.BrowserPipeline()
	}
	return jobs.GenericPipeline()
}

// Available reports whether the board answers at all. It spends one cheap
// request, never the fetch chain.
func (b *Board) Available(ctx context.Context) bool {
	return b.probe(ctx)
}

// Crawl walks the listing pages and extracts postings. A failure on the
// first page fails the crawl; a failure on a later page keeps what was
// already extracted.
func (b *Board) Crawl(ctx context.Context, maxPostings int) ([]jobs.Posting, error) {
	var out []jobs.Posting
	for page := 1; page <= b.cfg.MaxPages; page++ {
		pageURL, err := b.pageURL(page)
		if err != nil {
			return nil, err
		}

		fetched, err := b.chain.Fetch(ctx, fetch.Target{
			URL:           pageURL,
			Headers:       b.headers(),
			ExpectMarkers: b.cfg.ExpectMarkers,
		})
		if err != nil {
			if page == 1 {
				return nil, err
			}
			b.logger.Warn("listing page fetch failed, keeping earlier pages",
				zap.Int("page", page), zap.Error(err))
			break
		}
		b.archivePage(ctx, page, fetched.HTML)

		postings, err := b.extractor.Extract(fetched.HTML, pageURL)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			b.logger.Warn("listing page extract failed, keeping earlier pages",
				zap.Int("page", page), zap.Error(err))
			break
		}
		if len(postings) == 0 {
			break
		}
		out = append(out, postings...)
		if maxPostings > 0 && len(out) >= maxPostings {
			out = out[:maxPostings]
			break
		}
	}
	return out, nil
}

func (b *Board) pageURL(page int) (string, error) {
	if b.cfg.PageParam == "" || page == 1 {
		return b.cfg.StartURL, nil
	}
	u, err := url.Parse(b.cfg.StartURL)
	if err != nil {
		return "", fmt.Errorf("parse start url %q: %w", b.cfg.StartURL, err)
	}
	q := u.Query()
	q.Set(b.cfg.PageParam, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (b *Board) headers() http.Header {
	if len(b.cfg.Headers) == 0 {
		return nil
	}
	h := http.Header{}
	for k, v := range b.cfg.Headers {
		h.Set(k, v)
	}
	return h
}

func (b *Board) archivePage(ctx context.Context, page int, html []byte) {
	if b.archive == nil {
		return
	}
	path := fmt.Sprintf("%s/%s/page-%d.html", b.cfg.Name, time.Now().UTC().Format("2006-01-02T15-04-05"), page)
	if _, err := b.archive.PutObject(ctx, path, "text/html", html); err != nil {
		b.logger.Warn("listing page archive failed", zap.Int("page", page), zap.Error(err))
	}
}

func (b *Board) headProbe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, b.cfg.StartURL, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	// Challenge pages answer with 403/503; those still prove the site is up,
	// the chain knows how to get past them.
	return resp.StatusCode < http.StatusInternalServerError ||
		resp.StatusCode == http.StatusServiceUnavailable
}

var _ jobs.SourceCrawler = (*Board)(nil)
