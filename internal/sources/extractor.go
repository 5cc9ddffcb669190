// Package sources implements the per-board crawlers. Each board is described
// by a selector configuration; the DOM specifics never leak past this
// package.
package sources

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jobradar/jobradar/internal/jobs"
)

// Selectors maps the pieces of a posting onto CSS selectors inside one
// listing item. Empty selectors leave the field blank.
type Selectors struct {
	Item            string // one listing card
	Title           string
	Company         string
	Location        string
	Salary          string
	JobType         string
	ExperienceLevel string
	Description     string
	Link            string // href is read from this element
	NativeIDAttr    string // attribute on the item carrying the board's own ID
	PostedAtSel     string
	PostedAtLayout  string // time.Parse layout for PostedAtSel text
}

// HTMLExtractor turns listing pages into candidate postings using goquery.
type HTMLExtractor struct {
	source string
	sel    Selectors
	now    func() time.Time
}

// NewHTMLExtractor builds an extractor for one source.
func NewHTMLExtractor(source string, sel Selectors) *HTMLExtractor {
	return &HTMLExtractor{source: source, sel: sel, now: time.Now}
}

// Extract parses listing HTML and returns one posting per matched item.
// Relative links resolve against baseURL.
func (e *HTMLExtractor) Extract(html []byte, baseURL string) ([]jobs.Posting, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", baseURL, err)
	}

	var out []jobs.Posting
	doc.Find(e.sel.Item).Each(func(_ int, item *goquery.Selection) {
		p := jobs.Posting{
			Source:          e.source,
			Title:           e.text(item, e.sel.Title),
			Company:         e.text(item, e.sel.Company),
			Location:        e.text(item, e.sel.Location),
			Salary:          e.text(item, e.sel.Salary),
			JobType:         e.text(item, e.sel.JobType),
			ExperienceLevel: e.text(item, e.sel.ExperienceLevel),
			Description:     e.text(item, e.sel.Description),
			PostedAt:        e.postedAt(item),
		}
		if e.sel.NativeIDAttr != "" {
			p.SourceNativeID, _ = item.Attr(e.sel.NativeIDAttr)
		}
		p.URL = e.link(item, base)
		out = append(out, p)
	})
	return out, nil
}

func (e *HTMLExtractor) text(item *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(item.Find(selector).First().Text())
}

func (e *HTMLExtractor) link(item *goquery.Selection, base *url.URL) string {
	if e.sel.Link == "" {
		return ""
	}
	href, ok := item.Find(e.sel.Link).First().Attr("href")
	if !ok {
		if h, selfOK := item.Attr("href"); selfOK {
			href = h
		} else {
			return ""
		}
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func (e *HTMLExtractor) postedAt(item *goquery.Selection) time.Time {
	if e.sel.PostedAtSel != "" && e.sel.PostedAtLayout != "" {
		raw := e.text(item, e.sel.PostedAtSel)
		if ts, err := time.Parse(e.sel.PostedAtLayout, raw); err == nil {
			return ts.UTC()
		}
	}
	return e.now().UTC()
}

var _ jobs.Extractor = (*HTMLExtractor)(nil)
