package fetch

import (
	"bytes"
	"regexp"
	"strings"
)

// Markers commonly present on interstitial anti-bot pages. Sites rotate
// wording; the list is configurable on top of these defaults.
var defaultChallengeMarkers = []string{
	"just a moment",
	"checking your browser",
	"attention required",
	"verify you are human",
	"cf-challenge",
	"cf-browser-verification",
	"ddos-guard",
	"enable javascript and cookies",
}

var titlePattern = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// ChallengeDetector decides whether fetched HTML is an anti-bot interstitial
// rather than real content.
type ChallengeDetector struct {
	markers []string
}

// NewChallengeDetector builds a detector with extra markers appended to the
// defaults.
func NewChallengeDetector(extraMarkers []string) *ChallengeDetector {
	markers := append([]string(nil), defaultChallengeMarkers...)
	for _, m := range extraMarkers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			markers = append(markers, m)
		}
	}
	return &ChallengeDetector{markers: markers}
}

// IsChallenge reports whether the page looks like a challenge interstitial.
// A page with an empty body, a near-empty title plus a known marker in the
// body, or a marker in the title is treated as a challenge.
func (d *ChallengeDetector) IsChallenge(html []byte) bool {
	if len(bytes.TrimSpace(html)) == 0 {
		return true
	}
	lower := strings.ToLower(string(html))

	title := pageTitle(lower)
	for _, marker := range d.markers {
		if strings.Contains(title, marker) {
			return true
		}
	}

	// Interstitials are small and carry the marker in the body; real pages
	// occasionally mention "cloudflare" in footers, so require a short page.
	if len(lower) < 8192 {
		for _, marker := range d.markers {
			if strings.Contains(lower, marker) {
				return true
			}
		}
	}
	return len(strings.TrimSpace(title)) < 2 && len(lower) < 2048
}

// HasExpected reports whether any positive marker appears in the page. An
// empty marker list never matches.
func (d *ChallengeDetector) HasExpected(html []byte, markers []string) bool {
	if len(markers) == 0 {
		return false
	}
	lower := strings.ToLower(string(html))
	for _, m := range markers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" && strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// TitleResolved reports whether a page title has left the given challenge
// state. Used by the interactive strategy as a resolution signal.
func (d *ChallengeDetector) TitleResolved(initialTitle, currentTitle string) bool {
	current := strings.ToLower(strings.TrimSpace(currentTitle))
	if current == "" {
		return false
	}
	for _, marker := range d.markers {
		if strings.Contains(current, marker) {
			return false
		}
	}
	return current != strings.ToLower(strings.TrimSpace(initialTitle))
}

func pageTitle(lowerHTML string) string {
	m := titlePattern.FindStringSubmatch(lowerHTML)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}
