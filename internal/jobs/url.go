package jobs

import (
	"fmt"
	"net/url"
	"strings"
)

// CanonicalURL standardizes a posting URL for duplicate lookups. It
// lowercases the scheme and host, removes default ports, and strips the query
// string and fragment: listing sites append tracking parameters that change
// per click while pointing at the same posting. The function is idempotent.
func CanonicalURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.RawQuery = ""
	u.Fragment = ""

	return u.String(), nil
}

// SurrogateURL synthesizes a deterministic stand-in for postings that carry
// no URL, so URL-based dedup still applies to them.
func SurrogateURL(p Posting) string {
	key := strings.ToLower(strings.Join([]string{p.Source, p.Title, p.Company, p.Location}, "|"))
	return fmt.Sprintf("jobradar://%s/%s", strings.ToLower(p.Source), hashHex(key)[:32])
}

// FingerprintFor derives the immutable identity used for duplicate lookups.
func FingerprintFor(p Posting) Fingerprint {
	canonical := ""
	if p.URL != "" {
		if c, err := CanonicalURL(p.URL); err == nil {
			canonical = c
		}
	}
	if canonical == "" {
		canonical = SurrogateURL(p)
	}
	return Fingerprint{
		CanonicalURL: canonical,
		ContentHash:  ContentHash(p),
	}
}
