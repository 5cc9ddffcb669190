package dedup

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/jobradar/jobradar/internal/jobs"
)

// Weights for the combined posting similarity. Title carries more signal
// than company because boards re-list the same company constantly.
const (
	titleWeight   = 0.6
	companyWeight = 0.4

	// FuzzyThreshold is the similarity above which a posting pair counts
	// as a duplicate.
	FuzzyThreshold = 0.85
)

// Similarity computes a sequence-alignment ratio between two strings in
// [0, 1]. Identical strings score 1.0.
func Similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	m := difflib.NewMatcher(explode(a), explode(b))
	return m.Ratio()
}

// PostingSimilarity scores how likely two postings describe the same job.
func PostingSimilarity(a, b jobs.Posting) float64 {
	return titleWeight*Similarity(a.Title, b.Title) + companyWeight*Similarity(a.Company, b.Company)
}

// TitlePrefix returns the leading words of a title used to bound the fuzzy
// candidate query.
func TitlePrefix(title string, words int) string {
	fields := strings.Fields(title)
	if len(fields) > words {
		fields = fields[:words]
	}
	return strings.Join(fields, " ")
}

func explode(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
