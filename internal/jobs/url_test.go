package jobs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalURL_StripsTrackingNoise(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "query and fragment removed",
			in:   "https://x.example/job/1?utm=abc#apply",
			want: "https://x.example/job/1",
		},
		{
			name: "host lowered",
			in:   "HTTPS://X.Example/Job/1",
			want: "https://x.example/Job/1",
		},
		{
			name: "default https port removed",
			in:   "https://x.example:443/job/1",
			want: "https://x.example/job/1",
		},
		{
			name: "default http port removed",
			in:   "http://x.example:80/job/1",
			want: "http://x.example/job/1",
		},
		{
			name: "surrounding whitespace trimmed",
			in:   "  https://x.example/job/1?ta_source=list  ",
			want: "https://x.example/job/1",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := CanonicalURL(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestCanonicalURL_Idempotent(t *testing.T) {
	t.Parallel()

	urls := []string{
		"https://x.example/job/1?utm=abc",
		"http://WWW.Board.example:80/listing/42#top",
		"https://a.example/b/c.html?u_sr_id=yg7oVjZz",
	}
	for _, raw := range urls {
		once, err := CanonicalURL(raw)
		require.NoError(t, err)
		twice, err := CanonicalURL(once)
		require.NoError(t, err)
		require.Equal(t, once, twice)
	}
}

func TestSurrogateURL_DeterministicPerIdentity(t *testing.T) {
	t.Parallel()

	a := Posting{Source: "topboard", Title: "Go Engineer", Company: "Acme", Location: "Hanoi"}
	b := Posting{Source: "topboard", Title: "Go Engineer", Company: "Acme", Location: "Hanoi"}
	c := Posting{Source: "topboard", Title: "Go Engineer", Company: "Acme", Location: "Saigon"}

	require.Equal(t, SurrogateURL(a), SurrogateURL(b))
	require.NotEqual(t, SurrogateURL(a), SurrogateURL(c))
	require.Contains(t, SurrogateURL(a), "jobradar://topboard/")
}

func TestFingerprintFor_FallsBackToSurrogate(t *testing.T) {
	t.Parallel()

	withURL := Posting{
		Source: "topboard", Title: "Go Engineer", Company: "Acme",
		Description: "build crawlers", URL: "https://x.example/job/1?utm=abc",
	}
	fp := FingerprintFor(withURL)
	require.Equal(t, "https://x.example/job/1", fp.CanonicalURL)
	require.NotEmpty(t, fp.ContentHash)

	noURL := withURL
	noURL.URL = ""
	fp2 := FingerprintFor(noURL)
	require.Equal(t, SurrogateURL(noURL), fp2.CanonicalURL)
	require.Equal(t, fp.ContentHash, fp2.ContentHash)
}
