package jobs

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ContentHash hashes the normalized title|company|description of a posting.
// Case and whitespace differences do not change the hash.
func ContentHash(p Posting) string {
	content := strings.Join([]string{
		normalizeField(p.Title),
		normalizeField(p.Company),
		normalizeField(p.Description),
	}, "|")
	return hashHex(content)
}

func normalizeField(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
