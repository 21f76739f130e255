package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// NormalizeProfileURL canonicalizes an external profile reference so that
// equivalent spellings collapse to one value. The result is
// scheme://host/path with scheme and host lowercased and the trailing
// slash, query string and fragment stripped. Input that does not parse as
// a URL is returned trimmed.
func NormalizeProfileURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return trimmed
	}
	path := strings.TrimSuffix(parsed.Path, "/")
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host) + path
}

// DeriveLeadID returns the content-addressed identifier for a normalized
// profile reference: the SHA-256 hex digest of the reference. The same
// reference always yields the same id, which makes lead creation idempotent
// across processes and restarts.
func DeriveLeadID(normalizedRef string) string {
	digest := sha256.Sum256([]byte(normalizedRef))
	return hex.EncodeToString(digest[:])
}
