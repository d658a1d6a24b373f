// Package query implements the normalization and fingerprinting rules
// that the cache and orchestrator rely on for deduplication. Every
// inbound question passes through Normalize exactly once before it
// touches any other component, so two textually-different-but-
// equivalent questions land on the same cache fingerprint.
package query

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Query is a normalized, fingerprinted question ready to flow through
// the pipeline.
type Query struct {
	Raw         string
	Normalized  string
	Fingerprint string
	ScopeID     string
}

// New normalizes raw and computes its fingerprint against scopeID.
func New(raw, scopeID string) Query {
	normalized := Normalize(raw)
	return Query{
		Raw:         raw,
		Normalized:  normalized,
		Fingerprint: Fingerprint(normalized, scopeID),
		ScopeID:     scopeID,
	}
}

// Normalize lowercases, collapses internal whitespace, trims
// surrounding whitespace, and strips a trailing run of '?', '!', '.'
// and spaces. Normalize is idempotent: Normalize(Normalize(q)) == Normalize(q).
func Normalize(raw string) string {
	lowered := strings.ToLower(raw)

	var b strings.Builder
	b.Grow(len(lowered))
	lastWasSpace := false
	for _, r := range lowered {
		if unicode.IsSpace(r) {
			if !lastWasSpace && b.Len() > 0 {
				b.WriteRune(' ')
			}
			lastWasSpace = true
			continue
		}
		b.WriteRune(r)
		lastWasSpace = false
	}

	normalized := strings.TrimSpace(b.String())
	normalized = strings.TrimRight(normalized, "?!. ")
	return normalized
}

// Fingerprint returns a deterministic hash of normalized ⊕ scopeID,
// used as the cache key and the single-flight dedup key. Identical
// questions against different scopes must never collide.
func Fingerprint(normalized, scopeID string) string {
	h := sha256.New()
	h.Write([]byte(normalized))
	h.Write([]byte{0})
	h.Write([]byte(scopeID))
	return hex.EncodeToString(h.Sum(nil))
}
