// Package textutil provides lightweight lexical helpers shared by the
// reranker's lexical fallback, the candidate ranker's grounding check,
// and the answer merger's similarity computation. All three need the
// same tokenize/Jaccard primitive; this package is the single copy.
package textutil

import "strings"

// stopwords holds the common English function words excluded from
// token sets before similarity or grounding comparisons.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "have": {}, "in": {},
	"is": {}, "it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "that": {},
	"the": {}, "this": {}, "to": {}, "was": {}, "were": {}, "will": {},
	"with": {}, "but": {}, "if": {}, "into": {}, "than": {}, "then": {},
}

// Tokenize converts content into a set of lowercase, stopword-filtered
// words for similarity comparison. Tokens of length <= 2 are dropped
// as noise.
func Tokenize(content string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(content))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'()[]{}=<>-")
		if len(w) <= 2 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}

// JaccardSimilarity computes the Jaccard similarity between two word
// sets: |intersection| / |union|. Two empty sets are defined as
// identical (similarity 1.0); one empty and one non-empty set have
// similarity 0.0.
func JaccardSimilarity(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// ContainsExactPhrase reports whether needle appears verbatim
// (case-insensitive) inside haystack. Used as a bonus signal in the
// lexical reranker fallback, where an exact phrase match is a much
// stronger relevance signal than bag-of-words overlap alone.
func ContainsExactPhrase(haystack, needle string) bool {
	needle = strings.TrimSpace(needle)
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// GroundingRatio returns the fraction of tokens in answer that also
// appear in the union of the passages' token sets. Returns 1.0 for an
// empty answer (nothing to ground) and 0.0 when there are no passages
// to ground against but the answer is non-empty.
func GroundingRatio(answer string, passages []string) float64 {
	answerTokens := Tokenize(answer)
	if len(answerTokens) == 0 {
		return 1.0
	}

	corpus := make(map[string]struct{})
	for _, p := range passages {
		for w := range Tokenize(p) {
			corpus[w] = struct{}{}
		}
	}
	if len(corpus) == 0 {
		return 0.0
	}

	matched := 0
	for w := range answerTokens {
		if _, ok := corpus[w]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(answerTokens))
}
