// Package merger implements the answer merging stage: combine the
// locally-ranked candidate with an external agent's answer (when one
// was consulted) into a single response, choosing a merge strategy
// from their textual similarity. Grounded on the teacher's
// deduplicateResults Jaccard-similarity helper, generalized from a
// duplicate filter into a three-way strategy selector.
package merger

import (
	"fmt"
	"math"
	"strings"

	"github.com/knoguchi/agenticrag/internal/textutil"
)

// Strategy is the merge outcome, selected from the local/external similarity.
type Strategy string

const (
	// StrategyLocalOnly is used when no external answer is merged: none
	// was consulted, or the consulted one did not arrive.
	StrategyLocalOnly Strategy = "local_only"
	// StrategyReinforcing is used when the two answers closely agree (sim > 0.8).
	StrategyReinforcing Strategy = "reinforcing"
	// StrategyComplementary is used when the two answers partially overlap (0.5 < sim <= 0.8).
	StrategyComplementary Strategy = "complementary"
	// StrategyConflicting is used when the two answers diverge (sim <= 0.5).
	StrategyConflicting Strategy = "conflicting"
)

const (
	reinforcingThreshold   = 0.8
	complementaryThreshold = 0.5
)

// Fixed fusion weights for local vs. external confidence.
const (
	localWeight    = 0.6
	externalWeight = 0.4
)

// Coherence bounds: answers of minCoherenceTokens to maxCoherenceTokens
// tokens score 1; shorter answers scale linearly from 0; longer answers
// are clipped to 1.
const (
	minCoherenceTokens = 50.0
	maxCoherenceTokens = 1500.0
)

// SourceType discriminates a provenance entry's origin.
type SourceType string

const (
	SourceLocal    SourceType = "local"
	SourceExternal SourceType = "external"
)

// Source is one provenance entry in a merged result: a local passage
// (identified by source id and optional chunk index) or an external
// citation (identified by URI), each carrying the score it contributed
// under.
type Source struct {
	Type       SourceType
	Score      float64
	ID         string // source id for a local passage, URI for an external one
	ChunkIndex *int
}

// Local is the locally-ranked winning candidate going into the merge.
type Local struct {
	Answer     string
	Confidence float64
	Sources    []Source
	Degraded   bool
}

// External is the external agent's answer, if one was consulted.
// TimedOut records that EKA was consulted but missed its deadline,
// in which case Present must be false and the merge falls back to
// local-only while still recording the timeout for the response.
type External struct {
	Present    bool
	TimedOut   bool
	Answer     string
	Confidence float64
	Sources    []Source
}

// Result is the final merged answer handed to the cache and the HTTP layer.
type Result struct {
	Answer           string
	Confidence       float64
	Strategy         Strategy
	Provenance       []Source
	Coherence        float64
	Degraded         bool
	ExternalTimedOut bool
}

// Merge combines local and external into a single Result.
func Merge(local Local, external External) Result {
	if !external.Present {
		return Result{
			Answer:           local.Answer,
			Confidence:       local.Confidence,
			Strategy:         StrategyLocalOnly,
			Provenance:       provenance(local.Sources, nil),
			Coherence:        coherence(local.Answer),
			Degraded:         local.Degraded,
			ExternalTimedOut: external.TimedOut,
		}
	}

	sim := textutil.JaccardSimilarity(textutil.Tokenize(local.Answer), textutil.Tokenize(external.Answer))
	fused := math.Min(localWeight*local.Confidence+externalWeight*external.Confidence, 1.0)
	prov := provenance(local.Sources, external.Sources)

	switch {
	case sim > reinforcingThreshold:
		answer, citedLabel, citedSources := local.Answer, "external", external.Sources
		if external.Confidence > local.Confidence {
			answer, citedLabel, citedSources = external.Answer, "local", local.Sources
		}
		if cite := confirmationLine(citedLabel, citedSources); cite != "" {
			answer = answer + "\n\n" + cite
		}
		return Result{
			Answer:     answer,
			Confidence: fused,
			Strategy:   StrategyReinforcing,
			Provenance: prov,
			Coherence:  coherence(answer),
			Degraded:   local.Degraded,
		}
	case sim > complementaryThreshold:
		answer := fmt.Sprintf("%s\n\nAdditional context: %s", local.Answer, external.Answer)
		return Result{
			Answer:     answer,
			Confidence: fused,
			Strategy:   StrategyComplementary,
			Provenance: prov,
			Coherence:  coherence(answer),
			Degraded:   local.Degraded,
		}
	default:
		answer := fmt.Sprintf("Local analysis: %s\n\nExternal perspective: %s", local.Answer, external.Answer)
		return Result{
			Answer:     answer,
			Confidence: fused,
			Strategy:   StrategyConflicting,
			Provenance: prov,
			Degraded:   local.Degraded,
			Coherence:  coherence(answer),
		}
	}
}

// provenance lists local sources before external sources, each in
// their given order, so the result is stable across repeated merges
// of the same inputs.
func provenance(local, external []Source) []Source {
	out := make([]Source, 0, len(local)+len(external))
	out = append(out, local...)
	out = append(out, external...)
	return out
}

// confirmationLine renders a short citation of the losing side's
// sources when the reinforcing strategy picks the other side's
// answer verbatim. Returns "" when there is nothing to cite.
func confirmationLine(label string, sources []Source) string {
	if len(sources) == 0 {
		return ""
	}
	ids := make([]string, 0, len(sources))
	for _, s := range sources {
		ids = append(ids, s.ID)
	}
	return fmt.Sprintf("Confirmed by %s source(s): %s", label, strings.Join(ids, ", "))
}

// coherence is a length proxy: an answer inside the admissible range
// scores 1, a shorter one scales linearly as tokens/minCoherenceTokens,
// and one beyond maxCoherenceTokens is clipped to 1.
func coherence(answer string) float64 {
	tokens := float64(len(strings.Fields(answer)))
	if tokens < minCoherenceTokens {
		return tokens / minCoherenceTokens
	}
	return 1
}
