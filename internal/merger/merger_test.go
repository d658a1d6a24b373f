package merger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeLocalOnlyWhenNoExternal(t *testing.T) {
	res := Merge(Local{Answer: "Paris is the capital of France.", Confidence: 0.8, Sources: []Source{{Type: SourceLocal, ID: "doc-1"}}}, External{})
	assert.Equal(t, StrategyLocalOnly, res.Strategy)
	assert.Equal(t, 0.8, res.Confidence)
	assert.Equal(t, []Source{{Type: SourceLocal, ID: "doc-1"}}, res.Provenance)
}

func TestMergeReinforcingOnHighSimilarity(t *testing.T) {
	// Both tokenize to the identical set {paris, capital, france} for a
	// Jaccard similarity of 1.0, while differing in surface text so the
	// test can tell which side's answer the merge actually picked.
	local := Local{Answer: "Paris is the capital of France.", Confidence: 0.7, Sources: []Source{{Type: SourceLocal, ID: "doc-1"}}}
	external := External{Present: true, Answer: "The capital of France is Paris.", Confidence: 0.9, Sources: []Source{{Type: SourceExternal, ID: "ext-1"}}}
	res := Merge(local, external)
	assert.Equal(t, StrategyReinforcing, res.Strategy)
	assert.InDelta(t, 0.6*0.7+0.4*0.9, res.Confidence, 1e-9)
	assert.Equal(t, []Source{{Type: SourceLocal, ID: "doc-1"}, {Type: SourceExternal, ID: "ext-1"}}, res.Provenance)

	// external.Confidence (0.9) > local.Confidence (0.7): the higher-
	// confidence answer wins verbatim, with a confirmation line citing
	// the other side.
	assert.Contains(t, res.Answer, external.Answer)
	assert.NotContains(t, res.Answer, local.Answer)
	assert.Contains(t, res.Answer, "Confirmed by local source(s): doc-1")
}

func TestMergeReinforcingPrefersHigherConfidenceLocal(t *testing.T) {
	local := Local{Answer: "Paris is the capital of France.", Confidence: 0.9, Sources: []Source{{Type: SourceLocal, ID: "doc-1"}}}
	external := External{Present: true, Answer: "The capital of France is Paris.", Confidence: 0.7, Sources: []Source{{Type: SourceExternal, ID: "ext-1"}}}
	res := Merge(local, external)
	assert.Equal(t, StrategyReinforcing, res.Strategy)
	assert.Contains(t, res.Answer, local.Answer)
	assert.NotContains(t, res.Answer, external.Answer)
	assert.Contains(t, res.Answer, "Confirmed by external source(s): ext-1")
}

func TestMergeComplementaryOnPartialOverlap(t *testing.T) {
	local := Local{Answer: "Paris is the capital city of France", Confidence: 0.7}
	external := External{Present: true, Answer: "Paris is also a major center for art museums and fashion", Confidence: 0.6}
	res := Merge(local, external)
	assert.Equal(t, StrategyComplementary, res.Strategy)
	assert.Contains(t, res.Answer, "Additional context")
}

func TestMergeConflictingOnLowSimilarity(t *testing.T) {
	local := Local{Answer: "Paris is the capital of France", Confidence: 0.7}
	external := External{Present: true, Answer: "The stock market fell sharply today amid inflation fears", Confidence: 0.5}
	res := Merge(local, external)
	assert.Equal(t, StrategyConflicting, res.Strategy)
	assert.Contains(t, res.Answer, "Local analysis")
	assert.Contains(t, res.Answer, "External perspective")
}

func TestCoherenceRamp(t *testing.T) {
	assert.Equal(t, 0.0, coherence(""))
	short := "one two three"
	assert.InDelta(t, 3.0/minCoherenceTokens, coherence(short), 1e-9)

	long := ""
	for i := 0; i < 2000; i++ {
		long += "word "
	}
	assert.Equal(t, 1.0, coherence(long))
}
