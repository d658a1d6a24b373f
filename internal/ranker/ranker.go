// Package ranker implements the candidate ranking stage: score each
// generated candidate on a composite of fluency, length, and
// self-reported confidence, demote ungrounded answers, and pick a
// winner under a fully deterministic tie-break. Grounded on the
// reference agent's AnswerScorer (perplexity/length/confidence
// composite) translated into a proxy usable without access to raw
// model logprobs, and on the teacher's reranker sort-by-score pattern
// for the deterministic ordering requirement.
package ranker

import (
	"math"
	"sort"
	"strings"

	"github.com/knoguchi/agenticrag/internal/generator"
	"github.com/knoguchi/agenticrag/internal/textutil"
)

// Composite score weights.
const (
	perplexityWeight = 0.4
	lengthWeight     = 0.3
	confidenceWeight = 0.3
)

// lengthNormTokens is the token count at which length_score saturates at 1.0.
const lengthNormTokens = 200.0

// groundingDemotionThreshold is the grounding ratio below which a
// candidate's score is demoted; groundingDemotionFactor is the
// multiplier applied when it is.
const (
	groundingDemotionThreshold = 0.2
	groundingDemotionFactor    = 0.5
)

// hedgeWords lower the self-confidence proxy when present; their
// absence keeps it at its default ceiling.
var hedgeWords = []string{"might", "may", "possibly", "perhaps", "unclear", "unsure", "i think", "it seems", "probably"}

// Scored is a candidate annotated with its ranking inputs and final score.
type Scored struct {
	generator.Candidate
	Grounding      float64
	SelfConfidence float64
	Score          float64
}

// Rank scores every candidate against the retrieved passages and
// returns them sorted best-first. Candidates are sorted by profile
// tag before scoring so that equal-score ties resolve identically
// across runs regardless of goroutine completion order.
func Rank(candidates []generator.Candidate, passages []string) []Scored {
	usable := make([]generator.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Err == nil && strings.TrimSpace(c.Answer) != "" {
			usable = append(usable, c)
		}
	}
	sort.SliceStable(usable, func(i, j int) bool { return usable[i].ProfileTag < usable[j].ProfileTag })

	scored := make([]Scored, len(usable))
	for i, c := range usable {
		grounding := textutil.GroundingRatio(c.Answer, passages)
		confidence := selfConfidence(c.Answer)
		score := composite(c.Answer, grounding, confidence)
		scored[i] = Scored{Candidate: c, Grounding: grounding, SelfConfidence: confidence, Score: score}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].Grounding != scored[j].Grounding {
			return scored[i].Grounding > scored[j].Grounding
		}
		if scored[i].SelfConfidence != scored[j].SelfConfidence {
			return scored[i].SelfConfidence > scored[j].SelfConfidence
		}
		return scored[i].ProfileTag < scored[j].ProfileTag
	})
	return scored
}

// composite computes the weighted score, multiplies it by grounding,
// and applies the grounding demotion, clamped to [0, 1].
func composite(answer string, grounding, selfConf float64) float64 {
	perplexityScore := 1.0 / perplexityProxy(answer)
	lengthScore := math.Min(float64(wordCount(answer))/lengthNormTokens, 1.0)

	score := perplexityWeight*perplexityScore + lengthWeight*lengthScore + confidenceWeight*selfConf
	score *= grounding
	if grounding < groundingDemotionThreshold {
		score *= groundingDemotionFactor
	}
	return math.Min(score, 1.0)
}

// perplexityProxy stands in for a true language-model perplexity
// score, which the generic LLM interface does not expose. It
// approximates fluency via the type-token ratio: highly repetitive
// text (low lexical diversity) scores a higher "perplexity" (worse),
// natural prose scores near 1.0 (best).
func perplexityProxy(answer string) float64 {
	words := strings.Fields(strings.ToLower(answer))
	if len(words) == 0 {
		return 10.0
	}
	unique := make(map[string]struct{}, len(words))
	for _, w := range words {
		unique[w] = struct{}{}
	}
	diversity := float64(len(unique)) / float64(len(words))
	// Map diversity in (0,1] to a perplexity-like value in [1, 10],
	// so a low-diversity (repetitive) answer is penalized.
	return 1.0 + (1.0-diversity)*9.0
}

// selfConfidence approximates how confidently an answer is phrased by
// penalizing hedge words and the documents-don't-cover-this refusal.
func selfConfidence(answer string) float64 {
	lower := strings.ToLower(answer)
	if strings.Contains(lower, "documents don't cover") || strings.Contains(lower, "don't know") {
		return 0.1
	}
	confidence := 0.9
	for _, hedge := range hedgeWords {
		if strings.Contains(lower, hedge) {
			confidence -= 0.15
		}
	}
	if confidence < 0.1 {
		confidence = 0.1
	}
	return confidence
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
