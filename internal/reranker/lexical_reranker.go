package reranker

import (
	"context"
	"sort"

	"github.com/knoguchi/agenticrag/internal/textutil"
	"github.com/knoguchi/agenticrag/internal/vectorstore"
)

// LexicalReranker is the no-dependency fallback used when the primary
// (LLM-backed) reranker is unavailable or times out. It never errors
// and never blocks on an external call, so the retriever can always
// fall back to it and still return a deterministically ordered
// result set instead of failing the request outright.
type LexicalReranker struct{}

// NewLexicalReranker returns a ready-to-use lexical reranker.
func NewLexicalReranker() *LexicalReranker {
	return &LexicalReranker{}
}

// Rerank scores each result by Jaccard overlap between the query and
// the result content, with a fixed bonus for an exact phrase match.
// The vector similarity score is blended in as a tie-break floor so a
// passage with zero lexical overlap is not scored identically to
// another with zero overlap but a much stronger embedding match.
func (r *LexicalReranker) Rerank(ctx context.Context, query string, results []vectorstore.SearchResult, topK int) ([]ScoredResult, error) {
	queryTokens := textutil.Tokenize(query)

	scored := make([]ScoredResult, len(results))
	for i, res := range results {
		sim := textutil.JaccardSimilarity(queryTokens, textutil.Tokenize(res.Content))
		score := sim
		if textutil.ContainsExactPhrase(res.Content, query) {
			score += 0.15
		}
		if score > 1.0 {
			score = 1.0
		}
		// Blend in the vector score as a floor so lexically-silent but
		// semantically-close passages are not pushed to the bottom.
		score = 0.5*score + 0.5*float64(res.Score)

		scored[i] = ScoredResult{
			SearchResult:  res,
			RerankerScore: float32(score),
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].RerankerScore != scored[j].RerankerScore {
			return scored[i].RerankerScore > scored[j].RerankerScore
		}
		if scored[i].DocumentID != scored[j].DocumentID {
			return scored[i].DocumentID < scored[j].DocumentID
		}
		return scored[i].ID < scored[j].ID
	})

	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

var _ Reranker = (*LexicalReranker)(nil)
