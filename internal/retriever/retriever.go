// Package retriever implements the retrieval stage of the pipeline:
// embed the query, pull an over-fetched candidate set from the vector
// index, blend in reranker scores, and cut down to the passages the
// generator is allowed to see. Grounded on the teacher's RAGService.Query
// dedup/rerank/cap sequence, generalized into a standalone, testable stage.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/knoguchi/agenticrag/internal/embedder"
	"github.com/knoguchi/agenticrag/internal/reranker"
	"github.com/knoguchi/agenticrag/internal/textutil"
	"github.com/knoguchi/agenticrag/internal/vectorstore"
)

// Outcome classifies how a retrieval call finished.
type Outcome int

const (
	// OutcomeOK means the call returned a usable, fully-reranked result set.
	OutcomeOK Outcome = iota
	// OutcomeDegraded means results were returned but via a fallback path
	// (lexical reranking, or a halved-topK retry after a timeout).
	OutcomeDegraded
	// OutcomeFailed means no usable passages could be produced.
	OutcomeFailed
)

// rerankWeight and vectorWeight blend the reranker's relevance score
// with the original vector similarity score into a single ranking key.
const (
	rerankWeight = 0.7
	vectorWeight = 0.3
)

// Passage is a retrieved chunk carrying both its original vector score
// and its blended final score.
type Passage struct {
	vectorstore.SearchResult
	FinalScore float32
}

// Result is the outcome of a Retrieve call.
type Result struct {
	Passages []Passage
	Outcome  Outcome
}

// Retriever runs the embed -> search -> rerank -> cut pipeline.
type Retriever struct {
	embedder    embedder.Embedder
	vectorStore vectorstore.VectorStore
	reranker    reranker.Reranker
	fallback    reranker.Reranker
	logger      *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithReranker installs the primary reranker (typically LLM-backed).
func WithReranker(r reranker.Reranker) Option {
	return func(ret *Retriever) { ret.reranker = r }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(ret *Retriever) { ret.logger = l }
}

// New builds a Retriever. A lexical fallback reranker is always wired
// in regardless of whether the primary reranker is set, so a primary
// reranker failure degrades gracefully instead of failing the stage.
func New(emb embedder.Embedder, vs vectorstore.VectorStore, opts ...Option) *Retriever {
	ret := &Retriever{
		embedder:    emb,
		vectorStore: vs,
		fallback:    reranker.NewLexicalReranker(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

// Params configures a single Retrieve call. MinRetrievalScore is the
// coarse floor applied to raw vector similarity before reranking;
// MinFinalScore is the cutoff applied to the blended score afterward.
// The two are independent: a passage can clear the coarse floor and
// still be dropped once reranked.
type Params struct {
	Query             string
	ScopeID           string
	TopK              int
	MinRetrievalScore float32
	MinFinalScore     float32
	UseHybrid         bool
}

// Retrieve executes the full retrieval algorithm: over-fetch
// K_initial = max(topK*4, 20) candidates above MinRetrievalScore,
// rerank them, blend scores, drop anything under MinFinalScore,
// sort deterministically, and cap to topK.
func (r *Retriever) Retrieve(ctx context.Context, p Params) (Result, error) {
	if p.TopK <= 0 {
		p.TopK = 4
	}
	kInitial := p.TopK * 4
	if kInitial < 20 {
		kInitial = 20
	}

	vector, err := r.embedder.Embed(ctx, p.Query)
	if err != nil {
		return Result{Outcome: OutcomeFailed}, fmt.Errorf("embed query: %w", err)
	}

	candidates, searchOutcome, err := r.search(ctx, p, vector, kInitial)
	if err != nil {
		return Result{Outcome: OutcomeFailed}, err
	}
	if len(candidates) == 0 {
		return Result{Outcome: OutcomeOK}, nil
	}

	candidates = deduplicate(candidates)

	scored, rerankOutcome := r.rerank(ctx, p.Query, candidates, kInitial)

	passages := make([]Passage, 0, len(scored))
	for _, s := range scored {
		final := vectorWeight*s.Score + rerankWeight*s.RerankerScore
		if final < p.MinFinalScore {
			continue
		}
		passages = append(passages, Passage{SearchResult: s.SearchResult, FinalScore: final})
	}

	sort.SliceStable(passages, func(i, j int) bool {
		if passages[i].FinalScore != passages[j].FinalScore {
			return passages[i].FinalScore > passages[j].FinalScore
		}
		if passages[i].DocumentID != passages[j].DocumentID {
			return passages[i].DocumentID < passages[j].DocumentID
		}
		return passages[i].ID < passages[j].ID
	})

	if len(passages) > p.TopK {
		passages = passages[:p.TopK]
	}

	outcome := OutcomeOK
	if searchOutcome == OutcomeDegraded || rerankOutcome == OutcomeDegraded {
		outcome = OutcomeDegraded
	}
	return Result{Passages: passages, Outcome: outcome}, nil
}

// search queries the vector index, retrying once at half the
// requested limit if the first attempt fails with a deadline-exceeded
// error; any other failure is returned without a retry.
func (r *Retriever) search(ctx context.Context, p Params, vector []float32, limit int) ([]vectorstore.SearchResult, Outcome, error) {
	results, err := r.doSearch(ctx, p, vector, limit)
	if err == nil {
		return results, OutcomeOK, nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		r.logger.Warn("vector index timed out, retrying at halved limit", "limit", limit/2)
		halved := limit / 2
		if halved < 1 {
			halved = 1
		}
		results, retryErr := r.doSearch(ctx, p, vector, halved)
		if retryErr != nil {
			return nil, OutcomeFailed, fmt.Errorf("vector index retry failed: %w", retryErr)
		}
		return results, OutcomeDegraded, nil
	}
	return nil, OutcomeFailed, fmt.Errorf("vector index search: %w", err)
}

func (r *Retriever) doSearch(ctx context.Context, p Params, vector []float32, limit int) ([]vectorstore.SearchResult, error) {
	if p.UseHybrid {
		return r.vectorStore.HybridSearch(ctx, p.ScopeID, vector, nil, limit, p.MinRetrievalScore)
	}
	return r.vectorStore.Search(ctx, p.ScopeID, vector, limit, p.MinRetrievalScore)
}

// rerank applies the primary reranker, falling back to the lexical
// reranker (and reporting OutcomeDegraded) when the primary is
// unset or returns an error.
func (r *Retriever) rerank(ctx context.Context, query string, candidates []vectorstore.SearchResult, topK int) ([]reranker.ScoredResult, Outcome) {
	if r.reranker != nil {
		scored, err := r.reranker.Rerank(ctx, query, candidates, topK)
		if err == nil {
			return scored, OutcomeOK
		}
		r.logger.Warn("primary reranker failed, falling back to lexical reranker", "error", err)
	}

	scored, err := r.fallback.Rerank(ctx, query, candidates, topK)
	if err != nil {
		// The lexical fallback never errors in practice; treat
		// candidates as unscored rather than drop them.
		scored = make([]reranker.ScoredResult, len(candidates))
		for i, c := range candidates {
			scored[i] = reranker.ScoredResult{SearchResult: c, RerankerScore: c.Score}
		}
	}
	return scored, OutcomeDegraded
}

// deduplicate drops near-duplicate passages (Jaccard similarity over
// 0.7 against an already-kept passage), preserving the highest-scored
// instance. Grounded on the teacher's chunk deduplication pass.
func deduplicate(results []vectorstore.SearchResult) []vectorstore.SearchResult {
	sorted := make([]vectorstore.SearchResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	kept := make([]vectorstore.SearchResult, 0, len(sorted))
	keptTokens := make([]map[string]struct{}, 0, len(sorted))
	for _, res := range sorted {
		tokens := textutil.Tokenize(res.Content)
		duplicate := false
		for _, kt := range keptTokens {
			if textutil.JaccardSimilarity(tokens, kt) > 0.7 {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept = append(kept, res)
			keptTokens = append(keptTokens, tokens)
		}
	}
	return kept
}
