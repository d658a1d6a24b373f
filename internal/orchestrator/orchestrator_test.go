package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/knoguchi/agenticrag/internal/cache"
	"github.com/knoguchi/agenticrag/internal/embedder"
	"github.com/knoguchi/agenticrag/internal/generator"
	"github.com/knoguchi/agenticrag/internal/llm"
	"github.com/knoguchi/agenticrag/internal/reranker"
	"github.com/knoguchi/agenticrag/internal/retriever"
	"github.com/knoguchi/agenticrag/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) { return []float32{0.1}, nil }
func (stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}
func (stubEmbedder) Dimension() int    { return 1 }
func (stubEmbedder) ModelName() string { return "stub" }

var _ embedder.Embedder = stubEmbedder{}

type stubVectorStore struct {
	results []vectorstore.SearchResult
}

func (s stubVectorStore) CreateCollection(ctx context.Context, scopeID string, dimension int) error {
	return nil
}
func (s stubVectorStore) CreateHybridCollection(ctx context.Context, scopeID string, dimension int) error {
	return nil
}
func (s stubVectorStore) DeleteCollection(ctx context.Context, scopeID string) error { return nil }
func (s stubVectorStore) CollectionExists(ctx context.Context, scopeID string) (bool, error) {
	return true, nil
}
func (s stubVectorStore) Upsert(ctx context.Context, scopeID string, chunks []vectorstore.Chunk) error {
	return nil
}
func (s stubVectorStore) Search(ctx context.Context, scopeID string, vector []float32, topK int, minScore float32) ([]vectorstore.SearchResult, error) {
	return s.results, nil
}
func (s stubVectorStore) HybridSearch(ctx context.Context, scopeID string, denseVector []float32, sparseVector *vectorstore.SparseVector, topK int, minScore float32) ([]vectorstore.SearchResult, error) {
	return s.results, nil
}
func (s stubVectorStore) Delete(ctx context.Context, scopeID string, documentID string) error {
	return nil
}
func (s stubVectorStore) DeleteByIDs(ctx context.Context, scopeID string, ids []string) error {
	return nil
}

var _ vectorstore.VectorStore = stubVectorStore{}

type stubLLM struct{}

func (stubLLM) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	return "Go uses goroutines and channels for concurrency, scheduled cooperatively by the runtime.", nil
}
func (stubLLM) GenerateStream(ctx context.Context, prompt string, opts llm.GenerateOptions) (<-chan llm.StreamChunk, error) {
	return nil, nil
}

var _ llm.LLM = stubLLM{}

func newTestOrchestrator() *Orchestrator {
	results := []vectorstore.SearchResult{
		{ID: "a", DocumentID: "doc-1", Content: "Go uses goroutines and channels for concurrency."},
	}
	ret := retriever.New(stubEmbedder{}, stubVectorStore{results: results}, retriever.WithReranker(reranker.NewLexicalReranker()))
	gen := generator.New(stubLLM{})
	c := cache.New(time.Hour)
	cfg := DefaultConfig()
	cfg.MinRetrievalScore = 0
	cfg.MinFinalScore = 0
	cfg.TotalTimeout = 5 * time.Second
	cfg.GenerateTimeout = 2 * time.Second
	cfg.RetrieveTimeout = 2 * time.Second
	return New(ret, gen, nil, nil, c, cfg, nil)
}

func TestAnswerRejectsEmptyQuestion(t *testing.T) {
	o := newTestOrchestrator()
	_, outcome := o.Answer(context.Background(), "", "scope-1", false)
	assert.True(t, outcome.Failed)
	assert.Equal(t, KindValidation, outcome.Kind)
}

func TestAnswerLocalOnlyPath(t *testing.T) {
	o := newTestOrchestrator()
	resp, outcome := o.Answer(context.Background(), "How does Go handle concurrency?", "scope-1", false)
	require.False(t, outcome.Failed)
	assert.NotEmpty(t, resp.Answer)
	assert.Empty(t, resp.Strategy)
	assert.False(t, resp.Cached)
}

func TestAnswerCacheHitOnSecondCall(t *testing.T) {
	o := newTestOrchestrator()
	first, outcome := o.Answer(context.Background(), "How does Go handle concurrency?", "scope-1", false)
	require.False(t, outcome.Failed)
	assert.False(t, first.Cached)

	second, outcome2 := o.Answer(context.Background(), "How does Go handle concurrency?", "scope-1", false)
	require.False(t, outcome2.Failed)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Answer, second.Answer)
}

func TestAnswerSaturatedAdmissionQueue(t *testing.T) {
	o := newTestOrchestrator()
	o.cfg.AdmissionLimit = 1
	o.admission = make(chan struct{}, 1)
	o.admission <- struct{}{}

	_, outcome := o.Answer(context.Background(), "anything", "scope-1", false)
	assert.True(t, outcome.Failed)
	assert.Equal(t, KindUpstreamUnavailable, outcome.Kind)
}
