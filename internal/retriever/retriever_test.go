package retriever

import (
	"context"
	"errors"
	"testing"

	"github.com/knoguchi/agenticrag/internal/reranker"
	"github.com/knoguchi/agenticrag/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vector, f.err
}
func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}
func (f *fakeEmbedder) Dimension() int     { return len(f.vector) }
func (f *fakeEmbedder) ModelName() string  { return "fake" }

type fakeVectorStore struct {
	results []vectorstore.SearchResult
	err     error
}

func (f *fakeVectorStore) CreateCollection(ctx context.Context, scopeID string, dimension int) error {
	return nil
}
func (f *fakeVectorStore) CreateHybridCollection(ctx context.Context, scopeID string, dimension int) error {
	return nil
}
func (f *fakeVectorStore) DeleteCollection(ctx context.Context, scopeID string) error { return nil }
func (f *fakeVectorStore) CollectionExists(ctx context.Context, scopeID string) (bool, error) {
	return true, nil
}
func (f *fakeVectorStore) Upsert(ctx context.Context, scopeID string, chunks []vectorstore.Chunk) error {
	return nil
}
func (f *fakeVectorStore) Search(ctx context.Context, scopeID string, vector []float32, topK int, minScore float32) ([]vectorstore.SearchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}
func (f *fakeVectorStore) HybridSearch(ctx context.Context, scopeID string, denseVector []float32, sparseVector *vectorstore.SparseVector, topK int, minScore float32) ([]vectorstore.SearchResult, error) {
	return f.Search(ctx, scopeID, denseVector, topK, minScore)
}
func (f *fakeVectorStore) Delete(ctx context.Context, scopeID string, documentID string) error {
	return nil
}
func (f *fakeVectorStore) DeleteByIDs(ctx context.Context, scopeID string, ids []string) error {
	return nil
}

func TestRetrieveEmptyResults(t *testing.T) {
	ret := New(&fakeEmbedder{vector: []float32{0.1, 0.2}}, &fakeVectorStore{results: nil})
	res, err := ret.Retrieve(context.Background(), Params{Query: "what is go", ScopeID: "s1", TopK: 4})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, res.Outcome)
	assert.Empty(t, res.Passages)
}

func TestRetrieveSortsByFinalScoreAndCapsTopK(t *testing.T) {
	results := []vectorstore.SearchResult{
		{ID: "a", DocumentID: "doc-a", Content: "go is a compiled language", Score: 0.9},
		{ID: "b", DocumentID: "doc-b", Content: "python is an interpreted language", Score: 0.95},
		{ID: "c", DocumentID: "doc-c", Content: "rust is a systems language", Score: 0.5},
	}
	ret := New(&fakeEmbedder{vector: []float32{0.1}}, &fakeVectorStore{results: results})
	res, err := ret.Retrieve(context.Background(), Params{Query: "compiled language", ScopeID: "s1", TopK: 2, MinRetrievalScore: 0})
	require.NoError(t, err)
	assert.Len(t, res.Passages, 2)
	for i := 1; i < len(res.Passages); i++ {
		assert.GreaterOrEqual(t, res.Passages[i-1].FinalScore, res.Passages[i].FinalScore)
	}
}

func TestRetrieveDropsBelowMinScore(t *testing.T) {
	results := []vectorstore.SearchResult{
		{ID: "a", DocumentID: "doc-a", Content: "irrelevant content about cooking", Score: 0.15},
	}
	ret := New(&fakeEmbedder{vector: []float32{0.1}}, &fakeVectorStore{results: results})
	res, err := ret.Retrieve(context.Background(), Params{Query: "go concurrency patterns", ScopeID: "s1", TopK: 4, MinFinalScore: 0.5})
	require.NoError(t, err)
	assert.Empty(t, res.Passages)
}

func TestRetrieveEmbedFailureFails(t *testing.T) {
	ret := New(&fakeEmbedder{err: errors.New("embed down")}, &fakeVectorStore{})
	_, err := ret.Retrieve(context.Background(), Params{Query: "q", ScopeID: "s1", TopK: 4})
	require.Error(t, err)
}

func TestRetrieveFallsBackToLexicalRerankerOnPrimaryFailure(t *testing.T) {
	results := []vectorstore.SearchResult{
		{ID: "a", DocumentID: "doc-a", Content: "go channels and goroutines", Score: 0.8},
	}
	ret := New(&fakeEmbedder{vector: []float32{0.1}}, &fakeVectorStore{results: results},
		WithReranker(failingReranker{}))
	res, err := ret.Retrieve(context.Background(), Params{Query: "goroutines", ScopeID: "s1", TopK: 4})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDegraded, res.Outcome)
	assert.Len(t, res.Passages, 1)
}

type failingReranker struct{}

func (failingReranker) Rerank(ctx context.Context, query string, results []vectorstore.SearchResult, topK int) ([]reranker.ScoredResult, error) {
	return nil, errors.New("reranker unavailable")
}
