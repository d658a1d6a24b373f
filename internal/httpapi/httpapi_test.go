package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/knoguchi/agenticrag/internal/cache"
	"github.com/knoguchi/agenticrag/internal/embedder"
	"github.com/knoguchi/agenticrag/internal/generator"
	"github.com/knoguchi/agenticrag/internal/llm"
	"github.com/knoguchi/agenticrag/internal/orchestrator"
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

type stubVectorStore struct{}

func (stubVectorStore) CreateCollection(ctx context.Context, scopeID string, dimension int) error {
	return nil
}
func (stubVectorStore) CreateHybridCollection(ctx context.Context, scopeID string, dimension int) error {
	return nil
}
func (stubVectorStore) DeleteCollection(ctx context.Context, scopeID string) error { return nil }
func (stubVectorStore) CollectionExists(ctx context.Context, scopeID string) (bool, error) {
	return true, nil
}
func (stubVectorStore) Upsert(ctx context.Context, scopeID string, chunks []vectorstore.Chunk) error {
	return nil
}
func (stubVectorStore) Search(ctx context.Context, scopeID string, vector []float32, topK int, minScore float32) ([]vectorstore.SearchResult, error) {
	return []vectorstore.SearchResult{{ID: "a", DocumentID: "doc-1", Content: "Go uses goroutines for concurrency."}}, nil
}
func (stubVectorStore) HybridSearch(ctx context.Context, scopeID string, denseVector []float32, sparseVector *vectorstore.SparseVector, topK int, minScore float32) ([]vectorstore.SearchResult, error) {
	return nil, nil
}
func (stubVectorStore) Delete(ctx context.Context, scopeID string, documentID string) error {
	return nil
}
func (stubVectorStore) DeleteByIDs(ctx context.Context, scopeID string, ids []string) error {
	return nil
}

var _ vectorstore.VectorStore = stubVectorStore{}

type stubLLM struct{}

func (stubLLM) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	return "Go schedules goroutines cooperatively across OS threads.", nil
}
func (stubLLM) GenerateStream(ctx context.Context, prompt string, opts llm.GenerateOptions) (<-chan llm.StreamChunk, error) {
	return nil, nil
}

func newTestServer() *Server {
	ret := retriever.New(stubEmbedder{}, stubVectorStore{}, retriever.WithReranker(reranker.NewLexicalReranker()))
	gen := generator.New(stubLLM{})
	c := cache.New(time.Hour)
	cfg := orchestrator.DefaultConfig()
	cfg.MinRetrievalScore = 0
	cfg.MinFinalScore = 0
	orch := orchestrator.New(ret, gen, nil, nil, c, cfg, nil)
	return New(orch, nil)
}

func TestHealthz(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestQARejectsEmptyQuestion(t *testing.T) {
	s := newTestServer()
	body, _ := json.Marshal(qaRequest{Question: ""})
	req := httptest.NewRequest(http.MethodPost, "/qa", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQAReturnsAnswer(t *testing.T) {
	s := newTestServer()
	body, _ := json.Marshal(qaRequest{Question: "How does Go schedule goroutines?"})
	req := httptest.NewRequest(http.MethodPost, "/qa", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp qaResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.NotEmpty(t, resp.Answer)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "local", resp.Sources[0].Type)
	assert.Equal(t, "doc-1", resp.Sources[0].SourceID)
	assert.Empty(t, resp.Sources[0].URI)
}

func TestQAInvalidJSON(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/qa", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
