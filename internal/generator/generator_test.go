package generator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/knoguchi/agenticrag/internal/llm"
	"github.com/knoguchi/agenticrag/internal/retriever"
	"github.com/knoguchi/agenticrag/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLLM struct {
	err error
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts llm.GenerateOptions) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("answer at temp %.1f", opts.Temperature), nil
}

func (f *fakeLLM) GenerateStream(ctx context.Context, prompt string, opts llm.GenerateOptions) (<-chan llm.StreamChunk, error) {
	return nil, nil
}

func samplePassages() []retriever.Passage {
	return []retriever.Passage{
		{SearchResult: vectorstore.SearchResult{DocumentID: "doc-1", Content: "Go uses goroutines for concurrency."}, FinalScore: 0.9},
	}
}

func TestGenerateProducesOneCandidatePerProfile(t *testing.T) {
	gen := New(&fakeLLM{})
	candidates, err := gen.Generate(context.Background(), Params{
		Question: "How does Go handle concurrency?",
		Passages: samplePassages(),
	})
	require.NoError(t, err)
	assert.Len(t, candidates, len(Profiles))
	tags := make(map[string]bool)
	for _, c := range candidates {
		tags[c.ProfileTag] = true
		assert.NoError(t, c.Err)
		assert.NotEmpty(t, c.Answer)
	}
	assert.Len(t, tags, len(Profiles))
}

func TestGenerateRespectsNCandidates(t *testing.T) {
	gen := New(&fakeLLM{})
	candidates, err := gen.Generate(context.Background(), Params{
		Question:    "q",
		Passages:    samplePassages(),
		NCandidates: 2,
	})
	require.NoError(t, err)
	assert.Len(t, candidates, 2)
}

func TestGenerateCapturesPerCandidateErrors(t *testing.T) {
	gen := New(&fakeLLM{err: errors.New("llm down")})
	candidates, err := gen.Generate(context.Background(), Params{
		Question: "q",
		Passages: samplePassages(),
	})
	require.NoError(t, err)
	for _, c := range candidates {
		assert.Error(t, c.Err)
	}
}

func TestBuildContextTruncatesFromTail(t *testing.T) {
	longPassage := retriever.Passage{
		SearchResult: vectorstore.SearchResult{DocumentID: "doc-1", Content: string(make([]byte, maxContextTokenBudget*approxCharsPerToken*2))},
	}
	out := buildContext([]retriever.Passage{longPassage})
	assert.LessOrEqual(t, len(out), maxContextTokenBudget*approxCharsPerToken+100)
}
