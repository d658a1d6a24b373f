// Package generator implements the candidate generation stage: build
// a grounded prompt from retrieved passages and ask the LLM for
// several candidate answers under distinct fixed sampling profiles,
// concurrently and with a bounded deadline. Grounded on the teacher's
// buildRAGPrompt/Generate sequence (context/document headers, system
// prompt) and the multi-strategy generate-then-score pattern from the
// reference agent, narrowed to the four profiles named below.
package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/knoguchi/agenticrag/internal/llm"
	"github.com/knoguchi/agenticrag/internal/retriever"
	"golang.org/x/sync/errgroup"
)

// defaultSystemPrompt mirrors the grounded-answer discipline the
// orchestrator expects every profile to follow.
const defaultSystemPrompt = `You are a concise knowledge assistant. Answer questions using ONLY the provided documents.

IMPORTANT: Be brief and direct. Most answers should be 2-5 sentences.

Rules:
- Give the direct answer first
- Do NOT include step-by-step instructions unless specifically asked
- Do NOT include code examples unless specifically asked for code
- If the documents don't cover the topic, say "The documents don't cover this."
- Never invent information not in the provided documents`

// maxContextTokenBudget bounds the total size of the context block
// built from retrieved passages. A passage that would overrun the
// remaining budget is truncated from the tail; passages after the
// budget is spent are left out.
const maxContextTokenBudget = 3000

// approxCharsPerToken is a cheap token-count proxy; good enough to
// bound prompt size without pulling in a tokenizer dependency.
const approxCharsPerToken = 4

// Profile is a fixed sampling configuration a candidate is generated under.
type Profile struct {
	Tag         string
	Temperature float32
	Instruction string
}

// Profiles is the fixed, ordered set of sampling profiles every
// generation round uses. Order matters: when NCandidates is below
// len(Profiles), the first NCandidates profiles are the ones run.
// Ranking ties are broken by tag, not by this order.
var Profiles = []Profile{
	{Tag: "precise", Temperature: 0.2, Instruction: "Provide a precise, factual answer based strictly on the context."},
	{Tag: "balanced", Temperature: 0.5, Instruction: "Provide a balanced, well-rounded answer based on the context."},
	{Tag: "exploratory", Temperature: 0.9, Instruction: "Consider multiple angles in the context before answering."},
	{Tag: "analytical", Temperature: 0.4, Instruction: "Analyze the context systematically before giving the answer."},
}

// Candidate is one generated answer along with the profile that produced it.
type Candidate struct {
	ProfileTag string
	Answer     string
	Err        error
}

// Generator runs the fixed-profile best-of-N generation stage.
type Generator struct {
	llm llm.LLM
}

// New builds a Generator backed by the given LLM client.
func New(client llm.LLM) *Generator {
	return &Generator{llm: client}
}

// Params configures a single generation round.
type Params struct {
	Question     string
	Passages     []retriever.Passage
	History      string
	Model        string
	SystemPrompt string
	MaxTokens    int
	NCandidates  int
}

// Generate runs up to len(Profiles) candidates concurrently (bounded
// to NCandidates, or all profiles if NCandidates <= 0), returning one
// candidate per profile run. A candidate whose call errors, including
// one cut off by ctx, is still returned, carrying its error, so the
// ranker can see exactly how many attempts were made.
func (g *Generator) Generate(ctx context.Context, p Params) ([]Candidate, error) {
	profiles := Profiles
	if p.NCandidates > 0 && p.NCandidates < len(profiles) {
		profiles = profiles[:p.NCandidates]
	}

	systemPrompt := p.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}

	contextBlock := buildContext(p.Passages)
	prompt := buildPrompt(p.Question, contextBlock, p.History)

	candidates := make([]Candidate, len(profiles))

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(min(len(profiles), 4))

	for i, profile := range profiles {
		i, profile := i, profile
		grp.Go(func() error {
			profilePrompt := fmt.Sprintf("%s\n\n%s", profile.Instruction, prompt)
			answer, err := g.llm.Generate(gctx, profilePrompt, llm.GenerateOptions{
				Model:        p.Model,
				SystemPrompt: systemPrompt,
				Temperature:  profile.Temperature,
				MaxTokens:    p.MaxTokens,
			})
			candidates[i] = Candidate{ProfileTag: profile.Tag, Answer: answer, Err: err}
			return nil
		})
	}

	// Every goroutine returns nil (individual failures, a cancelled ctx
	// included, are captured per-candidate), so Wait returns nil once
	// all of them have finished.
	if err := grp.Wait(); err != nil {
		return partialResults(candidates), err
	}
	return candidates, nil
}

// InsufficientInformationCandidate is the single low-confidence
// candidate substituted in when the generator cannot be reached at
// all, so the pipeline degrades instead of failing the request.
func InsufficientInformationCandidate() Candidate {
	return Candidate{
		ProfileTag: "precise",
		Answer:     "The documents don't cover this.",
	}
}

func partialResults(candidates []Candidate) []Candidate {
	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Answer != "" || c.Err != nil {
			out = append(out, c)
		}
	}
	return out
}

// buildContext renders each passage under a stable "[Doc N]" header,
// truncating from the tail when the running total exceeds the token
// budget so earlier, typically higher-ranked, passages survive intact.
func buildContext(passages []retriever.Passage) string {
	var b strings.Builder
	budget := maxContextTokenBudget * approxCharsPerToken

	for i, p := range passages {
		header := fmt.Sprintf("[Doc %d] (Source: %s)\n", i+1, p.DocumentID)
		remaining := budget - b.Len() - len(header)
		if remaining <= 0 {
			break
		}
		content := p.Content
		if len(content) > remaining {
			content = content[:remaining]
		}
		b.WriteString(header)
		b.WriteString(content)
		b.WriteString("\n\n")
	}
	return b.String()
}

func buildPrompt(question, contextBlock, history string) string {
	var b strings.Builder
	if history != "" {
		b.WriteString("## Conversation History\n")
		b.WriteString(history)
		b.WriteString("\n\n")
	}
	b.WriteString("## Context Documents\n")
	b.WriteString(contextBlock)
	b.WriteString("## Question\n")
	b.WriteString(question)
	b.WriteString("\n\n## Answer (be brief and direct)\n")
	return b.String()
}
