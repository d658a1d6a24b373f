// Package orchestrator wires the retrieval, generation, ranking,
// confidence gate, external fan-out, merge, and cache stages into the
// single Answer entry point the HTTP layer calls. It owns no pipeline
// logic itself, only sequencing, deadlines, and state transitions.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/knoguchi/agenticrag/internal/cache"
	"github.com/knoguchi/agenticrag/internal/eka"
	"github.com/knoguchi/agenticrag/internal/generator"
	"github.com/knoguchi/agenticrag/internal/merger"
	"github.com/knoguchi/agenticrag/internal/query"
	"github.com/knoguchi/agenticrag/internal/ranker"
	"github.com/knoguchi/agenticrag/internal/repository"
	"github.com/knoguchi/agenticrag/internal/retriever"
)

// State names a stage of the pipeline a query is currently in, for
// structured-logging observability. It does not gate control flow by
// itself; it is recorded at each transition.
type State string

const (
	StateReceived   State = "received"
	StateRetrieving State = "retrieving"
	StateGenerating State = "generating"
	StateRanked     State = "ranked"
	StateGated      State = "gated"
	StateMerging    State = "merging"
	StateCached     State = "cached"
	StateResponded  State = "responded"
)

// DefaultThetaLocal is the confidence floor below which the external
// knowledge agent is consulted.
const DefaultThetaLocal = 0.75

// Default per-stage deadlines.
const (
	DefaultRetrieveTimeout = 2 * time.Second
	DefaultGenerateTimeout = 15 * time.Second
	DefaultExternalTimeout = 10 * time.Second
	DefaultTotalTimeout    = 30 * time.Second
)

// PreGateFloor is the retrieval top-1 score below which EKA is
// eagerly started in parallel with GEN instead of waiting for the
// gate to evaluate LocalAnswer. This never changes the observable
// response, only its latency.
const PreGateFloor = 0.3

// Config holds the tunables the orchestrator's stages run under. A
// request's scope, when one is configured, can override TopK through
// UseHybrid via resolveConfig; the timeouts and AdmissionLimit stay
// process-wide.
type Config struct {
	TopK              int
	MinRetrievalScore float32
	MinFinalScore     float32
	NCandidates       int
	ThetaLocal        float64
	Model             string
	SystemPrompt      string
	UseHybrid         bool
	RetrieveTimeout   time.Duration
	GenerateTimeout   time.Duration
	ExternalTimeout   time.Duration
	TotalTimeout      time.Duration
	AdmissionLimit    int
}

// DefaultConfig returns a Config with the spec's defaults.
func DefaultConfig() Config {
	return Config{
		TopK:              4,
		MinRetrievalScore: 0.1,
		MinFinalScore:     0.3,
		NCandidates:       len(generator.Profiles),
		ThetaLocal:        DefaultThetaLocal,
		RetrieveTimeout:   DefaultRetrieveTimeout,
		GenerateTimeout:   DefaultGenerateTimeout,
		ExternalTimeout:   DefaultExternalTimeout,
		TotalTimeout:      DefaultTotalTimeout,
		AdmissionLimit:    64,
	}
}

// Response is the shape the HTTP layer serializes.
type Response struct {
	Answer           string
	Confidence       float64
	Sources          []merger.Source
	ProcessingMS     int64
	Strategy         string
	Cached           bool
	Degraded         bool
	ExternalTimedOut bool
}

// Orchestrator sequences one query through every pipeline stage.
type Orchestrator struct {
	retriever *retriever.Retriever
	generator *generator.Generator
	eka       eka.Agent
	scopes    repository.ScopeRepository
	cache     *cache.Cache
	cfg       Config
	logger    *slog.Logger
	admission chan struct{}
}

// New builds an Orchestrator. eka may be nil, meaning no external
// agent is configured and the gate never fans out. scopes may be nil,
// meaning every request runs under the base Config with no per-scope
// overrides.
func New(ret *retriever.Retriever, gen *generator.Generator, externalAgent eka.Agent, scopes repository.ScopeRepository, c *cache.Cache, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.AdmissionLimit
	if limit <= 0 {
		limit = 64
	}
	return &Orchestrator{
		retriever: ret,
		generator: gen,
		eka:       externalAgent,
		scopes:    scopes,
		cache:     c,
		cfg:       cfg,
		logger:    logger,
		admission: make(chan struct{}, limit),
	}
}

// resolveConfig applies the named scope's ScopeConfig overrides (when
// a scope repository is wired and the scope resolves) on top of the
// base Config. scopeID is tried first as a UUID, then as a scope
// name, matching how requests may address a scope either way. A
// lookup miss or repository error falls back to the base Config
// silently: scope overrides are a convenience, not a hard dependency.
func (o *Orchestrator) resolveConfig(ctx context.Context, scopeID string) Config {
	cfg := o.cfg
	if o.scopes == nil || scopeID == "" {
		return cfg
	}

	scope, err := o.lookupScope(ctx, scopeID)
	if err != nil || scope == nil {
		return cfg
	}

	sc := scope.Config
	if sc.TopK > 0 {
		cfg.TopK = sc.TopK
	}
	if sc.MinRetrievalScore > 0 {
		cfg.MinRetrievalScore = sc.MinRetrievalScore
	}
	if sc.MinFinalScore > 0 {
		cfg.MinFinalScore = sc.MinFinalScore
	}
	if sc.NCandidates > 0 {
		cfg.NCandidates = sc.NCandidates
	}
	if sc.ThetaLocal > 0 {
		cfg.ThetaLocal = sc.ThetaLocal
	}
	if sc.SystemPrompt != "" {
		cfg.SystemPrompt = sc.SystemPrompt
	}
	if sc.LLMModel != "" {
		cfg.Model = sc.LLMModel
	}
	cfg.UseHybrid = sc.HybridSearchEnabled
	return cfg
}

// lookupScope resolves scopeID as a UUID first, falling back to a
// by-name lookup when it does not parse as one.
func (o *Orchestrator) lookupScope(ctx context.Context, scopeID string) (*repository.Scope, error) {
	if id, err := uuid.Parse(scopeID); err == nil {
		return o.scopes.GetByID(ctx, id)
	}
	return o.scopes.GetByName(ctx, scopeID)
}

// ErrSaturated is returned when the admission queue is full.
var ErrSaturated = errors.New("orchestrator: admission queue saturated")

// Answer runs the full pipeline for one question and returns the
// response plus a typed outcome describing how it got there.
func (o *Orchestrator) Answer(ctx context.Context, question, scopeID string, useExternal bool) (Response, Outcome) {
	start := time.Now()

	if question == "" {
		return Response{}, Failed(KindValidation, "question must not be empty")
	}

	select {
	case o.admission <- struct{}{}:
		defer func() { <-o.admission }()
	default:
		return Response{}, Failed(KindUpstreamUnavailable, ErrSaturated.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.TotalTimeout)
	defer cancel()

	q := query.New(question, scopeID)
	o.logTransition(q, StateReceived)

	if cached, ok := o.cache.Get(q.Fingerprint); ok {
		o.logTransition(q, StateCached)
		resp := toResponse(cached, true, time.Since(start))
		o.logTransition(q, StateResponded)
		return resp, OK()
	}

	cfg := o.resolveConfig(ctx, scopeID)
	result, cachedHit, err := o.cache.GetOrCompute(ctx, q.Fingerprint, func(ctx context.Context) (merger.Result, error) {
		return o.run(ctx, q, useExternal, cfg)
	})
	if err != nil {
		var oerr *outcomeError
		if errors.As(err, &oerr) {
			return Response{}, oerr.outcome
		}
		return Response{}, Failed(KindInternal, err.Error())
	}

	o.logTransition(q, StateResponded)
	return toResponse(result, cachedHit, time.Since(start)), OK()
}

// outcomeError lets run() surface a typed Outcome through the
// singleflight/error-returning compute callback.
type outcomeError struct {
	outcome Outcome
}

func (e *outcomeError) Error() string { return e.outcome.Reason }

// run executes one full, uncached pipeline pass: retrieve, generate,
// rank, gate, optionally consult EKA, merge. cfg is the scope-resolved
// Config for this request.
func (o *Orchestrator) run(ctx context.Context, q query.Query, useExternal bool, cfg Config) (merger.Result, error) {
	retrieveCtx, cancel := context.WithTimeout(ctx, cfg.RetrieveTimeout)
	defer cancel()

	o.logTransition(q, StateRetrieving)
	retrieveResult, err := o.retriever.Retrieve(retrieveCtx, retriever.Params{
		Query:             q.Normalized,
		ScopeID:           q.ScopeID,
		TopK:              cfg.TopK,
		MinRetrievalScore: cfg.MinRetrievalScore,
		MinFinalScore:     cfg.MinFinalScore,
		UseHybrid:         cfg.UseHybrid,
	})
	if err != nil {
		if errors.Is(retrieveCtx.Err(), context.DeadlineExceeded) {
			return merger.Result{}, &outcomeError{Failed(KindTimeout, "retrieval deadline exceeded")}
		}
		return merger.Result{}, &outcomeError{Failed(KindUpstreamUnavailable, fmt.Sprintf("retrieval failed: %v", err))}
	}

	passages := make([]string, 0, len(retrieveResult.Passages))
	sources := make([]merger.Source, 0, len(retrieveResult.Passages))
	for _, p := range retrieveResult.Passages {
		passages = append(passages, p.Content)
		sources = append(sources, merger.Source{
			Type:       merger.SourceLocal,
			Score:      float64(p.FinalScore),
			ID:         p.DocumentID,
			ChunkIndex: chunkIndexFromMetadata(p.Metadata),
		})
	}

	// Pre-gate heuristic: start EKA eagerly in parallel with GEN when
	// the top retrieval score is already weak, without changing the
	// final observable response.
	var eagerExternal <-chan eka.Answer
	if useExternal && o.eka != nil && shouldPreGate(retrieveResult.Passages) {
		eagerExternal = o.startExternal(ctx, q.Normalized, cfg.ExternalTimeout)
	}

	generateCtx, genCancel := context.WithTimeout(ctx, cfg.GenerateTimeout)
	defer genCancel()

	o.logTransition(q, StateGenerating)
	candidates, err := o.generator.Generate(generateCtx, generator.Params{
		Question:     q.Normalized,
		Passages:     retrieveResult.Passages,
		Model:        cfg.Model,
		SystemPrompt: cfg.SystemPrompt,
		NCandidates:  cfg.NCandidates,
	})
	degraded := retrieveResult.Outcome == retriever.OutcomeDegraded
	if err != nil || len(candidates) == 0 {
		candidates = []generator.Candidate{generator.InsufficientInformationCandidate()}
		degraded = true
	}

	o.logTransition(q, StateRanked)
	scored := ranker.Rank(candidates, passages)

	var local merger.Local
	if len(scored) == 0 {
		local = merger.Local{Answer: generator.InsufficientInformationCandidate().Answer, Confidence: 0.1, Sources: sources, Degraded: true}
	} else {
		winner := scored[0]
		local = merger.Local{
			Answer:     winner.Answer,
			Confidence: winner.Score,
			Sources:    sources,
			Degraded:   degraded,
		}
	}

	o.logTransition(q, StateGated)
	external := merger.External{}
	if useExternal && o.eka != nil && local.Confidence < cfg.ThetaLocal {
		external = o.consultExternal(ctx, q.Normalized, eagerExternal, cfg.ExternalTimeout)
	} else if eagerExternal != nil {
		// Pre-gate fired but the post-generation confidence turned out
		// fine; drain the eager call so its goroutine doesn't leak, but
		// discard the answer to keep observable output identical to the
		// non-eager path.
		select {
		case <-eagerExternal:
		case <-ctx.Done():
		}
	}

	o.logTransition(q, StateMerging)
	result := merger.Merge(local, external)
	return result, nil
}

// chunkIndexFromMetadata reads an optional "chunk_index" key out of a
// search result's generic metadata map. Ingestion's chunk index isn't
// modeled as a first-class vectorstore field, so this is read
// best-effort: a missing or unparseable key yields no chunk index
// rather than a fabricated one.
func chunkIndexFromMetadata(metadata map[string]string) *int {
	raw, ok := metadata["chunk_index"]
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &n
}

// shouldPreGate reports whether the top retrieval score is weak
// enough to justify eagerly starting EKA before the gate runs.
func shouldPreGate(passages []retriever.Passage) bool {
	if len(passages) == 0 {
		return true
	}
	return passages[0].FinalScore < PreGateFloor
}

// startExternal launches the EKA call in the background and returns a
// channel carrying its single result.
func (o *Orchestrator) startExternal(ctx context.Context, question string, timeout time.Duration) <-chan eka.Answer {
	out := make(chan eka.Answer, 1)
	go func() {
		externalCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		answer, err := o.eka.Ask(externalCtx, question)
		if err != nil {
			out <- eka.Answer{}
			return
		}
		out <- answer
	}()
	return out
}

// consultExternal either waits on an already-started eager call or
// starts a fresh one, enforcing the external deadline either way.
func (o *Orchestrator) consultExternal(ctx context.Context, question string, eager <-chan eka.Answer, timeout time.Duration) merger.External {
	ch := eager
	if ch == nil {
		ch = o.startExternal(ctx, question, timeout)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case answer := <-ch:
		if answer.Text == "" {
			return merger.External{TimedOut: true}
		}
		extSources := make([]merger.Source, 0, len(answer.Sources))
		for _, uri := range answer.Sources {
			extSources = append(extSources, merger.Source{Type: merger.SourceExternal, Score: answer.Confidence, ID: uri})
		}
		return merger.External{Present: true, Answer: answer.Text, Confidence: answer.Confidence, Sources: extSources}
	case <-timer.C:
		return merger.External{TimedOut: true}
	case <-ctx.Done():
		return merger.External{TimedOut: true}
	}
}

func (o *Orchestrator) logTransition(q query.Query, state State) {
	o.logger.Debug("pipeline state transition", "fingerprint", q.Fingerprint, "state", string(state))
}

func toResponse(result merger.Result, cached bool, elapsed time.Duration) Response {
	strategy := string(result.Strategy)
	if result.Strategy == merger.StrategyLocalOnly {
		// The local-only path merged no external answer (none was
		// consulted, or it did not arrive), so there is no merge
		// strategy to report.
		strategy = ""
	}
	return Response{
		Answer:           result.Answer,
		Confidence:       result.Confidence,
		Sources:          result.Provenance,
		ProcessingMS:     elapsed.Milliseconds(),
		Strategy:         strategy,
		Cached:           cached,
		Degraded:         result.Degraded,
		ExternalTimedOut: result.ExternalTimedOut,
	}
}
