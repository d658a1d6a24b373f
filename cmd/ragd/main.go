package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/knoguchi/agenticrag/internal/cache"
	"github.com/knoguchi/agenticrag/internal/config"
	"github.com/knoguchi/agenticrag/internal/eka"
	"github.com/knoguchi/agenticrag/internal/embedder"
	"github.com/knoguchi/agenticrag/internal/generator"
	"github.com/knoguchi/agenticrag/internal/httpapi"
	"github.com/knoguchi/agenticrag/internal/llm"
	"github.com/knoguchi/agenticrag/internal/orchestrator"
	"github.com/knoguchi/agenticrag/internal/repository/postgres"
	"github.com/knoguchi/agenticrag/internal/reranker"
	"github.com/knoguchi/agenticrag/internal/retriever"
	"github.com/knoguchi/agenticrag/internal/vectorstore"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("failed to run server", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("starting orchestrator service",
		"http_port", cfg.HTTPPort,
		"environment", cfg.Environment,
	)

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	slog.Info("connected to PostgreSQL")

	// scopeRepo holds per-scope retrieval/generation overrides (top_k,
	// min scores, system prompt, model, theta_local); the orchestrator
	// looks one up by document scope id on every request and falls back
	// to orchCfg below when none is found.
	scopeRepo := postgres.NewScopeRepo(db)

	vectorStore, err := vectorstore.NewQdrantStore(ctx, cfg.QdrantGRPCURL)
	if err != nil {
		return fmt.Errorf("failed to connect to Qdrant: %w", err)
	}
	defer vectorStore.Close()
	slog.Info("connected to Qdrant")

	embed := embedder.NewOllamaEmbedder(embedder.OllamaConfig{
		BaseURL: cfg.OllamaURL,
		Model:   cfg.OllamaEmbeddingModel,
	})
	slog.Info("initialized Ollama embedder", "model", cfg.OllamaEmbeddingModel)

	llmClient := llm.NewOllamaClient(
		llm.WithBaseURL(cfg.OllamaURL),
		llm.WithModel(cfg.OllamaLLMModel),
	)
	slog.Info("initialized Ollama LLM", "model", cfg.OllamaLLMModel)

	retOpts := []retriever.Option{retriever.WithLogger(slog.Default())}
	if cfg.RerankerEnabled {
		retOpts = append(retOpts, retriever.WithReranker(reranker.NewLLMReranker(llmClient)))
	}
	ret := retriever.New(embed, vectorStore, retOpts...)

	gen := generator.New(llmClient)

	var externalAgent eka.Agent
	if cfg.EKABaseURL != "" {
		externalAgent = eka.NewHTTPAgent(cfg.EKABaseURL)
		slog.Info("external knowledge agent configured", "base_url", cfg.EKABaseURL)
	}

	resultCache := cache.New(time.Duration(cfg.CacheTTLSeconds) * time.Second)

	orchCfg := orchestrator.Config{
		TopK:              cfg.DefaultTopK,
		MinRetrievalScore: cfg.DefaultMinRetrievalScore,
		MinFinalScore:     cfg.DefaultMinFinalScore,
		NCandidates:       cfg.DefaultNCandidates,
		ThetaLocal:        cfg.ThetaLocal,
		RetrieveTimeout:   cfg.RetrieveTimeout,
		GenerateTimeout:   cfg.GenerateTimeout,
		ExternalTimeout:   cfg.ExternalTimeout,
		TotalTimeout:      cfg.TotalTimeout,
		AdmissionLimit:    cfg.AdmissionQueueDepth,
	}
	orch := orchestrator.New(ret, gen, externalAgent, scopeRepo, resultCache, orchCfg, slog.Default())

	apiServer := httpapi.New(orch, slog.Default())
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      apiServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.TotalTimeout + 5*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting HTTP server", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	}

	slog.Info("shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown HTTP server", "error", err)
	}

	slog.Info("server stopped")
	return nil
}
