// Package httpapi implements the public HTTP surface: POST /qa plus
// health and readiness probes. It owns no business logic — only
// request decoding, orchestrator invocation, and response encoding.
// Middleware stack grounded on the teacher's HTTPServer (RequestID,
// RealIP, request logging, Recoverer, CORS), with the grpc-gateway
// registration it also carried dropped entirely.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/knoguchi/agenticrag/internal/merger"
	"github.com/knoguchi/agenticrag/internal/orchestrator"
)

// Server wraps the chi router exposing the orchestrator over HTTP.
type Server struct {
	router *chi.Mux
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
}

// New builds a Server with its routes and middleware already wired.
func New(orch *orchestrator.Orchestrator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{router: chi.NewRouter(), orch: orch, logger: logger}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(corsMiddleware)

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)
	s.router.Post("/qa", s.handleQA)

	return s
}

// ServeHTTP lets Server be used directly as an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type qaRequest struct {
	Question    string `json:"question"`
	DocumentID  string `json:"document_id,omitempty"`
	UseExternal bool   `json:"use_external,omitempty"`
}

type qaResponse struct {
	Answer           string           `json:"answer"`
	Confidence       float64          `json:"confidence"`
	Sources          []sourceResponse `json:"sources"`
	ProcessingMS     int64            `json:"processing_ms"`
	Strategy         string           `json:"strategy,omitempty"`
	Cached           bool             `json:"cached"`
	Degraded         bool             `json:"degraded,omitempty"`
	ExternalTimedOut bool             `json:"external_timed_out,omitempty"`
}

// sourceResponse is one provenance entry as spec §6 requires it on the
// wire: a local passage carries source_id and an optional chunk
// index, an external citation carries uri instead.
type sourceResponse struct {
	Type       string  `json:"type"`
	Score      float64 `json:"score"`
	SourceID   string  `json:"source_id,omitempty"`
	URI        string  `json:"uri,omitempty"`
	ChunkIndex *int    `json:"chunk_index,omitempty"`
}

func toSourceResponses(sources []merger.Source) []sourceResponse {
	out := make([]sourceResponse, 0, len(sources))
	for _, s := range sources {
		sr := sourceResponse{Type: string(s.Type), Score: s.Score, ChunkIndex: s.ChunkIndex}
		if s.Type == merger.SourceExternal {
			sr.URI = s.ID
		} else {
			sr.SourceID = s.ID
		}
		out = append(out, sr)
	}
	return out
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleQA(w http.ResponseWriter, r *http.Request) {
	var req qaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, outcome := s.orch.Answer(r.Context(), req.Question, req.DocumentID, req.UseExternal)
	if outcome.Failed {
		writeError(w, outcome.HTTPStatus(), outcome.Reason)
		return
	}

	writeJSON(w, http.StatusOK, qaResponse{
		Answer:           resp.Answer,
		Confidence:       resp.Confidence,
		Sources:          toSourceResponses(resp.Sources),
		ProcessingMS:     resp.ProcessingMS,
		Strategy:         resp.Strategy,
		Cached:           resp.Cached,
		Degraded:         resp.Degraded,
		ExternalTimedOut: resp.ExternalTimedOut,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
