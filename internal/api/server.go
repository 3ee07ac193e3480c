// Package api exposes the ingestion, search and ask operations over HTTP.
//
// Routing uses net/http's ServeMux with method-and-pattern routes. The
// /api/v1 surface runs behind the full middleware stack (recovery, request
// ID, logging, CORS, per-IP rate limit); /health and /ready bypass it so
// probes stay cheap and unthrottled.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/corvid-labs/ragd/internal/answer"
	"github.com/corvid-labs/ragd/internal/ingest"
	"github.com/corvid-labs/ragd/internal/search"
	"github.com/corvid-labs/ragd/internal/store"
)

// Config carries the transport-level settings of the server.
type Config struct {
	CORSOrigins []string
	TrustProxy  bool
	RateRPS     float64 // requests per second per client IP
	RateBurst   int
}

// Server wires the HTTP surface to the domain services.
type Server struct {
	pipeline    *ingest.Pipeline
	searcher    *search.Service
	synthesizer *answer.Synthesizer
	store       store.Store
	ready       func(context.Context) error // nil = always ready
	handler     http.Handler
	limiter     *rateLimiter
	logger      *slog.Logger
}

// New builds the server and its routes. ready, if non-nil, is consulted by
// the readiness probe (typically a database ping).
func New(pipeline *ingest.Pipeline, searcher *search.Service, synthesizer *answer.Synthesizer,
	st store.Store, ready func(context.Context) error, cfg Config, logger *slog.Logger) *Server {

	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RateRPS <= 0 {
		cfg.RateRPS = 10
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 20
	}

	s := &Server{
		pipeline:    pipeline,
		searcher:    searcher,
		synthesizer: synthesizer,
		store:       st,
		ready:       ready,
		limiter:     newRateLimiter(cfg.RateRPS, cfg.RateBurst, cfg.TrustProxy),
		logger:      logger,
	}

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/v1/documents", s.handleIngest)
	apiMux.HandleFunc("GET /api/v1/documents", s.handleListDocuments)
	apiMux.HandleFunc("GET /api/v1/documents/{id}", s.handleGetDocument)
	apiMux.HandleFunc("DELETE /api/v1/documents/{id}", s.handleDeleteDocument)
	apiMux.HandleFunc("GET /api/v1/search", s.handleSearch)
	apiMux.HandleFunc("POST /api/v1/search", s.handleSearch)
	apiMux.HandleFunc("POST /api/v1/ask", s.handleAsk)
	apiMux.HandleFunc("GET /api/v1/history", s.handleHistory)

	wrapped := chain(apiMux,
		recoveryMiddleware(logger),
		requestIDMiddleware(),
		loggingMiddleware(logger),
		corsMiddleware(cfg.CORSOrigins),
		rateLimitMiddleware(s.limiter, logger),
	)

	// Probes stay outside the middleware stack.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", s.handleHealth)
	topMux.HandleFunc("GET /ready", s.handleReady)
	topMux.Handle("/api/", wrapped)

	s.handler = topMux
	return s
}

// Handler returns the root handler for an http.Server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// StartSweeper starts the rate-limiter cleanup loop; it stops when ctx is
// canceled.
func (s *Server) StartSweeper(ctx context.Context) {
	go s.limiter.sweep(ctx, time.Minute, 10*time.Minute)
}
