package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/content-pipeline/internal/config"
	"github.com/jonathan/content-pipeline/internal/db"
	"github.com/jonathan/content-pipeline/internal/pipeline"
	"github.com/jonathan/content-pipeline/internal/readiness"
	"github.com/jonathan/content-pipeline/internal/server/middleware"
	"github.com/jonathan/content-pipeline/internal/server/ratelimit"
	"github.com/jonathan/content-pipeline/internal/types"
)

const shutdownTimeout = 30 * time.Second

// Orchestrator is the part of pipeline.Orchestrator the API drives.
type Orchestrator interface {
	StartFullPipeline(ctx context.Context, pipelineID string, opts pipeline.RunOptions) (*types.PipelineRun, error)
	StartBatch(ctx context.Context, pipelineID string, count int, opts pipeline.BatchOptions) (*types.BatchResult, error)
	GetRunStatus(ctx context.Context, runID string) (*pipeline.RunStatus, error)
	CancelRun(ctx context.Context, runID string) error
}

// Readiness reports the compute engine state.
type Readiness interface {
	Info() readiness.Info
	CheckHealth(ctx context.Context) readiness.Info
}

// Config holds server configuration.
type Config struct {
	Port int
	// JWT enables bearer-token auth on every route but /health when set.
	JWT       *config.JWTConfig
	RateLimit *ratelimit.Config
}

// Deps are the components the handlers call.
type Deps struct {
	Orchestrator Orchestrator
	Store        *db.Store
	Readiness    Readiness
	Logger       *zap.Logger
}

// Server represents the HTTP server.
type Server struct {
	httpServer   *http.Server
	orchestrator Orchestrator
	store        *db.Store
	readiness    Readiness
	rateLimiter  *ratelimit.Limiter
	jwtService   *JWTService
	logger       *zap.Logger
}

// New creates a server instance. It does not start listening.
func New(cfg Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store := deps.Store
	if store == nil {
		store = db.NewMemoryStore()
	}
	rateConfig := cfg.RateLimit
	if rateConfig == nil {
		rateConfig = ratelimit.LoadConfig()
	}

	s := &Server{
		orchestrator: deps.Orchestrator,
		store:        store,
		readiness:    deps.Readiness,
		rateLimiter:  ratelimit.NewLimiter(rateConfig),
		logger:       logger.Named("http"),
	}
	if cfg.JWT != nil {
		s.jwtService = NewJWTService(cfg.JWT)
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.Handle("GET /engine/readiness", s.protect(s.handleReadiness))

	// Runs
	mux.Handle("POST /pipelines/{id}/runs", s.protect(s.handleTriggerRun))
	mux.Handle("GET /runs/{id}", s.protect(s.handleGetRun))
	mux.Handle("POST /runs/{id}/cancel", s.protect(s.handleCancelRun))

	// Batches
	mux.Handle("POST /pipelines/{id}/batches", s.protect(s.handleTriggerBatch))
	mux.Handle("GET /batches/{id}", s.protect(s.handleGetBatch))

	// Records
	mux.Handle("POST /pipelines", s.protect(s.handleCreatePipeline))
	mux.Handle("GET /pipelines/{id}", s.protect(s.handleGetPipeline))
	mux.Handle("POST /personas", s.protect(s.handleCreatePersona))
	mux.Handle("GET /personas/{id}", s.protect(s.handleGetPersona))
	mux.Handle("GET /projects/{id}", s.protect(s.handleGetProject))

	return s.withRateLimit(s.withLogging(s.withCORS(mux)))
}

// protect requires a bearer token when auth is configured.
func (s *Server) protect(h http.HandlerFunc) http.Handler {
	if s.jwtService == nil {
		return h
	}
	return middleware.RequireToken(s.jwtService.AsTokenValidator())(h)
}

// Start serves until ctx is cancelled or the process receives SIGINT/SIGTERM,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("addr", s.httpServer.Addr), zap.Bool("auth", s.jwtService != nil))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.rateLimiter.Stop()
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	defer s.rateLimiter.Stop()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// withCORS adds CORS headers.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withRateLimit rejects clients over their limit with 429.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.rateLimiter.Allow(s.extractClientID(r), r.URL.Path, r.Method)
		s.setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withLogging logs one line per request.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.String("remote", r.RemoteAddr),
			zap.Duration("duration", time.Since(start)))
	})
}

// jsonResponse writes a JSON response.
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

// errorResponse writes an error JSON response.
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// fail maps err to a status code and writes it. Server errors are logged.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	s.errorResponse(w, status, err.Error())
}

// extractClientID returns the client IP from RemoteAddr.
func (s *Server) extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets the X-RateLimit-* headers on limited routes.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit <= 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))
}

// rateLimitResponse writes a 429 Too Many Requests response.
func (s *Server) rateLimitResponse(w http.ResponseWriter, info ratelimit.Info) {
	response := map[string]any{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
	}
	if !info.ResetTime.IsZero() {
		response["reset_at"] = info.ResetTime.Format(time.RFC3339)
	}
	if info.RetryAfter > 0 {
		seconds := int(info.RetryAfter.Round(time.Second).Seconds())
		response["retry_after"] = seconds
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
	s.logger.Warn("rate limit exceeded", zap.Int("limit", info.Limit), zap.Duration("retry_after", info.RetryAfter))
	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
