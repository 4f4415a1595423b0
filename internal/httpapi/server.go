// Package httpapi is the HTTP framing in front of the registry's dispatch
// entry point. It owns no scheduling logic: decode, dispatch, stream, map
// errors.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"poold/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Dispatch(ctx context.Context, req types.GenerateRequest) (<-chan types.Chunk, error)
	Status() types.StatusResponse
	Ready() bool
}

// maxBodyBytes controls the maximum allowed request body size for JSON
// endpoints.
const maxBodyBytes int64 = 1 << 20

// Server wires the router to a Service with a structured logger.
type Server struct {
	svc Service
	log zerolog.Logger
}

// NewMux builds the chi router for the service.
func NewMux(svc Service, log zerolog.Logger) http.Handler {
	s := &Server{svc: svc, log: log}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	r.Use(MetricsMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/v1/generate", s.handleGenerate)
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.svc.Ready() {
		writeJSONError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.svc.Status()); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
	}
}

// handleGenerate streams response chunks as NDJSON lines. The stream is the
// completion signal: the connection stays open until the terminal chunk.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req types.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSONError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	start := time.Now()
	lg := s.log.With().
		Str("model", req.Model).
		Str("request_id", middleware.GetReqID(r.Context())).
		Logger()
	lg.Info().Msg("generate start")

	stream, err := s.svc.Dispatch(r.Context(), req)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		code := statusForError(err)
		lg.Info().Int("status", code).Dur("dur", time.Since(start)).Err(err).Msg("generate end")
		writeJSONError(w, code, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	var flush func()
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}
	enc := json.NewEncoder(w)
	for chunk := range stream {
		if err := enc.Encode(chunk); err != nil {
			// Client gone; the worker notices via context cancellation.
			return
		}
		if flush != nil {
			flush()
		}
	}
	lg.Info().Int("status", http.StatusOK).Dur("dur", time.Since(start)).Msg("generate end")
}
