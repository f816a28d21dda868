// Package api exposes the prompt queue and recording ingestion over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"voicecollect/internal/ingest"
	"voicecollect/internal/prompts"
	"voicecollect/pkg/logger"
	"voicecollect/pkg/model"
)

const defaultMaxUploadBytes = 50 << 20

type Ingestor interface {
	Ingest(ctx context.Context, sub model.RecordingSubmission) (ingest.Result, error)
	Rerecord(ctx context.Context, sub model.RecordingSubmission) (ingest.Result, error)
	Files(ctx context.Context) ([]model.StoredObject, error)
}

type Handler struct {
	queue          prompts.Queue
	ingestor       Ingestor
	metrics        http.Handler
	maxUploadBytes int64
	allowedOrigin  string
}

type Option func(*Handler)

// WithMetrics mounts h at /metrics
func WithMetrics(h http.Handler) Option {
	return func(a *Handler) { a.metrics = h }
}

func WithMaxUploadBytes(n int64) Option {
	return func(a *Handler) {
		if n > 0 {
			a.maxUploadBytes = n
		}
	}
}

// WithAllowedOrigin sets Access-Control-Allow-Origin. Empty allows any origin.
func WithAllowedOrigin(origin string) Option {
	return func(a *Handler) { a.allowedOrigin = origin }
}

func NewHandler(queue prompts.Queue, ingestor Ingestor, opts ...Option) *Handler {
	h := &Handler{
		queue:          queue,
		ingestor:       ingestor,
		maxUploadBytes: defaultMaxUploadBytes,
		allowedOrigin:  "*",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(h.cors, logRequests)

	router.HandleFunc("/texts", h.GetTexts).Methods(http.MethodGet)
	router.HandleFunc("/texts/upload", h.UploadTexts).Methods(http.MethodPost)
	router.HandleFunc("/texts/remove-first", h.RemoveFirstText).Methods(http.MethodDelete)

	router.HandleFunc("/audio/upload", h.UploadAudio).Methods(http.MethodPost)
	router.HandleFunc("/audio/rerecord", h.RerecordAudio).Methods(http.MethodPost)
	router.HandleFunc("/audio/files", h.ListFiles).Methods(http.MethodGet)

	router.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)
	if h.metrics != nil {
		router.Handle("/metrics", h.metrics).Methods(http.MethodGet)
	}

	// Preflight requests are answered by the CORS middleware, which only
	// runs for matched routes.
	router.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	return router
}

func (h *Handler) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", h.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		logger.Debug("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

type messageResponse struct {
	Message string `json:"message"`
}
