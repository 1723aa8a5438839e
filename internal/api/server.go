package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/config"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/metrics"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/pipeline"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/telemetry"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/tender"
)

// Store is the read surface behind the API.
type Store interface {
	GetTender(ctx context.Context, tenderID string) (tender.Record, error)
	ListTenders(ctx context.Context, category string, limit int) ([]tender.Record, error)
	GetDocument(ctx context.Context, docID string) (tender.Document, error)
	ListDocuments(ctx context.Context, tenderID string) ([]tender.Document, error)
	GetRun(ctx context.Context, runID string) (tender.Run, error)
	tender.ChunkReader
	Ping(ctx context.Context) error
}

// Runner executes ingestion runs.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Summary, error)
}

// QueryEmbedder turns search text into a vector.
type QueryEmbedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Server wires HTTP handlers to the store and the orchestrator.
type Server struct {
	router   chi.Router
	store    Store
	runner   Runner
	embedder QueryEmbedder
	cfg      config.Config
	logger   *zap.Logger

	// runs outlives individual requests; StopRuns cancels it.
	runs     context.Context
	stopRuns context.CancelFunc
}

const (
	defaultListLimit  = 50
	defaultSearchSize = 10
	maxSearchSize     = 100
)

// NewServer constructs a Server with middleware and routes. embedder may be
// nil, in which case search requires a precomputed vector.
func NewServer(store Store, runner Runner, embedder QueryEmbedder, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		store:    store,
		runner:   runner,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger,
	}
	s.runs, s.stopRuns = context.WithCancel(context.Background())
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metricsMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(60 * time.Second))
			r.Get("/tenders", s.listTenders)
			r.Get("/tenders/*", s.getTender)
			r.Get("/documents", s.listDocuments)
			r.Get("/documents/{doc_id}", s.getDocument)
			r.Get("/documents/{doc_id}/chunks", s.getChunks)
			r.Post("/search", s.search)
			r.Get("/runs/{run_id}", s.getRun)
		})
		// Runs are bounded by their own page caps, not the request timeout.
		r.Post("/runs", s.triggerRun)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// StopRuns cancels every run started through the API. Runs close as failed
// with the counts reached so far.
func (s *Server) StopRuns() {
	s.stopRuns()
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listTenders(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := s.store.ListTenders(r.Context(), r.URL.Query().Get("category"), limit)
	if err != nil {
		s.internalError(w, r, "list tenders", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenders": recs})
}

// getTender serves /v1/tenders/{number}/{year}; portal ids contain a slash.
func (s *Server) getTender(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(chi.URLParam(r, "*"), "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing tender id")
		return
	}
	rec, err := s.store.GetTender(r.Context(), id)
	if err != nil {
		s.lookupError(w, r, "tender", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	tenderID := r.URL.Query().Get("tender_id")
	if tenderID == "" {
		writeError(w, http.StatusBadRequest, "tender_id required")
		return
	}
	docs, err := s.store.ListDocuments(r.Context(), tenderID)
	if err != nil {
		s.internalError(w, r, "list documents", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.Context(), chi.URLParam(r, "doc_id"))
	if err != nil {
		s.lookupError(w, r, "document", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) getChunks(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "doc_id")
	if _, err := s.store.GetDocument(r.Context(), docID); err != nil {
		s.lookupError(w, r, "document", err)
		return
	}
	chunks, err := s.store.ListChunks(r.Context(), docID)
	if err != nil {
		s.internalError(w, r, "list chunks", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"doc_id": docID, "chunks": chunks})
}

type searchRequest struct {
	Query  string    `json:"query"`
	Vector []float32 `json:"vector"`
	K      int       `json:"k"`
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.K <= 0 {
		req.K = defaultSearchSize
	}
	if req.K > maxSearchSize {
		req.K = maxSearchSize
	}
	vector := req.Vector
	if len(vector) == 0 {
		if strings.TrimSpace(req.Query) == "" {
			writeError(w, http.StatusBadRequest, "query or vector required")
			return
		}
		if s.embedder == nil {
			writeError(w, http.StatusServiceUnavailable, "query embedding not configured")
			return
		}
		vectors, err := s.embedder.Embed(r.Context(), []string{req.Query})
		if err != nil || len(vectors) != 1 {
			s.logger.Warn("query embedding failed", zap.Error(err))
			writeError(w, http.StatusBadGateway, "query embedding failed")
			return
		}
		vector = vectors[0]
	}
	hits, err := s.store.Search(r.Context(), vector, req.K)
	if err != nil {
		s.internalError(w, r, "search chunks", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hits": hits})
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		s.lookupError(w, r, "run", err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) triggerRun(w http.ResponseWriter, r *http.Request) {
	var req pipeline.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	// A client that disconnects does not abandon the run.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	defer context.AfterFunc(s.runs, cancel)()
	summary, err := s.runner.Run(ctx, req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, summary)
	case errors.Is(err, tender.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case summary.Run.ID != "":
		// The run was opened and closed as failed; its record is the answer.
		writeJSON(w, http.StatusInternalServerError, summary)
	default:
		s.internalError(w, r, "start run", err)
	}
}

func (s *Server) lookupError(w http.ResponseWriter, r *http.Request, what string, err error) {
	if errors.Is(err, tender.ErrNotFound) {
		writeError(w, http.StatusNotFound, what+" not found")
		return
	}
	s.internalError(w, r, "get "+what, err)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.logger.Error("request failed", zap.String("op", op), zap.String("path", r.URL.Path), zap.Error(err))
	telemetry.CaptureError(r.Context(), err, map[string]string{"op": op})
	writeError(w, http.StatusInternalServerError, op+" failed")
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.String("request_id", reqID),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					telemetry.CaptureError(r.Context(), fmt.Errorf("panic: %v", rec), map[string]string{"path": r.URL.Path})
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// metricsMiddleware records request metrics under the matched chi route pattern.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
