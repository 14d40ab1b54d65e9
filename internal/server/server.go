// Package server exposes the document API over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raphaelgruber/docingest/internal/db"
	"github.com/raphaelgruber/docingest/internal/metrics"
	"github.com/raphaelgruber/docingest/internal/models"
	"github.com/raphaelgruber/docingest/internal/service"
)

// DocumentAPI is the document service behind the routes.
type DocumentAPI interface {
	Enqueue(ctx context.Context, req service.EnqueueRequest) (service.EnqueueResult, error)
	Upload(ctx context.Context, req service.UploadRequest) (service.EnqueueResult, error)
	GetByID(ctx context.Context, id string) (*models.IndexLog, error)
	List(ctx context.Context, filter models.IndexLogFilter) ([]models.IndexLog, int, error)
	DeleteByID(ctx context.Context, id string) error
	Chunks(ctx context.Context, id string, page, pageSize int) ([]models.Chunk, int, error)
	QueueStats(ctx context.Context) (service.QueueStats, error)
}

// Options configures the optional endpoints.
type Options struct {
	// Health reports whether backing services are reachable. Nil always reports ok.
	Health func(ctx context.Context) error
	// Collector backs /stats when set.
	Collector *metrics.Collector
	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
	// WatchInterval is how often queue watchers are polled. Defaults to one second.
	WatchInterval time.Duration
}

// Server routes HTTP requests to the document API.
type Server struct {
	api    DocumentAPI
	opts   Options
	logger *slog.Logger
	mux    *http.ServeMux
}

// New creates the server and registers its routes.
func New(api DocumentAPI, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.WatchInterval <= 0 {
		opts.WatchInterval = time.Second
	}
	s := &Server{api: api, opts: opts, logger: logger, mux: http.NewServeMux()}

	s.mux.HandleFunc("POST /api/v1/documents", s.handleEnqueue)
	s.mux.HandleFunc("POST /api/v1/documents/upload", s.handleUpload)
	s.mux.HandleFunc("GET /api/v1/documents", s.handleList)
	s.mux.HandleFunc("GET /api/v1/documents/{id}", s.handleGet)
	s.mux.HandleFunc("DELETE /api/v1/documents/{id}", s.handleDelete)
	s.mux.HandleFunc("GET /api/v1/documents/{id}/chunks", s.handleChunks)
	s.mux.HandleFunc("GET /api/v1/queue", s.handleQueue)
	s.mux.HandleFunc("GET /api/v1/queue/watch", s.handleQueueWatch)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /stats", s.handleStats)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	return s
}

// Handler returns the routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	return LoggingMiddleware(s.logger)(s.mux)
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

type listResponse[T any] struct {
	Items    []T `json:"items"`
	Total    int `json:"total"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// documentView is the JSON rendering of an index log row.
type documentView struct {
	ID             string                `json:"id"`
	Source         string                `json:"source"`
	SourceType     models.SourceType     `json:"source_type"`
	Checksum       *string               `json:"checksum,omitempty"`
	Status         models.Status         `json:"status"`
	ProcessingType models.ProcessingType `json:"processing_type"`
	RetryCount     int                   `json:"retry_count"`
	ErrorMessage   *string               `json:"error_message,omitempty"`
	ClaimedBy      *string               `json:"claimed_by,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	CreatedBy      string                `json:"created_by"`
	ModifiedAt     time.Time             `json:"modified_at"`
	ModifiedBy     string                `json:"modified_by"`
}

func newDocumentView(l *models.IndexLog) documentView {
	return documentView{
		ID:             l.LogID(),
		Source:         l.Source,
		SourceType:     l.SourceType,
		Checksum:       l.Checksum,
		Status:         l.Status,
		ProcessingType: l.ProcessingType,
		RetryCount:     l.RetryCount,
		ErrorMessage:   l.ErrorMessage,
		ClaimedBy:      l.ClaimedBy,
		CreatedAt:      l.CreatedAt,
		CreatedBy:      l.CreatedBy,
		ModifiedAt:     l.ModifiedAt,
		ModifiedBy:     l.ModifiedBy,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// errBadRequest marks malformed request parameters.
var errBadRequest = errors.New("bad request")

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req service.EnqueueRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 10<<20)).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: decode body: %v", errBadRequest, err))
		return
	}
	res, err := s.api.Enqueue(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusAccepted
	if res.Outcome == service.OutcomeAlreadyExists {
		status = http.StatusOK
	}
	s.writeJSON(w, status, res)
}

// maxUploadBytes bounds a multipart upload body.
const maxUploadBytes = 100 << 20

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: file field: %v", errBadRequest, err))
		return
	}
	defer file.Close()

	res, err := s.api.Upload(r.Context(), service.UploadRequest{
		Filename:       header.Filename,
		Content:        file,
		UserID:         r.FormValue("user_id"),
		ProcessingType: r.FormValue("processing_type"),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusAccepted
	if res.Outcome == service.OutcomeAlreadyExists {
		status = http.StatusOK
	}
	s.writeJSON(w, status, res)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	row, err := s.api.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newDocumentView(row))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	filter = filter.Normalize()
	rows, total, err := s.api.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	items := make([]documentView, 0, len(rows))
	for i := range rows {
		items = append(items, newDocumentView(&rows[i]))
	}
	s.writeJSON(w, http.StatusOK, listResponse[documentView]{Items: items, Total: total, Page: filter.Page, PageSize: filter.PageSize})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.api.DeleteByID(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChunks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := intParam(q.Get("page"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	pageSize, err := intParam(q.Get("page_size"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	chunks, total, err := s.api.Chunks(r.Context(), r.PathValue("id"), page, pageSize)
	if err != nil {
		s.writeError(w, err)
		return
	}
	f := models.IndexLogFilter{Page: page, PageSize: pageSize}.Normalize()
	if chunks == nil {
		chunks = []models.Chunk{}
	}
	s.writeJSON(w, http.StatusOK, listResponse[models.Chunk]{Items: chunks, Total: total, Page: f.Page, PageSize: f.PageSize})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	stats, err := s.api.QueueStats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		if err := s.opts.Health(r.Context()); err != nil {
			s.logger.Warn("health check failed", "error", err)
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Collector == nil {
		s.writeJSON(w, http.StatusOK, metrics.Snapshot{})
		return
	}
	s.writeJSON(w, http.StatusOK, s.opts.Collector.Snapshot())
}

func parseFilter(r *http.Request) (models.IndexLogFilter, error) {
	q := r.URL.Query()
	f := models.IndexLogFilter{
		Source:    q.Get("source"),
		CreatedBy: q.Get("created_by"),
	}

	if v := q.Get("source_type"); v != "" {
		st, err := models.ParseSourceType(v)
		if err != nil {
			return f, fmt.Errorf("%w: %v", service.ErrUnsupportedSourceType, err)
		}
		f.SourceType = st
	}
	if v := q.Get("status"); v != "" {
		status, err := models.ParseStatus(v)
		if err != nil {
			return f, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		f.Status = status
	}
	for key, dst := range map[string]**time.Time{"created_from": &f.CreatedFrom, "created_to": &f.CreatedTo} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("%w: %s must be RFC3339", errBadRequest, key)
		}
		*dst = &t
	}

	var err error
	if f.Page, err = intParam(q.Get("page")); err != nil {
		return f, err
	}
	if f.PageSize, err = intParam(q.Get("page_size")); err != nil {
		return f, err
	}
	return f, nil
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", errBadRequest, v)
	}
	return n, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, service.ErrUnsupportedSourceType),
		errors.Is(err, service.ErrInvalidSource),
		errors.Is(err, service.ErrInvalidProcessingType):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", "error", err)
	}
}
