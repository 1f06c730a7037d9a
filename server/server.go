// Package server exposes the claim pipeline over HTTP: an HTML upload UI,
// a JSON API, JSON downloads and a WebSocket endpoint.
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xhad/claimcheck/pkg/service"
)

//go:embed templates/*.html
var templateFS embed.FS

type Config struct {
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxUploadBytes int64
}

type Server struct {
	config    Config
	service   *service.Service
	logger    *zap.Logger
	metrics   *Metrics
	templates *template.Template
	mux       *http.ServeMux
}

func New(config Config, svc *service.Service, logger *zap.Logger) (*Server, error) {
	if config.Port == 0 {
		config.Port = 8080
	}
	if config.MaxUploadBytes == 0 {
		config.MaxUploadBytes = 20 << 20
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	s := &Server{
		config:    config,
		service:   svc,
		logger:    logger,
		metrics:   NewMetrics(),
		templates: tmpl,
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.instrument("index", s.handleIndex))
	s.mux.HandleFunc("POST /extract", s.instrument("extract", s.handleExtract))
	s.mux.HandleFunc("POST /compare", s.instrument("compare", s.handleCompare))
	s.mux.HandleFunc("GET /documents/{id}/download", s.instrument("document_download", s.handleDocumentDownload))
	s.mux.HandleFunc("GET /comparisons/{id}/download", s.instrument("comparison_download", s.handleComparisonDownload))

	s.mux.HandleFunc("POST /api/extract", s.instrument("api_extract", s.handleAPIExtract))
	s.mux.HandleFunc("POST /api/compare", s.instrument("api_compare", s.handleAPICompare))
	s.mux.HandleFunc("GET /api/documents/{id}", s.instrument("api_document", s.handleAPIDocument))
	s.mux.HandleFunc("GET /api/documents/{id}/similar", s.instrument("api_similar", s.handleAPISimilar))
	s.mux.HandleFunc("GET /api/comparisons/{id}", s.instrument("api_comparison", s.handleAPIComparison))

	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	s.mux.Handle("GET /metrics", s.metrics.Handler())
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves until ctx is cancelled, then drains open requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.mux,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", zap.Int("port", s.config.Port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("Shutting down server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		elapsed := time.Since(start)
		s.metrics.ObserveRequest(route, rec.status, elapsed)
		s.logger.Debug("Request handled",
			zap.String("route", route),
			zap.String("method", r.Method),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", elapsed))
	}
}
