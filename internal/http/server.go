// Package http serves the stream resolver, catalog search and cached artifacts over HTTP.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"zenify/internal/core"
)

const (
	requestIDHeader = "X-Request-ID"
	shutdownTimeout = 10 * time.Second
	corsMaxAge      = "86400"
)

type Server struct {
	config  *core.ServerConfig
	logger  *zap.Logger
	server  *http.Server
	metrics *Metrics
}

// NewServer creates the HTTP server. metrics may be nil, in which case a fresh set is created.
func NewServer(config *core.ServerConfig, deps Deps, metrics *Metrics, logger *zap.Logger) *Server {
	if metrics == nil {
		metrics = NewMetrics()
	}
	if deps.Gate != nil {
		metrics.WatchFloodgate(deps.Gate)
	}

	h := &handlers{
		deps:      deps,
		publicURL: config.PublicURL,
		logger:    logger,
	}
	router := setupRoutes(h, metrics, config.CORSOrigins, logger)
	server := createHTTPServer(config, router)

	return &Server{
		config:  config,
		logger:  logger,
		server:  server,
		metrics: metrics,
	}
}

func createHTTPServer(config *core.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:           handler,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
	}
}

func setupRoutes(h *handlers, metrics *Metrics, corsOrigins []string, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()

	router.Use(requestIDMiddleware)
	router.Use(accessLogMiddleware(metrics, logger))
	router.Use(corsMiddleware(corsOrigins))

	router.HandleFunc("/stream", h.stream).Methods(http.MethodGet, http.MethodOptions).Name(streamRoute)
	router.HandleFunc("/search", h.search).Methods(http.MethodGet, http.MethodOptions).Name(searchRoute)
	router.HandleFunc(downloadsPattern, h.download).
		Methods(http.MethodGet, http.MethodHead, http.MethodOptions).Name(downloadsRoute)
	router.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet).Name("healthz")
	router.HandleFunc("/readyz", h.readyz).Methods(http.MethodGet).Name("readyz")
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet).Name("metrics")
	router.HandleFunc("/", h.home).Methods(http.MethodGet).Name("home")

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		metrics.RecordRequest("unmatched", http.StatusNotFound)
		writeJSON(w, http.StatusNotFound, errorResponse{Error: errNotFound}, logger)
	})

	return router
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func accessLogMiddleware(metrics *Metrics, logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			route := "unnamed"
			if current := mux.CurrentRoute(r); current != nil && current.GetName() != "" {
				route = current.GetName()
			}
			metrics.RecordRequest(route, rec.status)

			logger.Debug("Handled request",
				zap.String("request_id", r.Header.Get(requestIDHeader)),
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("client", clientAddress(r)))
		})
	}
}

func corsMiddleware(origins []string) mux.MiddlewareFunc {
	allowAll := len(origins) == 0
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimRight(o, "/")] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Range, "+requestIDHeader)
			w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range, "+requestIDHeader)
			w.Header().Set("Access-Control-Max-Age", corsMaxAge)

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server",
		zap.String("addr", s.server.Addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

func (s *Server) GetMetrics() *Metrics {
	return s.metrics
}

// Handler returns the routed handler, for embedding the server in tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}
