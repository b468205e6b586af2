// Package server exposes the /metrics and /health endpoints over the
// injected Prometheus registry, with request logging and graceful shutdown.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/script-exporter/config"
)

const shutdownTimeout = 5 * time.Second

// HTTPServer serves the exposition endpoint.
type HTTPServer struct {
	addr   string
	server *http.Server
	log    *zap.Logger
}

// statusWriter captures the response status code for request logging.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// New builds the HTTP server around the given registry. The registry
// gathers the dynamic script metrics plus any self metrics registered on
// it.
func New(cfg config.ServerConfig, log *zap.Logger, registry *prometheus.Registry) *HTTPServer {
	mux := http.NewServeMux()

	logRequest := func(r *http.Request, msg string, status int, start time.Time) {
		log.Debug(msg,
			zap.String("method", r.Method),
			zap.String("url", r.URL.String()),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)))
	}

	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		ErrorLog: zap.NewStdLog(log),
	})
	mux.Handle("/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		metricsHandler.ServeHTTP(ww, r)
		logRequest(r, "metrics request", ww.status, start)
	}))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
		logRequest(r, "health check", http.StatusOK, start)
	})

	return &HTTPServer{
		addr: cfg.Addr,
		log:  log,
		server: &http.Server{
			Addr:         cfg.Addr,
			Handler:      mux,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
}

// Start begins listening in a background goroutine.
func (s *HTTPServer) Start() error {
	s.log.Info("starting HTTP server", zap.String("listen_addr", s.addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Fatal("HTTP server failed to listen",
				zap.Error(err),
				zap.String("listen_addr", s.addr))
		}
	}()
	return nil
}

// Shutdown stops accepting new requests and waits up to shutdownTimeout for
// in-flight scrapes to finish.
func (s *HTTPServer) Shutdown() error {
	s.log.Info("shutting down HTTP server", zap.String("listen_addr", s.addr))

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil
		}
		return err
	}
	return nil
}
