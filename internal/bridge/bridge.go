// Package bridge is the lightweight REST sidecar next to the MCP
// server. It answers health checks for monitoring systems that speak
// plain HTTP rather than MCP.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"samuel/internal/buildinfo"
	"samuel/internal/connwatch"
	"samuel/internal/health"
)

// ReportGenerator produces health reports. *health.Reporter satisfies it.
type ReportGenerator interface {
	Generate(ctx context.Context) (*health.Report, error)
}

// StatusSource exposes the HA connection watcher status.
// *connwatch.Watcher satisfies it.
type StatusSource interface {
	Status() connwatch.ServiceStatus
}

// Server is the REST bridge.
type Server struct {
	reporter ReportGenerator
	watcher  StatusSource
	logger   *slog.Logger
}

// New creates the bridge server. The watcher may be nil when no
// connection watching is running; /health then omits the status block.
func New(reporter ReportGenerator, watcher StatusSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		reporter: reporter,
		watcher:  watcher,
		logger:   logger,
	}
}

// Handler returns the bridge's HTTP handler with request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	return s.withLogging(mux)
}

// Run serves the bridge on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("bridge listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("bridge server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("bridge shutdown: %w", err)
	}
	s.logger.Info("bridge stopped")
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("bridge request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("bridge response encode failed", "error", err)
	}
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// healthResponse is the /health payload: the report summary plus the
// live HA connection status.
type healthResponse struct {
	health.Summary
	HomeAssistant *connwatch.ServiceStatus `json:"homeassistant,omitempty"`
	ReportPath    string                   `json:"report_path,omitempty"`
	GeneratedAt   time.Time                `json:"generated_at"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report, err := s.reporter.Generate(r.Context())
	if err != nil {
		s.logger.Error("bridge health report failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status": "error",
			"error":  err.Error(),
		})
		return
	}

	resp := healthResponse{
		Summary:     report.Summary(),
		ReportPath:  report.Path,
		GeneratedAt: report.GeneratedAt,
	}
	if s.watcher != nil {
		status := s.watcher.Status()
		resp.HomeAssistant = &status
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, buildinfo.Info())
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"service": "samuel-bridge",
		"version": buildinfo.Version,
		"endpoints": []string{
			"GET /ping",
			"GET /health",
			"GET /version",
		},
	})
}
