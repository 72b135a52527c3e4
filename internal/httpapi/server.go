// Package httpapi exposes the scan session over HTTP.
//
// Routes:
//
//	GET  /health              liveness
//	GET  /readiness           component health (503 when unhealthy)
//	GET  /snapshot            latest session snapshot
//	GET  /events              snapshot stream (Server-Sent Events)
//	POST /events/{name}       display events: start_scan, submit, input,
//	                          home, scan_another, request_permission
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ChamodiJayakody/barcode-app/internal/session"
	"github.com/ChamodiJayakody/barcode-app/internal/snapbus"
)

// Session is the part of session.Machine the API drives.
type Session interface {
	Send(ctx context.Context, ev session.Event) error
	Snapshot() session.Snapshot
}

// Health is the readiness report.
type Health struct {
	Status        string                 `json:"status"` // healthy, degraded, unhealthy
	UptimeSeconds int64                  `json:"uptime_seconds"`
	Components    map[string]interface{} `json:"components,omitempty"`
}

// HealthReporter produces the readiness report.
type HealthReporter interface {
	HealthCheck() Health
}

// Config configures a Server.
type Config struct {
	Addr    string
	Session Session
	// Bus feeds /events. Required.
	Bus *snapbus.Bus[session.Snapshot]
	// Health is optional; /readiness reports "healthy" without it.
	Health HealthReporter
	// KeepAlive is the SSE comment interval (default 15s).
	KeepAlive time.Duration
	// SendTimeout bounds handing one event to the session (default 2s).
	SendTimeout time.Duration
}

// Server serves the API.
type Server struct {
	cfg     Config
	router  *mux.Router
	started time.Time
}

// New validates cfg and builds the router.
func New(cfg Config) (*Server, error) {
	if cfg.Session == nil || cfg.Bus == nil {
		return nil, fmt.Errorf("httpapi: session and bus are required")
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 15 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 2 * time.Second
	}

	s := &Server{cfg: cfg, started: time.Now()}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/readiness", s.handleReadiness).Methods(http.MethodGet)
	r.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/events", s.handleStream).Methods(http.MethodGet)
	r.HandleFunc("/events/{name}", s.handleEvent).Methods(http.MethodPost)
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on cfg.Addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.cfg.Addr,
		Handler:     s.router,
		ReadTimeout: 5 * time.Second,
		// No WriteTimeout: /events responses are long-lived.
		IdleTimeout: 60 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("httpapi: listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("httpapi: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("httpapi: shutdown incomplete", "error", err)
		_ = srv.Close()
	}
	slog.Info("httpapi: stopped")
	return nil
}
