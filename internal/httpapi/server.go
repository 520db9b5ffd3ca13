// Package httpapi is the read-only observability surface over the engine:
// case status lookup, a live SSE event stream, and a health check.
//
// Generalized from the teacher's internal/server/server.go — the same
// listen/shutdown lifecycle and Origin-based CSRF guard — routed here
// through github.com/go-chi/chi/v5 and github.com/go-chi/cors instead of
// the teacher's bare http.ServeMux, sourced from the wider example pack
// since the teacher itself reaches for neither.
package httpapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/fraware/self-healing-ci/internal/events"
	"github.com/fraware/self-healing-ci/internal/journal"
)

// Config holds the HTTP server's listen configuration.
type Config struct {
	Addr           string
	AllowedOrigins []string
}

// Server exposes read-only case status and a live event stream.
type Server struct {
	cfg         Config
	journal     journal.Journal
	broadcaster *events.Broadcaster
	logger      *zap.Logger
	httpSrv     *http.Server
}

// New builds a Server. It does not start listening until ListenAndServe.
func New(cfg Config, j journal.Journal, broadcaster *events.Broadcaster, logger *zap.Logger) *Server {
	s := &Server{cfg: cfg, journal: j, broadcaster: broadcaster, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: originsOrLocalhost(cfg.AllowedOrigins),
		AllowedMethods: []string{http.MethodGet},
		MaxAge:         300,
	}))
	r.Use(csrfProtect)

	r.Get("/health", s.handleHealth)
	r.Get("/cases/{caseID}", s.handleGetCase)
	r.Get("/cases/{caseID}/events", s.handleCaseEvents)
	r.Get("/events", s.handleAllEvents)

	s.httpSrv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE requires no write timeout
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func originsOrLocalhost(origins []string) []string {
	if len(origins) > 0 {
		return origins
	}
	return []string{"http://localhost:*", "http://127.0.0.1:*"}
}

// ListenAndServe blocks serving until the listener is closed or an error
// occurs, per the teacher's Server.ListenAndServe lifecycle.
func (s *Server) ListenAndServe() error {
	if s.logger != nil {
		s.logger.Info("httpapi listening", zap.String("addr", s.cfg.Addr))
	}
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight HTTP connections.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Listener exposes a net.Listener bound to Config.Addr, for callers that
// want to assign an ephemeral port in tests.
func (s *Server) Listener() (net.Listener, error) {
	return net.Listen("tcp", s.cfg.Addr)
}
