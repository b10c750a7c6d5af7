// Package endpoint serves the device's HTTP routes.
package endpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// WithMiddleware wraps every route.
func WithMiddleware(mw ...mux.MiddlewareFunc) Option {
	return func(s *Server) {
		s.router.Use(mw...)
	}
}

// Server is a small route table in front of net/http. Routes are registered
// before serving; handlers must only read published snapshots.
type Server struct {
	router *mux.Router
	log    *slog.Logger
}

// New creates a server with no routes. Unknown paths answer 404 and known
// paths with the wrong method answer 405.
func New(opts ...Option) *Server {
	s := &Server{
		router: mux.NewRouter(),
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "endpoint")
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Debug("no route", "method", r.Method, "path", r.URL.Path)
		http.NotFound(w, r)
	})
	return s
}

// Register binds path and method to a handler producing a fixed-status 200
// body.
func (s *Server) Register(path, method string, handler func() []byte) {
	s.router.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
		body := handler()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(body); err != nil {
			s.log.Debug("write response", "path", path, "err", err)
		}
	}).Methods(method)
}

// Handle binds path to h for GET requests.
func (s *Server) Handle(path string, h http.Handler) {
	s.router.Handle(path, h).Methods(http.MethodGet)
}

// HandleJSON binds path to a GET handler that encodes the value returned by
// fn.
func (s *Server) HandleJSON(path string, fn func() any) {
	s.Handle(path, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(fn()); err != nil {
			s.log.Debug("encode response", "path", path, "err", err)
		}
	}))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.Info("http server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	<-errCh
	return nil
}
