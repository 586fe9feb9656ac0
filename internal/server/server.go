// Package server runs the callback receiver: the webhook routes behind
// request logging and panic recovery, plus periodic message log pruning.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/allyourbase/ayb-twilio/internal/config"
)

// Pruner deletes logged messages older than a cutoff. msglog.Store satisfies it.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Server is the HTTP callback receiver.
type Server struct {
	cfg    *config.Config
	router *chi.Mux
	logger *slog.Logger

	mu   sync.Mutex
	http *http.Server

	pruner Pruner
	done   chan struct{}
	wg     sync.WaitGroup
}

// New creates a Server serving routes. pruner may be nil, which disables
// retention cleanup.
func New(cfg *config.Config, logger *slog.Logger, routes http.Handler, pruner Pruner) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Mount("/", routes)

	return &Server{
		cfg:    cfg,
		router: r,
		logger: logger,
		pruner: pruner,
		done:   make(chan struct{}),
	}
}

// Router returns the chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// StartWithReady begins listening. It closes the ready channel once the
// listener is bound, then blocks serving requests.
func (s *Server) StartWithReady(ready chan<- struct{}) error {
	ln, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ln, ready)
}

// Serve serves on ln, closing ready (if non-nil) once serving begins.
func (s *Server) Serve(ln net.Listener, ready chan<- struct{}) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	s.logger.Info("server starting", "address", ln.Addr().String())
	if ready != nil {
		close(ready)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartPruner begins periodic deletion of messages older than retention.
// Does nothing if there is no pruner or retention is zero.
func (s *Server) StartPruner(interval, retention time.Duration) {
	if s.pruner == nil || retention <= 0 {
		return
	}
	s.wg.Add(1)
	go s.runPruner(interval, retention)
}

func (s *Server) runPruner(interval, retention time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			pruned, err := s.pruner.Prune(context.Background(), retention)
			if err != nil {
				s.logger.Error("failed to prune message log", "error", err)
			} else if pruned > 0 {
				s.logger.Info("pruned old messages", "count", pruned)
			}
		}
	}
}

// Shutdown stops the pruner and gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := time.Duration(s.cfg.Webhook.ShutdownTimeout) * time.Second
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.logger.Info("shutting down server", "timeout", timeout)
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.wg.Wait()

	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(shutdownCtx)
}
