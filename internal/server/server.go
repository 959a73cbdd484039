// Package server exposes a lint session over HTTP.
//
// The server owns one session at a time. POST /api/reload replaces it with a
// fresh one built by the Factory; state changes of whichever session is
// current are pushed to /api/events subscribers.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/leapstack-labs/leaplint/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// DefaultDebounce is the quiet period before a watched file is relinted.
const DefaultDebounce = 100 * time.Millisecond

// ErrNotStarted is returned by handlers before Open has been called.
var ErrNotStarted = errors.New("server: no session")

// Factory builds an unstarted session with the given initial source.
type Factory func(source string) (*session.Session, error)

// Config holds configuration for the server.
type Config struct {
	Addr    string
	Factory Factory
	// Source is the initial source text.
	Source string
	// WatchPath, when set, is relinted whenever it changes on disk.
	WatchPath string
	Debounce  time.Duration
	// Gatherer serves /metrics. Without one the endpoint is not mounted.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

type running struct {
	sess   *session.Session
	cancel context.CancelFunc
}

// Server is the HTTP front end of a lint session.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	notifier *session.Notifier

	mu      sync.RWMutex
	baseCtx context.Context
	current *running
}

// New creates a server. Call Open or Serve to start it.
func New(cfg Config) (*Server, error) {
	if cfg.Factory == nil {
		return nil, errors.New("server: session factory is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		cfg:      cfg,
		logger:   logger,
		notifier: session.NewNotifier(),
	}, nil
}

// Open starts the first session. It runs until ctx ends.
func (s *Server) Open(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	source := s.cfg.Source
	if s.cfg.WatchPath != "" {
		data, err := os.ReadFile(s.cfg.WatchPath) //nolint:gosec // G304: path is the configured watch file
		if err != nil {
			return fmt.Errorf("failed to read watched file: %w", err)
		}
		source = string(data)
	}
	_, err := s.replace(source)
	return err
}

// Session returns the current session.
func (s *Server) Session() (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, ErrNotStarted
	}
	return s.current.sess, nil
}

// Reload replaces the current session with a fresh one carrying over its
// source text. Rule flags start again from the configured defaults.
func (s *Server) Reload(ctx context.Context) (*session.Session, error) {
	source := s.cfg.Source
	if old, err := s.Session(); err == nil {
		if st, err := old.State(ctx); err == nil {
			source = st.Source
		}
	}
	s.logger.Info("reloading session")
	return s.replace(source)
}

// replace starts a new session and stops the previous one.
func (s *Server) replace(source string) (*session.Session, error) {
	sess, err := s.cfg.Factory(source)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.mu.Lock()
	if s.baseCtx == nil {
		s.mu.Unlock()
		return nil, ErrNotStarted
	}
	runCtx, cancel := context.WithCancel(s.baseCtx)
	prev := s.current
	s.current = &running{sess: sess, cancel: cancel}
	s.mu.Unlock()

	go func() {
		if err := sess.Run(runCtx); err != nil {
			s.logger.Error("session stopped", slog.String("error", err.Error()))
		}
	}()
	go s.forward(sess)

	if prev != nil {
		prev.cancel()
		<-prev.sess.Done()
	}
	s.notifier.Broadcast()
	return sess, nil
}

// forward relays change pings of sess to the server's subscribers until
// sess stops.
func (s *Server) forward(sess *session.Session) {
	updates, unsubscribe := sess.Subscribe()
	defer unsubscribe()
	for {
		select {
		case _, ok := <-updates:
			if !ok {
				return
			}
			s.notifier.Broadcast()
		case <-sess.Done():
			return
		}
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		s.logRequests,
		middleware.Recoverer,
	)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	if s.cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	h := &handlers{srv: s}
	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.getState)
		r.Get("/rules", h.listRules)
		r.Put("/rules/{id}", h.setRule)
		r.Post("/rules/{id}/toggle", h.toggleRule)
		r.Put("/source", h.setSource)
		r.Get("/diagnostics", h.getDiagnostics)
		r.Get("/custom-rules", h.listCustomRules)
		r.Post("/custom-rules", h.addCustomRule)
		r.Delete("/custom-rules/{name}", h.removeCustomRule)
		r.Post("/reload", h.reload)
		r.Get("/events", h.events)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// Serve starts the session and the HTTP server and blocks until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	eg, egctx := errgroup.WithContext(ctx)

	if err := s.Open(egctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    s.cfg.Addr,
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting server", slog.String("addr", "http://"+s.cfg.Addr))

	if s.cfg.WatchPath != "" {
		eg.Go(func() error {
			return s.watchFile(egctx)
		})
	}

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down server...")
		s.notifier.Close()
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// watchFile pushes the watched file into the current session on every change.
func (s *Server) watchFile(ctx context.Context) error {
	path, err := filepath.Abs(s.cfg.WatchPath)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		s.logger.Error("failed to watch file", slog.String("file", path), slog.String("error", err.Error()))
		// Don't fail - continue without watching
		<-ctx.Done()
		return nil
	}

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			// Debounce
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(s.cfg.Debounce, func() {
				s.sync(ctx, path)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher error", slog.String("error", err.Error()))
		}
	}
}

// sync reads path into the current session.
func (s *Server) sync(ctx context.Context, path string) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is the configured watch file
	if err != nil {
		s.logger.Warn("failed to read watched file", slog.String("file", path), slog.String("error", err.Error()))
		return
	}
	sess, err := s.Session()
	if err != nil {
		return
	}
	s.logger.Debug("file changed, relinting", slog.String("file", path))
	if err := sess.SetSource(ctx, string(data)); err != nil && ctx.Err() == nil {
		s.logger.Warn("failed to update source", slog.String("error", err.Error()))
	}
}
