// Package server exposes a macro context over HTTP: a JSON API for
// listing and expanding macros, and a Datastar playground that follows
// macro file reloads.
package server

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/specmacro/internal/macro"
)

// LoadFunc builds a fresh global context. It returns the macro files the
// context was read from so the server can watch them.
type LoadFunc func() (*macro.Context, []string, error)

// Config holds configuration for the server.
type Config struct {
	Addr     string
	Load     LoadFunc
	Expander *macro.Expander
	// Watch reloads the context when one of its macro files changes.
	Watch bool
	// AllowShell lets %(...) in requests run through the expander's shell
	// runner. When false every shell escape fails.
	AllowShell bool
	// Timeout bounds one expansion. Zero means no limit.
	Timeout       time.Duration
	SessionSecret string
	Logger        *slog.Logger
}

// Server serves one macro context.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	sessions *sessions.CookieStore
	notifier *notifier

	mu       sync.RWMutex
	macros   *macro.Context
	files    []string
	revision uint64
}

// New creates a server and performs the first load.
func New(cfg Config) (*Server, error) {
	if cfg.Load == nil {
		return nil, errors.New("server: no load function")
	}
	if cfg.Expander == nil {
		cfg.Expander = macro.NewExpander(macro.Options{})
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	secret := []byte(cfg.SessionSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate session key: %w", err)
		}
	}
	store := sessions.NewCookieStore(secret)
	store.MaxAge(86400 * 7)
	store.Options.Path = "/"
	store.Options.HttpOnly = true
	store.Options.SameSite = http.SameSiteLaxMode

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		sessions: store,
		notifier: newNotifier(),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	if cfg.AllowShell {
		logger.Warn("shell escapes are enabled for HTTP requests")
	}
	return s, nil
}

// Reload rebuilds the context and notifies playground listeners.
func (s *Server) Reload() error {
	mc, files, err := s.cfg.Load()
	if err != nil {
		return fmt.Errorf("failed to load macros: %w", err)
	}

	s.mu.Lock()
	s.macros = mc
	s.files = files
	s.revision++
	rev := s.revision
	s.mu.Unlock()

	s.logger.Debug("macros loaded", "revision", rev, "macros", mc.Len(), "files", len(files))
	s.notifier.broadcast(rev)
	return nil
}

// snapshot returns a private copy of the current context and its revision.
func (s *Server) snapshot() (*macro.Context, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.macros.Clone(), s.revision
}

// Handler returns the HTTP handler with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		s.requestLogger,
		middleware.Recoverer,
		sameOrigin,
		middleware.AllowContentType("application/json"),
	)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/macros", s.handleListMacros)
		r.Get("/macros/{name}", s.handleGetMacro)
		r.Post("/expand", s.handleExpand)
		r.Get("/graph", s.handleGraph)

		r.Get("/session", s.handleGetSession)
		r.Post("/session/define", s.handleSessionDefine)
		r.Delete("/session", s.handleClearSession)
	})

	r.Route("/playground", func(r chi.Router) {
		r.Post("/expand", s.handlePlaygroundExpand)
		r.Get("/updates", s.handlePlaygroundUpdates)
	})

	return r
}

// sameOrigin rejects state-changing requests sent from pages of another
// origin. Browsers set Origin on cross-origin POST and DELETE requests, and
// Sec-Fetch-Site on all of them.
func sameOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("Sec-Fetch-Site") == "cross-site" {
			writeError(w, http.StatusForbidden, errors.New("cross-origin request rejected"))
			return
		}
		if origin := r.Header.Get("Origin"); origin != "" {
			u, err := url.Parse(origin)
			if err != nil || u.Host != r.Host {
				writeError(w, http.StatusForbidden, errors.New("cross-origin request rejected"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs each request through the server's logger.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// Serve listens on the configured address and blocks until ctx is
// cancelled. ready, when non-nil, receives the bound address.
func (s *Server) Serve(ctx context.Context, ready func(addr string)) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("serving macros", "addr", "http://"+ln.Addr().String())
	if ready != nil {
		ready(ln.Addr().String())
	}

	if s.cfg.Watch {
		eg.Go(func() error {
			return s.watchFiles(egctx)
		})
	}

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down server")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// watchFiles reloads the context when one of its macro files is written.
// Directories are watched so editors that replace files are seen.
func (s *Server) watchFiles(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	s.mu.RLock()
	files := s.files
	s.mu.RUnlock()

	watched := make(map[string]bool)
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			continue
		}
		watched[abs] = true
		if err := watcher.Add(filepath.Dir(abs)); err != nil {
			s.logger.Warn("cannot watch macro directory", "dir", filepath.Dir(abs), "error", err)
		}
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
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !watched[filepath.Clean(event.Name)] {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(100*time.Millisecond, func() {
				s.logger.Debug("macro file changed", "file", event.Name)
				if err := s.Reload(); err != nil {
					s.logger.Error("reload failed", "error", err)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher error", "error", err)
		}
	}
}
