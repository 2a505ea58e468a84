// Package eventserver streams branchswitcher.Observer lifecycle events to
// connected WebSocket clients, so an external dashboard or indexer can
// watch hashing, checkout, and commit progress for the repositories a
// reposvc.Service is managing.
package eventserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/rybkr/gitresync/internal/reposvc"
	"github.com/rybkr/gitresync/internal/statestore"
)

// Mode distinguishes between local and SaaS operation of the event server.
type Mode int

const (
	// ModeLocal serves a single operator on localhost; any WebSocket origin
	// is accepted.
	ModeLocal Mode = iota
	// ModeSaaS restricts WebSocket upgrades to same-origin requests.
	ModeSaaS
)

// Server exposes repository lifecycle events over HTTP and WebSocket. It
// wraps a reposvc.Service; Server itself never mutates repository state, it
// only observes and reports on it.
type Server struct {
	addr        string
	mode        Mode
	svc         *reposvc.Service
	notifier    *Notifier
	rateLimiter *rateLimiter
	httpServer  *http.Server
	logger      *slog.Logger
	startedAt   time.Time

	watchersMu sync.Mutex
	watchers   map[statestore.RepoId]*repoWatcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config configures a new Server.
type Config struct {
	Addr     string
	Mode     Mode
	Service  *reposvc.Service
	Notifier *Notifier // share the Notifier passed as reposvc.Config.Observer
	Logger   *slog.Logger
}

// NewServer constructs a Server ready to Start. notifier should be the same
// *Notifier given to reposvc.Config.Observer, so events the core emits
// reach this server's hub.
func NewServer(cfg Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NewNotifier()
	}

	return &Server{
		addr:        cfg.Addr,
		mode:        cfg.Mode,
		svc:         cfg.Service,
		notifier:    notifier,
		rateLimiter: newRateLimiter(100, 200, time.Second),
		logger:      logger,
		startedAt:   time.Now(),
		watchers:    make(map[statestore.RepoId]*repoWatcher),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// WatchRepository starts watching path's .git refs for external changes and
// begins emitting EventExternalChange for it. Safe to call more than once
// for the same path.
func (s *Server) WatchRepository(ctx context.Context, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving repository path: %w", err)
	}
	id := statestore.DeriveRepoId(abs)
	return s.watchRepo(id, abs, filepath.Join(abs, ".git"))
}

// UnwatchRepository stops watching path, if it was being watched.
func (s *Server) UnwatchRepository(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving repository path: %w", err)
	}
	s.unwatchRepo(statestore.DeriveRepoId(abs))
	return nil
}

// Start begins serving and blocks until the server exits or hits a fatal
// error. Mirrors the shutdown-on-ErrServerClosed convention used throughout
// the core's command-line entry points.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	const apiWriteDeadline = 30 * time.Second

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.rateLimiter.middleware(byClientIP, s.handleWebSocket))
	mux.HandleFunc("GET /repos/{id}", writeDeadline(apiWriteDeadline, s.rateLimiter.middleware(byRepoAndClientIP, s.handleRepoInfo)))

	var handler http.Handler = requestLogger(s.logger, mux)
	if s.mode == ModeSaaS {
		handler = corsMiddleware(handler)
	}

	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("event server starting", "addr", "http://"+s.addr, "mode", s.modeString())
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) modeString() string {
	if s.mode == ModeLocal {
		return "local"
	}
	return "saas"
}

// Shutdown gracefully stops the HTTP listener and every repository watcher.
func (s *Server) Shutdown() {
	start := time.Now()
	s.logger.Info("event server shutting down")

	if s.httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "err", err)
		}
	}

	s.cancel()
	s.rateLimiter.Close()
	s.wg.Wait()

	s.logger.Info("event server shutdown complete", "elapsed", time.Since(start).Round(time.Millisecond))
}
