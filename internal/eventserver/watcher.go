package eventserver

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rybkr/gitresync/internal/statestore"
)

const debounceTime = 100 * time.Millisecond

// repoWatcher watches one repository's .git/refs subtree for external
// changes (branch creation/deletion, ref updates made outside the tool)
// and fans them into the server's hub as EventExternalChange events.
type repoWatcher struct {
	repo    statestore.RepoId
	workDir string
	gitDir  string
	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
}

// watchRepo starts watching id's .git directory for ref changes and
// registers the watcher under id so UnwatchRepository/Shutdown can stop it
// later. Re-watching an already-watched repo is a no-op; the existing
// watcher is left running.
func (s *Server) watchRepo(id statestore.RepoId, workDir, gitDir string) error {
	s.watchersMu.Lock()
	if _, exists := s.watchers[id]; exists {
		s.watchersMu.Unlock()
		return nil
	}
	s.watchersMu.Unlock()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := w.Add(gitDir); err != nil {
		_ = w.Close()
		return err
	}

	// fsnotify does not recurse into subdirectories. We must explicitly
	// watch refs/heads, refs/tags, and refs/remotes so that branch and tag
	// creation/deletion events (which touch files inside those dirs) are
	// picked up. walkAndWatch also handles hierarchical branch names
	// (e.g., refs/heads/feature/login) by walking the entire subtree.
	for _, sub := range []string{"refs/heads", "refs/tags", "refs/remotes"} {
		walkAndWatch(w, filepath.Join(gitDir, sub), s.logger)
	}

	ctx, cancel := context.WithCancel(s.ctx)
	rw := &repoWatcher{repo: id, workDir: workDir, gitDir: gitDir, watcher: w, cancel: cancel}

	s.watchersMu.Lock()
	s.watchers[id] = rw
	s.watchersMu.Unlock()

	s.wg.Add(1)
	go s.watchLoop(ctx, rw)

	s.logger.Info("watching repository for external changes", "repo", id, "gitDir", gitDir)
	return nil
}

// unwatchRepo stops and discards the watcher for id, if any.
func (s *Server) unwatchRepo(id statestore.RepoId) {
	s.watchersMu.Lock()
	rw, ok := s.watchers[id]
	if ok {
		delete(s.watchers, id)
	}
	s.watchersMu.Unlock()
	if ok {
		rw.cancel()
	}
}

// walkAndWatch adds fsnotify watches to dir and all its subdirectories.
// Missing directories are silently skipped.
func walkAndWatch(watcher *fsnotify.Watcher, dir string, logger *slog.Logger) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return
	}

	err = filepath.Walk(dir, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr // skip unreadable entries
		}
		if fi.IsDir() {
			if addErr := watcher.Add(path); addErr != nil {
				logger.Warn("failed to watch directory", "dir", path, "err", addErr)
			}
		}
		return nil
	})
	if err != nil {
		logger.Warn("failed to walk refs directory", "dir", dir, "err", err)
	}
}

func (s *Server) watchLoop(ctx context.Context, rw *repoWatcher) {
	defer s.wg.Done()
	defer func() {
		if err := rw.watcher.Close(); err != nil {
			s.logger.Error("failed to close watcher", "repo", rw.repo, "err", err)
		}
	}()

	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-rw.watcher.Events:
			if !ok {
				return
			}
			if shouldIgnoreEvent(event) {
				continue
			}

			s.logger.Debug("change detected", "repo", rw.repo, "file", filepath.Base(event.Name), "op", event.Op.String())

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			subject := event.Name
			debounceTimer = time.AfterFunc(debounceTime, func() {
				if ctx.Err() != nil {
					return
				}
				s.notifier.emit(rw.repo, EventExternalChange, subject, "")
			})

		case err, ok := <-rw.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("watcher error", "repo", rw.repo, "err", err)
		}
	}
}

func shouldIgnoreEvent(event fsnotify.Event) bool {
	base := filepath.Base(event.Name)
	path := event.Name

	// Accept Write, Create, Remove, and Rename events. Remove is critical
	// for detecting branch/tag deletion (the ref file is deleted from disk).
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return true
	}
	if strings.HasSuffix(base, ".lock") {
		return true
	}
	if strings.Contains(path, "/logs/") {
		return true
	}
	if base == "config" {
		return true
	}

	return false
}
