package eventserver

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rybkr/gitresync/internal/statestore"
)

func TestWatchRepoEmitsExternalChangeOnRefWrite(t *testing.T) {
	dir := t.TempDir()
	gitDir := filepath.Join(dir, ".git")
	headsDir := filepath.Join(gitDir, "refs", "heads")
	if err := os.MkdirAll(headsDir, 0o755); err != nil {
		t.Fatal(err)
	}

	s := NewServer(Config{Addr: ":0"})
	t.Cleanup(s.Shutdown)

	c := s.notifier.h.register()

	id := statestore.RepoId("repo1")
	if err := s.watchRepo(id, dir, gitDir); err != nil {
		t.Fatalf("watchRepo: %v", err)
	}

	if err := os.WriteFile(filepath.Join(headsDir, "main"), []byte("deadbeef\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case msg := <-c.send:
		_ = msg // presence of any message confirms the watcher fired
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for external_change event")
	}
}

func TestUnwatchRepoStopsFurtherEvents(t *testing.T) {
	dir := t.TempDir()
	gitDir := filepath.Join(dir, ".git")
	if err := os.MkdirAll(gitDir, 0o755); err != nil {
		t.Fatal(err)
	}

	s := NewServer(Config{Addr: ":0"})
	t.Cleanup(s.Shutdown)

	id := statestore.RepoId("repo1")
	if err := s.watchRepo(id, dir, gitDir); err != nil {
		t.Fatalf("watchRepo: %v", err)
	}
	s.unwatchRepo(id)

	s.watchersMu.Lock()
	_, exists := s.watchers[id]
	s.watchersMu.Unlock()
	if exists {
		t.Fatal("watcher still registered after unwatchRepo")
	}
}
