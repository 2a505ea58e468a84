package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rybkr/gitresync/internal/gitbackend/gogit"
	"github.com/rybkr/gitresync/internal/reposvc"
	"github.com/rybkr/gitresync/internal/statestore"
)

const stateDirEnv = "GITRESYNC_STATE_DIR"

// defaultStateDir returns $GITRESYNC_STATE_DIR if set, else ~/.gitresync/state.
func defaultStateDir() (string, error) {
	if dir := os.Getenv(stateDirEnv); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating home directory: %w", err)
	}
	return filepath.Join(home, ".gitresync", "state"), nil
}

// newService wires together the gogit backend and file-based state store
// into a reposvc.Service, optionally observed by an external notifier (the
// eventserver used by the serve command).
func newService(log *slog.Logger, observer reposvc.Observer) (*reposvc.Service, error) {
	dir, err := defaultStateDir()
	if err != nil {
		return nil, err
	}
	store, err := statestore.New(dir)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}
	return reposvc.New(reposvc.Config{
		Backend:  gogit.New(),
		Store:    store,
		Observer: observer,
		Log:      log,
	}), nil
}

func repoPathFromArgs(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}
