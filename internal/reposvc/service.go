// Package reposvc implements component C7: the public entry point composing
// C1 through C6. It is the only package callers outside the core need to
// import.
package reposvc

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	"github.com/rybkr/gitresync/internal/branchswitcher"
	"github.com/rybkr/gitresync/internal/gitbackend"
	"github.com/rybkr/gitresync/internal/merkle"
	"github.com/rybkr/gitresync/internal/statestore"
	"github.com/rybkr/gitresync/internal/syncplanner"
)

// Observer is an alias of branchswitcher.Observer so callers of this
// package never need to import internal/branchswitcher directly.
type Observer = branchswitcher.Observer

// SwitchOptions is an alias of branchswitcher.Options.
type SwitchOptions = branchswitcher.Options

// SwitchResult is an alias of branchswitcher.Result.
type SwitchResult = branchswitcher.Result

// Info is the result of GetRepositoryInfo (spec §4.7).
type Info struct {
	CurrentRef        string
	Detached          bool
	TrackedBranches   []string
	LastIndexedCommit map[string]string
	MerkleRoot        map[string]string
	Remotes           map[string]string
}

// Service is the RepositoryManager façade. It enforces at most one
// in-flight mutating operation per RepoId (I5) by delegating all mutation
// to a branchswitcher.Switcher, which already serializes per RepoId.
type Service struct {
	backend  gitbackend.Backend
	store    *statestore.Store
	builder  *merkle.Builder
	switcher *branchswitcher.Switcher
	log      *slog.Logger
}

// Config configures a new Service.
type Config struct {
	Backend  gitbackend.Backend
	Store    *statestore.Store
	Builder  *merkle.Builder
	Observer Observer
	Log      *slog.Logger
}

// New constructs a Service from cfg. Builder and Log default if left zero.
func New(cfg Config) *Service {
	builder := cfg.Builder
	if builder == nil {
		builder = merkle.NewBuilder()
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		backend:  cfg.Backend,
		store:    cfg.Store,
		builder:  builder,
		switcher: branchswitcher.New(cfg.Backend, cfg.Store, builder, log, cfg.Observer),
		log:      log,
	}
}

func (s *Service) open(ctx context.Context, path string) (gitbackend.Handle, statestore.RepoId, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, "", fmt.Errorf("reposvc: resolve canonical path: %w", err)
	}
	handle, err := s.backend.Open(ctx, abs)
	if err != nil {
		return nil, "", err
	}
	id := statestore.DeriveRepoId(handle.WorkDir())
	return handle, id, nil
}

// Initialize opens the backend at path, resolves the canonical path and
// RepoId, loads or creates the Repository record, and — if absent — builds
// an initial MerkleSnapshot for the current branch.
func (s *Service) Initialize(ctx context.Context, path string) (statestore.RepoId, error) {
	handle, id, err := s.open(ctx, path)
	if err != nil {
		return "", err
	}

	if _, err := s.store.LoadRepository(id); err == statestore.ErrNotFound {
		repo := &statestore.Repository{
			RepoId:        id,
			CanonicalPath: handle.WorkDir(),
		}
		if err := s.store.Commit(id, statestore.Updates{Repository: repo}); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}

	head, err := handle.HeadRef(ctx)
	if err != nil {
		return "", err
	}
	branch := head.Branch
	if branch == "" {
		branch = string(head.Commit)
	}
	if branch == "" {
		// Unborn repository, nothing to index yet.
		return id, nil
	}

	if _, err := s.store.LoadBranchState(id, branch); err == statestore.ErrNotFound {
		if err := s.indexBranch(handle, id, branch, string(head.Commit)); err != nil {
			return "", fmt.Errorf("reposvc: build initial snapshot: %w", err)
		}
	} else if err != nil {
		return "", err
	}

	return id, nil
}

// indexBranch builds the initial merkle snapshot for branch at toCommit and
// persists it as generation 1 BranchState. Only Initialize calls this — it
// is the one path allowed to write state without going through
// switch_branch, since there is no prior BranchState yet to plan a sync
// against.
func (s *Service) indexBranch(handle gitbackend.Handle, id statestore.RepoId, branch, toCommit string) error {
	newSnap, err := s.builder.Build(handle.WorkDir(), toCommit)
	if err != nil {
		return fmt.Errorf("build initial merkle snapshot: %w", err)
	}

	newState := &statestore.BranchState{
		LastIndexedCommit: toCommit,
		LastMerkleRoot:    newSnap.RootHash.String(),
		Files:             entryMapOf(newSnap.Entries),
		Generation:        1,
	}
	return s.store.Commit(id, statestore.Updates{Branch: branch, State: newState, Snapshot: &newSnap})
}

// SwitchBranch performs switch_branch(path, target, opts) per spec §4.7.
func (s *Service) SwitchBranch(ctx context.Context, path, target string, opts SwitchOptions) (SwitchResult, error) {
	handle, id, err := s.open(ctx, path)
	if err != nil {
		return SwitchResult{}, err
	}
	return s.switcher.Switch(ctx, id, handle, target, opts)
}

// ListBranches returns local branch names, ordered lexicographically for a
// stable external contract (spec only requires "ordered set").
func (s *Service) ListBranches(ctx context.Context, path string) ([]string, error) {
	handle, _, err := s.open(ctx, path)
	if err != nil {
		return nil, err
	}
	names, err := handle.ListBranches(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// ComputeSyncRequirement rebuilds a working-tree snapshot and plans against
// the stored BranchState for branch, without performing a checkout or
// persisting any new state. This is a read-only, idempotent op (spec §4.7):
// calling it repeatedly must not advance Generation or rewrite
// LastIndexedCommit — only switch_branch (and the one-time initial index in
// Initialize) are allowed to do that.
func (s *Service) ComputeSyncRequirement(ctx context.Context, path, branch string) (syncplanner.Requirement, error) {
	handle, id, err := s.open(ctx, path)
	if err != nil {
		return syncplanner.Requirement{}, err
	}

	head, err := handle.HeadRef(ctx)
	if err != nil {
		return syncplanner.Requirement{}, err
	}
	toCommit := string(head.Commit)

	newSnap, err := s.builder.Build(handle.WorkDir(), toCommit)
	if err != nil {
		return syncplanner.Requirement{}, fmt.Errorf("reposvc: build merkle snapshot: %w", err)
	}

	var oldSnapPtr *merkle.Snapshot
	_, err = s.store.LoadBranchState(id, branch)
	hadOld := err == nil
	if err != nil && err != statestore.ErrNotFound {
		return syncplanner.Requirement{}, err
	}
	if hadOld {
		if oldSnap, err := s.store.LoadSnapshot(id, branch); err == nil {
			oldSnapPtr = &oldSnap
		}
	}

	return syncplanner.Plan(oldSnapPtr, newSnap, syncplanner.Options{}), nil
}

// GetRepositoryInfo returns current ref, tracked branches, and per-branch
// indexed commit/merkle root, enriched with stripped-credential remote
// URLs.
func (s *Service) GetRepositoryInfo(ctx context.Context, path string) (Info, error) {
	handle, id, err := s.open(ctx, path)
	if err != nil {
		return Info{}, err
	}

	head, err := handle.HeadRef(ctx)
	if err != nil {
		return Info{}, err
	}

	branchNames, err := s.store.ListBranchNames(id)
	if err != nil {
		return Info{}, err
	}
	sort.Strings(branchNames)

	info := Info{
		Detached:          head.Detached,
		TrackedBranches:   branchNames,
		LastIndexedCommit: map[string]string{},
		MerkleRoot:        map[string]string{},
		Remotes:           handle.Remotes(ctx),
	}
	if head.Detached {
		info.CurrentRef = string(head.Commit)
	} else {
		info.CurrentRef = head.Branch
	}

	for _, b := range branchNames {
		st, err := s.store.LoadBranchState(id, b)
		if err != nil {
			continue
		}
		info.LastIndexedCommit[b] = st.LastIndexedCommit
		info.MerkleRoot[b] = st.LastMerkleRoot
	}

	return info, nil
}

// ForgetRepository removes persisted state for path's repository; it does
// not touch the working tree.
func (s *Service) ForgetRepository(ctx context.Context, path string) error {
	_, id, err := s.open(ctx, path)
	if err != nil {
		return err
	}
	return s.store.Forget(id)
}

func entryMapOf(entries []merkle.FileRecord) map[string]merkle.FileRecord {
	m := make(map[string]merkle.FileRecord, len(entries))
	for _, e := range entries {
		m[e.Path] = e
	}
	return m
}
