// Package branchswitcher implements component C6: an orchestrator that
// atomically captures pre-switch state, performs a checkout via
// internal/gitbackend, derives a resync plan via internal/syncplanner, and
// keeps a per-repository state machine coherent under concurrent requests.
package branchswitcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rybkr/gitresync/internal/gitbackend"
	"github.com/rybkr/gitresync/internal/hasher"
	"github.com/rybkr/gitresync/internal/merkle"
	"github.com/rybkr/gitresync/internal/statestore"
	"github.com/rybkr/gitresync/internal/syncplanner"
)

// State is one phase of the per-repository switch state machine (spec §4.6).
type State int

const (
	Idle State = iota
	Capturing
	Checking
	Rebuilding
	Committing
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Capturing:
		return "Capturing"
	case Checking:
		return "Checking"
	case Rebuilding:
		return "Rebuilding"
	case Committing:
		return "Committing"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Options controls a single switch call (spec §6 switch_branch option
// structs).
type Options struct {
	Force              bool
	AutoResync         bool // defaults true; see NewOptions
	Timeout            time.Duration
	FullResyncFraction float64
}

// NewOptions returns Options with the documented defaults (AutoResync true).
func NewOptions() Options {
	return Options{AutoResync: true}
}

// Result is the outcome of a successful switch (spec §3 SwitchResult,
// named informally there; this is its Go shape).
type Result struct {
	FilesChanged int
	SyncType     syncplanner.SyncType
	Requirement  syncplanner.Requirement
	FromCommit   string
	ToCommit     string
	Generation   uint64
}

// Observer receives lifecycle events from a switch, for progress reporting
// (spec §6: hash_started, hash_finished, checkout_started, commit_started).
// Calls must never block a mutating operation; implementations that need to
// do expensive work should hand the event to a buffered channel or goroutine.
type Observer interface {
	HashStarted(repo statestore.RepoId, path string)
	HashFinished(repo statestore.RepoId, path string)
	CheckoutStarted(repo statestore.RepoId, ref string)
	CommitStarted(repo statestore.RepoId, branch string)
	SwitchFailed(repo statestore.RepoId, err error)
}

// NopObserver implements Observer with no-ops, used when the caller does
// not want lifecycle events.
type NopObserver struct{}

func (NopObserver) HashStarted(statestore.RepoId, string)     {}
func (NopObserver) HashFinished(statestore.RepoId, string)    {}
func (NopObserver) CheckoutStarted(statestore.RepoId, string) {}
func (NopObserver) CommitStarted(statestore.RepoId, string)   {}
func (NopObserver) SwitchFailed(statestore.RepoId, error)     {}

// Switcher orchestrates branch switches for many repositories, serializing
// concurrent requests on the same RepoId (I5) while leaving distinct
// RepoIds fully independent (spec §5 Ordering guarantees).
type Switcher struct {
	Backend  gitbackend.Backend
	Store    *statestore.Store
	Builder  *merkle.Builder
	Log      *slog.Logger
	Observer Observer

	mu       sync.Mutex
	inFlight map[statestore.RepoId]*sync.Mutex
	states   map[statestore.RepoId]State
}

// New returns a Switcher. log and observer may be nil, in which case
// slog.Default() and NopObserver are used.
func New(backend gitbackend.Backend, store *statestore.Store, builder *merkle.Builder, log *slog.Logger, observer Observer) *Switcher {
	if log == nil {
		log = slog.Default()
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Switcher{
		Backend:  backend,
		Store:    store,
		Builder:  builder,
		Log:      log,
		Observer: observer,
		inFlight: map[statestore.RepoId]*sync.Mutex{},
		states:   map[statestore.RepoId]State{},
	}
}

func (s *Switcher) lockFor(id statestore.RepoId) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.inFlight[id]
	if !ok {
		l = &sync.Mutex{}
		s.inFlight[id] = l
	}
	return l
}

func (s *Switcher) setState(id statestore.RepoId, st State) {
	s.mu.Lock()
	s.states[id] = st
	s.mu.Unlock()
}

// StateOf reports the current state machine phase for id, Idle if unknown.
func (s *Switcher) StateOf(id statestore.RepoId) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[id]
}

// Switch executes switch(repo, target, opts) per spec §4.6: captures the
// pre-switch state, checks out target via the GitBackend, rebuilds the
// merkle snapshot, plans the resync, and commits — all serialized per
// RepoId by lockFor.
func (s *Switcher) Switch(ctx context.Context, id statestore.RepoId, handle gitbackend.Handle, target string, opts Options) (Result, error) {
	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	if err := gitbackend.ValidateRefName(target); err != nil && target != "HEAD" {
		return Result{}, err
	}

	s.setState(id, Capturing)
	result, err := s.doSwitch(ctx, id, handle, target, opts)
	if err != nil {
		s.setState(id, Failed)
		s.Log.Error("switch failed", "repo", id, "target", target, "err", err)
		s.Observer.SwitchFailed(id, err)
		s.setState(id, Idle)
		return Result{}, err
	}
	s.Log.Info("switch completed", "repo", id, "target", target, "sync_type", result.SyncType, "files_changed", result.FilesChanged)
	s.setState(id, Idle)
	return result, nil
}

func (s *Switcher) doSwitch(ctx context.Context, id statestore.RepoId, handle gitbackend.Handle, target string, opts Options) (Result, error) {
	s.Log.Debug("switch requested", "repo", id, "target", target, "force", opts.Force)

	head, err := handle.HeadRef(ctx)
	if err != nil {
		return Result{}, err
	}

	resolvedTarget := target
	if target == "HEAD" {
		if head.Branch != "" {
			resolvedTarget = head.Branch
		} else {
			resolvedTarget = string(head.Commit)
		}
	}

	status, err := handle.Status(ctx)
	if err != nil {
		return Result{}, err
	}
	if status.State == gitbackend.StateInProgressOp {
		return Result{}, gitbackend.New(gitbackend.KindInProgressGitOperation, "switch", handle.WorkDir(), nil).WithRef(resolvedTarget)
	}
	if status.State == gitbackend.StateDirty && !opts.Force {
		return Result{}, gitbackend.New(gitbackend.KindDirtyWorkingTree, "switch", handle.WorkDir(), nil).WithRef(resolvedTarget)
	}

	// current branch short-circuit: a target equal to the pre-switch ref
	// skips checkout and reuses the stored BranchState.
	sameRef := (head.Branch != "" && head.Branch == resolvedTarget) ||
		(head.Branch == "" && string(head.Commit) == resolvedTarget)

	// BranchState is keyed by the resolved target name whether it is an
	// actual branch or a detached commit-ish; detached targets simply get
	// their own state entry under that literal name.
	branchForState := resolvedTarget

	old, loadErr := s.Store.LoadBranchState(id, branchForState)
	hadOld := loadErr == nil
	var oldSnapPtr *merkle.Snapshot
	if hadOld {
		oldSnap, snapErr := s.Store.LoadSnapshot(id, branchForState)
		if snapErr == nil {
			oldSnapPtr = &oldSnap
		}
	}

	s.setState(id, Checking)

	if sameRef {
		return s.handleNoOpSwitch(ctx, id, handle, branchForState, old, hadOld, oldSnapPtr, opts)
	}

	select {
	case <-ctx.Done():
		return Result{}, gitbackend.New(gitbackend.KindCancelled, "switch", handle.WorkDir(), ctx.Err())
	default:
	}

	s.Observer.CheckoutStarted(id, resolvedTarget)
	checkoutOpts := gitbackend.CheckoutOptions{Force: opts.Force}
	if err := handle.Checkout(ctx, resolvedTarget, checkoutOpts, nil); err != nil {
		return Result{}, err
	}

	newHead, err := handle.HeadRef(ctx)
	if err != nil {
		return Result{}, err
	}
	toCommit := string(newHead.Commit)
	if toCommit == "" {
		resolved, resolveErr := handle.Resolve(ctx, resolvedTarget)
		if resolveErr != nil {
			return Result{}, resolveErr
		}
		toCommit = string(resolved)
	}

	s.setState(id, Rebuilding)

	select {
	case <-ctx.Done():
		return Result{}, gitbackend.New(gitbackend.KindCancelled, "switch", handle.WorkDir(), ctx.Err())
	default:
	}

	s.Observer.HashStarted(id, handle.WorkDir())
	newSnap, err := s.rebuildSnapshot(ctx, handle, hadOld, old, toCommit)
	s.Observer.HashFinished(id, handle.WorkDir())
	if err != nil {
		return Result{}, fmt.Errorf("branchswitcher: rebuild merkle tree: %w", err)
	}

	var req syncplanner.Requirement
	if opts.AutoResync {
		req = syncplanner.Plan(oldSnapPtr, newSnap, syncplanner.Options{FullResyncFraction: opts.FullResyncFraction})
	} else {
		req = syncplanner.Requirement{SyncType: syncplanner.None, FromCommit: old.LastIndexedCommit, ToCommit: toCommit}
	}

	s.setState(id, Committing)
	s.Observer.CommitStarted(id, branchForState)

	gen := old.Generation + 1
	newState := &statestore.BranchState{
		LastIndexedCommit: toCommit,
		LastMerkleRoot:    newSnap.RootHash.String(),
		Files:             entryMapOf(newSnap.Entries),
		LastIndexedAt:     time.Now(),
		Generation:        gen,
	}

	if err := s.Store.Commit(id, statestore.Updates{Branch: branchForState, State: newState, Snapshot: &newSnap}); err != nil {
		return Result{}, err
	}

	return Result{
		FilesChanged: len(req.FilesToAdd) + len(req.FilesToUpdate) + len(req.FilesToRemove),
		SyncType:     req.SyncType,
		Requirement:  req,
		FromCommit:   req.FromCommit,
		ToCommit:     toCommit,
		Generation:   gen,
	}, nil
}

// handleNoOpSwitch implements the short-circuit edge case: target equals
// the pre-switch ref. No checkout is issued; SyncRequirement is recomputed
// only if the working tree root hash differs from the stored one. A ref
// with no stored BranchState yet is indexed here as its first observation.
func (s *Switcher) handleNoOpSwitch(ctx context.Context, id statestore.RepoId, handle gitbackend.Handle, branch string, old statestore.BranchState, hadOld bool, oldSnap *merkle.Snapshot, opts Options) (Result, error) {
	if !hadOld {
		head, err := handle.HeadRef(ctx)
		if err != nil {
			return Result{}, err
		}
		old.LastIndexedCommit = string(head.Commit)
	}

	s.Observer.HashStarted(id, handle.WorkDir())
	newSnap, err := s.Builder.Build(handle.WorkDir(), old.LastIndexedCommit)
	s.Observer.HashFinished(id, handle.WorkDir())
	if err != nil {
		return Result{}, fmt.Errorf("branchswitcher: rebuild merkle tree for no-op switch: %w", err)
	}

	if newSnap.RootHash.String() == old.LastMerkleRoot {
		return Result{
			FilesChanged: 0,
			SyncType:     syncplanner.None,
			FromCommit:   old.LastIndexedCommit,
			ToCommit:     old.LastIndexedCommit,
			Generation:   old.Generation,
		}, nil
	}

	var req syncplanner.Requirement
	if opts.AutoResync {
		req = syncplanner.Plan(oldSnap, newSnap, syncplanner.Options{FullResyncFraction: opts.FullResyncFraction})
	} else {
		req = syncplanner.Requirement{SyncType: syncplanner.None}
	}

	s.setState(id, Committing)
	s.Observer.CommitStarted(id, branch)

	gen := old.Generation + 1
	newState := &statestore.BranchState{
		LastIndexedCommit: old.LastIndexedCommit,
		LastMerkleRoot:    newSnap.RootHash.String(),
		Files:             entryMapOf(newSnap.Entries),
		LastIndexedAt:     time.Now(),
		Generation:        gen,
	}
	if err := s.Store.Commit(id, statestore.Updates{Branch: branch, State: newState, Snapshot: &newSnap}); err != nil {
		return Result{}, err
	}

	return Result{
		FilesChanged: len(req.FilesToAdd) + len(req.FilesToUpdate) + len(req.FilesToRemove),
		SyncType:     req.SyncType,
		Requirement:  req,
		FromCommit:   old.LastIndexedCommit,
		ToCommit:     old.LastIndexedCommit,
		Generation:   gen,
	}, nil
}

// rebuildSnapshot rebuilds the merkle snapshot for toCommit, preferring the
// git-tree fast path (spec §4.5) when a prior indexed commit is known: files
// whose git blob id did not change between old.LastIndexedCommit and
// toCommit inherit their prior FileRecord instead of being rehashed from
// disk. Any error from the fast path (e.g. a prior commit pruned from the
// repository) falls back to a full rehash.
func (s *Switcher) rebuildSnapshot(ctx context.Context, handle gitbackend.Handle, hadOld bool, old statestore.BranchState, toCommit string) (merkle.Snapshot, error) {
	if hadOld && old.LastIndexedCommit != "" && old.LastIndexedCommit != toCommit {
		if snap, err := s.buildWithFastPath(ctx, handle, old, toCommit); err == nil {
			return snap, nil
		}
		s.Log.Debug("fast path unavailable, falling back to full rehash", "commit", toCommit)
	}
	return s.Builder.Build(handle.WorkDir(), toCommit)
}

// buildWithFastPath implements the git-tree fast path: it walks the prior
// and new commits' trees via gitbackend.Handle.Walk to find paths whose
// blob id is unchanged, then only reads+hashes the paths that changed.
func (s *Switcher) buildWithFastPath(ctx context.Context, handle gitbackend.Handle, old statestore.BranchState, toCommit string) (merkle.Snapshot, error) {
	oldBlobIDs, err := syncplanner.BlobIDsByPath(ctx, handle, old.LastIndexedCommit)
	if err != nil {
		return merkle.Snapshot{}, err
	}

	var walkEntries []gitbackend.TreeEntry
	if err := handle.Walk(ctx, gitbackend.Hash(toCommit), func(te gitbackend.TreeEntry) error {
		walkEntries = append(walkEntries, te)
		return nil
	}); err != nil {
		return merkle.Snapshot{}, err
	}
	if len(walkEntries) == 0 {
		// A real non-empty commit always yields at least one tree entry; an
		// empty walk means this Handle can't actually walk (or the tree is
		// genuinely empty), either way the fast path has nothing reliable to
		// diff against.
		return merkle.Snapshot{}, fmt.Errorf("branchswitcher: empty tree walk for %s", toCommit)
	}

	workDir := handle.WorkDir()
	h := s.Builder.Hasher
	if h == nil {
		h = hasher.New()
	}

	hashPath := func(path string, te gitbackend.TreeEntry) (merkle.FileRecord, error) {
		full := filepath.Join(workDir, path)
		info, statErr := os.Lstat(full)
		if statErr != nil {
			return merkle.FileRecord{}, statErr
		}
		res, hashErr := h.File(full)
		if hashErr != nil {
			return merkle.FileRecord{}, hashErr
		}
		return merkle.FileRecord{
			Path:        path,
			ContentHash: res.Hash,
			Size:        res.Size,
			ModTimeSec:  info.ModTime().Unix(),
			ModTimeNsec: int64(info.ModTime().Nanosecond()),
			Executable:  info.Mode()&0o111 != 0,
			Symlink:     te.IsSymlink(),
		}, nil
	}

	return syncplanner.BuildSnapshotWithFastPath(toCommit, old.Files, walkEntries, oldBlobIDs, hashPath)
}

func entryMapOf(entries []merkle.FileRecord) map[string]merkle.FileRecord {
	m := make(map[string]merkle.FileRecord, len(entries))
	for _, e := range entries {
		m[e.Path] = e
	}
	return m
}
