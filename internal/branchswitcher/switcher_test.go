package branchswitcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rybkr/gitresync/internal/gitbackend"
	"github.com/rybkr/gitresync/internal/merkle"
	"github.com/rybkr/gitresync/internal/statestore"
)

// fakeHandle is a minimal gitbackend.Handle backed by an in-memory map of
// branch name to file contents, materializing the target branch's files
// onto workDir on Checkout so internal/merkle can hash real files.
type fakeHandle struct {
	workDir     string
	branches    map[string]map[string]string
	headBranch  string
	dirty       bool
	commitOf    func(branch string) string
}

func (f *fakeHandle) WorkDir() string { return f.workDir }

func (f *fakeHandle) HeadRef(context.Context) (gitbackend.HeadInfo, error) {
	return gitbackend.HeadInfo{Branch: f.headBranch, Commit: gitbackend.Hash(f.commitOf(f.headBranch))}, nil
}

func (f *fakeHandle) Resolve(_ context.Context, refSpec string) (gitbackend.Hash, error) {
	if _, ok := f.branches[refSpec]; ok {
		return gitbackend.Hash(f.commitOf(refSpec)), nil
	}
	return "", gitbackend.New(gitbackend.KindRefNotResolvable, "resolve", f.workDir, nil).WithRef(refSpec)
}

func (f *fakeHandle) ListBranches(context.Context) ([]string, error) {
	var names []string
	for b := range f.branches {
		names = append(names, b)
	}
	return names, nil
}

func (f *fakeHandle) Status(context.Context) (gitbackend.Status, error) {
	if f.dirty {
		return gitbackend.Status{State: gitbackend.StateDirty}, nil
	}
	return gitbackend.Status{State: gitbackend.StateClean}, nil
}

func (f *fakeHandle) Checkout(_ context.Context, ref string, opts gitbackend.CheckoutOptions, onProgress func(gitbackend.CheckoutProgress)) error {
	files, ok := f.branches[ref]
	if !ok {
		return gitbackend.New(gitbackend.KindRefNotResolvable, "checkout", f.workDir, nil).WithRef(ref)
	}
	entries, err := os.ReadDir(f.workDir)
	if err == nil {
		for _, e := range entries {
			os.RemoveAll(filepath.Join(f.workDir, e.Name()))
		}
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(f.workDir, name), []byte(content), 0o644); err != nil {
			return err
		}
	}
	f.headBranch = ref
	f.dirty = false
	return nil
}

func (f *fakeHandle) Walk(context.Context, gitbackend.Hash, func(gitbackend.TreeEntry) error) error {
	return nil
}

func (f *fakeHandle) ReadBlob(context.Context, gitbackend.Hash) ([]byte, error) { return nil, nil }

func (f *fakeHandle) Remotes(context.Context) map[string]string { return nil }

func newFakeHandle(t *testing.T) *fakeHandle {
	t.Helper()
	return &fakeHandle{
		workDir: t.TempDir(),
		branches: map[string]map[string]string{
			"main":    {"a.txt": "one"},
			"feature": {"a.txt": "one", "b.txt": "two"},
		},
		headBranch: "main",
		commitOf: func(branch string) string {
			return "commit-" + branch
		},
	}
}

func newTestSwitcher(t *testing.T) (*Switcher, *fakeHandle) {
	t.Helper()
	store, err := statestore.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	h := newFakeHandle(t)
	// Materialize the initial checked-out branch onto disk.
	for name, content := range h.branches[h.headBranch] {
		os.WriteFile(filepath.Join(h.workDir, name), []byte(content), 0o644)
	}
	sw := New(nil, store, merkle.NewBuilder(), nil, nil)
	return sw, h
}

func TestSwitchToNewBranchCommitsBranchState(t *testing.T) {
	sw, h := newTestSwitcher(t)
	id := statestore.DeriveRepoId(h.workDir)

	res, err := sw.Switch(context.Background(), id, h, "feature", NewOptions())
	if err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if res.FilesChanged == 0 {
		t.Fatalf("expected files_changed > 0, got 0")
	}
	if sw.StateOf(id) != Idle {
		t.Fatalf("state after successful switch = %v, want Idle", sw.StateOf(id))
	}

	gotState, err := sw.Store.LoadBranchState(id, "feature")
	if err != nil {
		t.Fatalf("LoadBranchState: %v", err)
	}
	if gotState.LastIndexedCommit != "commit-feature" {
		t.Fatalf("LastIndexedCommit = %q", gotState.LastIndexedCommit)
	}
}

func TestSwitchSameRefIsNoOp(t *testing.T) {
	sw, h := newTestSwitcher(t)
	id := statestore.DeriveRepoId(h.workDir)

	// Index main first via an initial switch to itself so a BranchState exists.
	res1, err := sw.Switch(context.Background(), id, h, "main", NewOptions())
	if err != nil {
		t.Fatalf("first switch: %v", err)
	}

	res2, err := sw.Switch(context.Background(), id, h, "main", NewOptions())
	if err != nil {
		t.Fatalf("second switch: %v", err)
	}
	if res2.FilesChanged != 0 {
		t.Fatalf("FilesChanged on no-op switch = %d, want 0", res2.FilesChanged)
	}
	if res2.Generation != res1.Generation {
		t.Fatalf("Generation changed on no-op switch: %d != %d", res2.Generation, res1.Generation)
	}
}

func TestSwitchDirtyWithoutForceFails(t *testing.T) {
	sw, h := newTestSwitcher(t)
	h.dirty = true
	id := statestore.DeriveRepoId(h.workDir)

	_, err := sw.Switch(context.Background(), id, h, "feature", NewOptions())
	if err == nil {
		t.Fatal("expected error switching with dirty tree and force=false")
	}
	var gitErr *gitbackend.Error
	if !errors.As(err, &gitErr) || gitErr.Kind != gitbackend.KindDirtyWorkingTree {
		t.Fatalf("error = %v, want KindDirtyWorkingTree", err)
	}

	if sw.StateOf(id) != Idle {
		t.Fatalf("state after failed switch = %v, want Idle", sw.StateOf(id))
	}
}

func TestSwitchDirtyWithForceSucceeds(t *testing.T) {
	sw, h := newTestSwitcher(t)
	h.dirty = true
	id := statestore.DeriveRepoId(h.workDir)

	opts := NewOptions()
	opts.Force = true
	if _, err := sw.Switch(context.Background(), id, h, "feature", opts); err != nil {
		t.Fatalf("Switch with force: %v", err)
	}
}

func TestSwitchInvalidRefFailsBeforeMutation(t *testing.T) {
	sw, h := newTestSwitcher(t)
	id := statestore.DeriveRepoId(h.workDir)

	_, err := sw.Switch(context.Background(), id, h, "-bad", NewOptions())
	if err == nil {
		t.Fatal("expected error for invalid ref name")
	}
	var gitErr *gitbackend.Error
	if !errors.As(err, &gitErr) || gitErr.Kind != gitbackend.KindInvalidRefName {
		t.Fatalf("error = %v, want KindInvalidRefName", err)
	}
}

func TestFailedSwitchLeavesStateUntouched(t *testing.T) {
	sw, h := newTestSwitcher(t)
	id := statestore.DeriveRepoId(h.workDir)

	if _, err := sw.Switch(context.Background(), id, h, "feature", NewOptions()); err != nil {
		t.Fatalf("setup switch: %v", err)
	}
	before, err := sw.Store.LoadBranchState(id, "feature")
	if err != nil {
		t.Fatalf("LoadBranchState: %v", err)
	}

	// Attempting to switch to a ref the fake backend doesn't know about
	// fails during checkout, after state capture.
	_, err = sw.Switch(context.Background(), id, h, "nonexistent", NewOptions())
	if err == nil {
		t.Fatal("expected error switching to nonexistent ref")
	}

	after, err := sw.Store.LoadBranchState(id, "feature")
	if err != nil {
		t.Fatalf("LoadBranchState after failed switch: %v", err)
	}
	if after.Generation != before.Generation {
		t.Fatalf("BranchState mutated after failed switch: generation %d != %d", after.Generation, before.Generation)
	}
}
