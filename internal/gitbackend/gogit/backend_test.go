package gogit

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/rybkr/gitresync/internal/gitbackend"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("PlainInit: %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree: %v", err)
	}

	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("one"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add("a.txt"); err != nil {
		t.Fatalf("Add: %v", err)
	}
	sig := &object.Signature{Name: "test", Email: "test@example.com"}
	if _, err := wt.Commit("initial", &git.CommitOptions{Author: sig}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	return dir
}

func TestOpenAndHeadRef(t *testing.T) {
	dir := initRepo(t)
	b := New()

	handle, err := b.Open(context.Background(), dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	head, err := handle.HeadRef(context.Background())
	if err != nil {
		t.Fatalf("HeadRef: %v", err)
	}
	if head.Detached {
		t.Fatal("fresh repo's first commit should leave HEAD attached to the default branch")
	}
	if head.Commit == "" {
		t.Fatal("HeadRef returned empty commit hash")
	}
}

func TestStatusCleanAndDirty(t *testing.T) {
	dir := initRepo(t)
	b := New()
	handle, err := b.Open(context.Background(), dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	st, err := handle.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != gitbackend.StateClean {
		t.Fatalf("State = %v, want StateClean", st.State)
	}

	if err := os.WriteFile(filepath.Join(dir, "b.txt"), []byte("two"), 0o644); err != nil {
		t.Fatal(err)
	}
	st2, err := handle.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st2.State != gitbackend.StateDirty {
		t.Fatalf("State after untracked file = %v, want StateDirty", st2.State)
	}
}

func TestDetectInProgressMerge(t *testing.T) {
	dir := initRepo(t)
	b := New()
	handle, err := b.Open(context.Background(), dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, ".git", "MERGE_HEAD"), []byte("deadbeef\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	st, err := handle.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != gitbackend.StateInProgressOp || st.InProgressOp != "merge" {
		t.Fatalf("Status = %+v, want in-progress merge", st)
	}
}

func TestWalkYieldsCommittedBlobs(t *testing.T) {
	dir := initRepo(t)
	b := New()
	handle, err := b.Open(context.Background(), dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	head, err := handle.HeadRef(context.Background())
	if err != nil {
		t.Fatalf("HeadRef: %v", err)
	}

	var paths []string
	err = handle.Walk(context.Background(), head.Commit, func(e gitbackend.TreeEntry) error {
		paths = append(paths, e.Path)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(paths) != 1 || paths[0] != "a.txt" {
		t.Fatalf("Walk paths = %v, want [a.txt]", paths)
	}
}

func TestValidateRefNameRejectsInvalidCheckoutTarget(t *testing.T) {
	dir := initRepo(t)
	b := New()
	handle, err := b.Open(context.Background(), dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	err = handle.Checkout(context.Background(), "refs/heads/main", gitbackend.CheckoutOptions{}, nil)
	if err == nil {
		t.Fatal("expected error for full-path ref name")
	}
}
