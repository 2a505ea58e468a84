// Package gitbackend defines the narrow capability set the core consumes
// from an underlying Git implementation. The core never imports a Git
// library directly; it depends only on the Backend interface here, so any
// concrete implementation (go-git, a shell-out wrapper, a test fake)
// satisfying the contract is substitutable. See internal/gitbackend/gogit
// for the shipped implementation.
package gitbackend

import "context"

// Hash is a 40-character hex-encoded Git object id (SHA-1), or in principle
// a longer SHA-256 id; the core treats it as an opaque identifier and never
// parses its length.
type Hash string

// RefKind classifies what a ref name resolves to.
type RefKind int

const (
	// RefKindUnknown is the zero value; never returned on success.
	RefKindUnknown RefKind = iota
	// RefKindBranch is a local branch (refs/heads/...).
	RefKindBranch
	// RefKindTag is a tag (refs/tags/...), annotated or lightweight.
	RefKindTag
	// RefKindCommit is a concrete commit id with no symbolic name.
	RefKindCommit
)

// HeadInfo describes the current HEAD of a working tree.
type HeadInfo struct {
	// Branch is the current branch name, empty if detached.
	Branch string
	// Commit is the commit HEAD resolves to.
	Commit Hash
	// Detached is true when HEAD does not point at a branch.
	Detached bool
}

// WorkTreeState classifies the cleanliness of the working tree.
type WorkTreeState int

const (
	// StateClean means no staged or unstaged changes and no untracked files
	// (untracked files are implementation-defined; see Status docs).
	StateClean WorkTreeState = iota
	// StateDirty means the working tree or index differs from HEAD.
	StateDirty
	// StateInProgressOp means a merge, rebase, cherry-pick, or bisect is
	// underway (MERGE_HEAD, rebase-merge/, CHERRY_PICK_HEAD, BISECT_LOG, ...).
	StateInProgressOp
)

// Status is the result of a GitBackend.Status call.
type Status struct {
	State WorkTreeState
	// InProgressOp names the detected operation ("merge", "rebase",
	// "cherry-pick", "bisect") when State is StateInProgressOp.
	InProgressOp string
}

// TreeEntry is one (path, mode, blob id) triple yielded by Walk.
type TreeEntry struct {
	// Path is slash-separated and relative to the working-tree root.
	Path string
	// Mode is the Git file mode (100644 regular, 100755 executable,
	// 120000 symlink, 040000 tree — Walk never yields tree entries itself,
	// it recurses through them and only yields blobs).
	Mode uint32
	// Blob is the content-addressed id of the blob at Path.
	Blob Hash
}

// IsExecutable reports whether Mode carries the executable bit.
func (e TreeEntry) IsExecutable() bool { return e.Mode&0o111 != 0 }

// IsSymlink reports whether Mode is a symbolic link.
func (e TreeEntry) IsSymlink() bool { return e.Mode&0o170000 == 0o120000 }

// CheckoutOptions controls Checkout behavior.
type CheckoutOptions struct {
	// Force bypasses the clean-working-tree requirement, accepting data loss.
	Force bool
}

// CheckoutProgress reports incremental checkout progress, mirroring the
// shape the core also uses for merkle-rebuild progress (see reposvc.Observer).
type CheckoutProgress struct {
	Phase   string
	Percent int
}

// Backend is the capability set the core depends on (spec §4.1, component
// C1). None of these operations mutate repository state observable to the
// core except Checkout. Every method is expected to fail with an *Error
// carrying one of the Kind values in errors.go.
type Backend interface {
	// Open resolves path to a working tree and returns an opaque handle.
	// Fails with KindRepositoryNotFound if path is not a Git repository.
	Open(ctx context.Context, path string) (Handle, error)
}

// Handle is an opaque, per-repository capability returned by Open. All
// other operations are methods on Handle so a Backend can multiplex many
// open repositories without the core needing to know how.
type Handle interface {
	// WorkDir returns the absolute working-tree path this handle was opened
	// against.
	WorkDir() string

	// HeadRef reports the current working-tree HEAD.
	HeadRef(ctx context.Context) (HeadInfo, error)

	// Resolve resolves a ref name or commit-ish to a concrete 40-hex commit
	// id. Symbolic refs (including "HEAD") are resolved transitively.
	Resolve(ctx context.Context, refSpec string) (Hash, error)

	// ListBranches returns local branch names only, in no particular order.
	ListBranches(ctx context.Context) ([]string, error)

	// Status reports working-tree cleanliness and any in-progress Git
	// operation (merge, rebase, cherry-pick, bisect).
	Status(ctx context.Context) (Status, error)

	// Checkout switches the working tree to ref (a branch name, tag, or
	// commit hash). Refuses with KindDirtyWorkingTree if the tree is dirty
	// and opts.Force is false. onProgress, if non-nil, receives zero or
	// more progress updates before Checkout returns; it is never called
	// after Checkout returns and must not block the checkout.
	Checkout(ctx context.Context, ref string, opts CheckoutOptions, onProgress func(CheckoutProgress)) error

	// Walk lazily enumerates (path, mode, blob id) for every blob reachable
	// from commit's tree, used for the git-tree-diff fast path (spec §4.5).
	// Order is unspecified. fn returning an error aborts the walk and that
	// error is returned from Walk.
	Walk(ctx context.Context, commit Hash, fn func(TreeEntry) error) error

	// ReadBlob streams the content of a blob by id.
	ReadBlob(ctx context.Context, blob Hash) ([]byte, error)

	// Remotes returns remote name to URL (credentials stripped), used only
	// to enrich RepositoryManager.GetRepositoryInfo (SPEC_FULL §11).
	Remotes(ctx context.Context) map[string]string
}
