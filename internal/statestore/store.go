package statestore

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rybkr/gitresync/internal/merkle"
)

// ErrNotFound is returned by the load methods when a record has not been
// persisted yet; callers treat this as "not yet indexed" per spec §6.
var ErrNotFound = errors.New("statestore: record not found")

// ErrSchemaVersionMismatch is returned when a persisted record's
// schema_version does not match what this build understands.
var ErrSchemaVersionMismatch = errors.New("statestore: unsupported schema_version")

// perRepoLock serializes commits for a single RepoId, matching the spec's
// requirement of a single writer per RepoId while allowing concurrent
// readers (no lock is held across reads; files are read-then-parsed).
type perRepoLock struct {
	mu sync.Mutex
}

// Store is a filesystem-backed implementation of the repositories,
// branch_states, and merkle_snapshots tables. Every write goes through
// write-temp-then-rename so a crash mid-write never leaves a torn file.
type Store struct {
	baseDir string

	locksMu sync.Mutex
	locks   map[RepoId]*perRepoLock
}

// New returns a Store rooted at baseDir, creating it if necessary.
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("statestore: create base dir: %w", err)
	}
	return &Store{baseDir: baseDir, locks: map[RepoId]*perRepoLock{}}, nil
}

func (s *Store) repoDir(id RepoId) string {
	return filepath.Join(s.baseDir, string(id))
}

func (s *Store) lockFor(id RepoId) *perRepoLock {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &perRepoLock{}
		s.locks[id] = l
	}
	return l
}

// DeriveRepoId computes a stable RepoId from a repository's canonical
// working-tree path.
func DeriveRepoId(canonicalPath string) RepoId {
	sum := sha256.Sum256([]byte(canonicalPath))
	return RepoId(fmt.Sprintf("%x", sum[:16]))
}

func branchFileName(branch string) string {
	return url.QueryEscape(branch) + ".json"
}

func snapshotFileName(branch string) string {
	return url.QueryEscape(branch) + ".snap"
}

// writeAtomic writes data to path via a temp file in the same directory
// followed by os.Rename, so readers never observe a partially written file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("statestore: create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("statestore: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("statestore: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("statestore: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("statestore: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("statestore: rename into place: %w", err)
	}
	return nil
}

// commitWithRetry runs write exactly as writeAtomic would, retrying up to
// 3 attempts with bounded exponential backoff on failure. The StateStore
// commit is the only operation in the core that self-retries, because
// losing a successful checkout's state is worse than surfacing the error
// (spec §5 Propagation).
func commitWithRetry(write func() error) error {
	const maxAttempts = 3
	var lastErr error
	backoff := 10 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}
		lastErr = write()
		if lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("statestore: commit failed after %d attempts: %w", maxAttempts, lastErr)
}

// Updates bundles every table write for a single Commit call so the caller
// expresses the whole change at one call site. The underlying filesystem
// writes up to three separate files, each replaced atomically on its own;
// the three writes together are not one cross-file transaction.
type Updates struct {
	Repository *Repository
	Branch     string
	State      *BranchState
	Snapshot   *merkle.Snapshot
}

// Commit durably applies updates for repo id, retrying transient I/O
// failures with bounded backoff. Partial writes within a single file are
// impossible (write-temp-then-rename); partial writes across the three
// files of one Updates value are narrowed by writing the snapshot first,
// then the branch state, then the repository record, so a crash never
// leaves a BranchState pointing at a root hash with no corresponding
// snapshot on disk.
func (s *Store) Commit(id RepoId, updates Updates) error {
	lock := s.lockFor(id)
	lock.mu.Lock()
	defer lock.mu.Unlock()

	dir := s.repoDir(id)

	if updates.Snapshot != nil {
		data, err := merkle.Serialize(*updates.Snapshot)
		if err != nil {
			return fmt.Errorf("statestore: serialize snapshot: %w", err)
		}
		path := filepath.Join(dir, "snapshots", snapshotFileName(updates.Branch))
		if err := commitWithRetry(func() error { return writeAtomic(path, data) }); err != nil {
			return err
		}
	}

	if updates.State != nil {
		updates.State.SchemaVersion = schemaVersion
		data, err := json.Marshal(updates.State)
		if err != nil {
			return fmt.Errorf("statestore: marshal branch state: %w", err)
		}
		path := filepath.Join(dir, "branches", branchFileName(updates.Branch))
		if err := commitWithRetry(func() error { return writeAtomic(path, data) }); err != nil {
			return err
		}
	}

	if updates.Repository != nil {
		updates.Repository.SchemaVersion = schemaVersion
		data, err := json.Marshal(updates.Repository)
		if err != nil {
			return fmt.Errorf("statestore: marshal repository: %w", err)
		}
		path := filepath.Join(dir, "repository.json")
		if err := commitWithRetry(func() error { return writeAtomic(path, data) }); err != nil {
			return err
		}
	}

	return nil
}

// LoadRepository reads the repositories-table record for id. Returns
// ErrNotFound if the repository has never been registered.
func (s *Store) LoadRepository(id RepoId) (Repository, error) {
	path := filepath.Join(s.repoDir(id), "repository.json")
	var r Repository
	if err := s.readJSON(path, &r); err != nil {
		return Repository{}, err
	}
	if r.SchemaVersion != schemaVersion {
		return Repository{}, fmt.Errorf("%w: got %d, want %d", ErrSchemaVersionMismatch, r.SchemaVersion, schemaVersion)
	}
	return r, nil
}

// LoadBranchState reads the branch_states-table record for (id, branch).
// Returns ErrNotFound if branch has not been indexed yet.
func (s *Store) LoadBranchState(id RepoId, branch string) (BranchState, error) {
	path := filepath.Join(s.repoDir(id), "branches", branchFileName(branch))
	var bs BranchState
	if err := s.readJSON(path, &bs); err != nil {
		return BranchState{}, err
	}
	if bs.SchemaVersion != schemaVersion {
		return BranchState{}, fmt.Errorf("%w: got %d, want %d", ErrSchemaVersionMismatch, bs.SchemaVersion, schemaVersion)
	}
	return bs, nil
}

// LoadSnapshot reads the merkle_snapshots-table record for (id, branch).
// Returns ErrNotFound if branch has no persisted snapshot.
func (s *Store) LoadSnapshot(id RepoId, branch string) (merkle.Snapshot, error) {
	path := filepath.Join(s.repoDir(id), "snapshots", snapshotFileName(branch))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return merkle.Snapshot{}, ErrNotFound
		}
		return merkle.Snapshot{}, fmt.Errorf("statestore: read snapshot: %w", err)
	}
	snap, err := merkle.Deserialize(data)
	if err != nil {
		return merkle.Snapshot{}, fmt.Errorf("statestore: deserialize snapshot: %w", err)
	}
	return snap, nil
}

// Forget removes all persisted state for id. It does not touch the
// working tree (spec §4.7 forget_repository).
func (s *Store) Forget(id RepoId) error {
	if err := os.RemoveAll(s.repoDir(id)); err != nil {
		return fmt.Errorf("statestore: forget repository: %w", err)
	}
	return nil
}

// ListBranchNames returns the branch names with persisted BranchState for
// id, derived from the branches/ directory listing.
func (s *Store) ListBranchNames(id RepoId) ([]string, error) {
	dir := filepath.Join(s.repoDir(id), "branches")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("statestore: list branches dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		const suffix = ".json"
		if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
			continue
		}
		decoded, err := url.QueryUnescape(name[:len(name)-len(suffix)])
		if err != nil {
			continue
		}
		names = append(names, decoded)
	}
	return names, nil
}

func (s *Store) readJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("statestore: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("statestore: unmarshal %s: %w", path, err)
	}
	return nil
}
