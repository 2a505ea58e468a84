// Package statestore implements the durable, process-wide key-value
// abstraction the core persists repository state through (component C4):
// three logical tables — repositories, branch_states, merkle_snapshots —
// backed by one directory per RepoId under a configurable base path.
package statestore

import (
	"time"

	"github.com/rybkr/gitresync/internal/merkle"
)

// schemaVersion is written as the first field of every persisted record.
// Loads fail fast on a mismatch rather than attempting silent migration.
const schemaVersion = 1

// RepoId is an opaque, stable identifier derived from a repository's
// canonical working-tree path.
type RepoId string

// Repository is the repositories-table record for one RepoId.
type Repository struct {
	SchemaVersion int
	RepoId        RepoId
	CanonicalPath string
	RegisteredAt  time.Time
}

// BranchState is the branch_states-table record for one (RepoId, branch)
// (spec §3 BranchState). The authoritative copy of Files lives in the
// merkle_snapshots table alongside the root hash; Files here is the same
// map kept alongside the lightweight fields so callers that only need
// per-file metadata (last indexed commit, generation) do not have to
// deserialize the binary snapshot.
type BranchState struct {
	SchemaVersion      int
	LastIndexedCommit  string
	LastMerkleRoot     string
	Files              map[string]merkle.FileRecord
	LastIndexedAt      time.Time
	Generation         uint64
}
