// Package syncplanner implements component C5: given an old BranchState (or
// its absence) and a new working-tree merkle snapshot, produce a minimal
// file-level SyncRequirement classified as None, Incremental, or Full.
package syncplanner

import (
	"github.com/rybkr/gitresync/internal/merkle"
)

// SyncType classifies the scope of a SyncRequirement.
type SyncType int

const (
	// None means the working tree already matches the last indexed state.
	None SyncType = iota
	// Incremental means a specific, bounded set of files changed.
	Incremental
	// Full means the change volume exceeds the full-resync threshold, or
	// there was no prior state to diff against.
	Full
)

func (t SyncType) String() string {
	switch t {
	case None:
		return "None"
	case Incremental:
		return "Incremental"
	case Full:
		return "Full"
	default:
		return "Unknown"
	}
}

// DefaultFullResyncFraction is the default fraction of new.Entries whose
// change triggers a Full plan instead of Incremental.
const DefaultFullResyncFraction = 0.5

// MinFullResyncFiles is an absolute affected-file count that triggers a
// Full plan on its own, independent of fraction: a repository with 100,000
// tracked files and 1,000 changed files is still a Full resync even though
// 1,000 is only 1% of the total.
const MinFullResyncFiles = 1000

// Requirement is the C5 output (spec §3 SyncRequirement).
type Requirement struct {
	SyncType      SyncType
	FilesToAdd    []string
	FilesToUpdate []string
	FilesToRemove []string
	FromCommit    string
	ToCommit      string
	EstimatedCost uint64
}

// BlobDiff is one entry of the optional git-tree-diff fast path: a path
// whose blob id differs (or is new) between the old and new commits.
// Paths NOT present here are assumed unchanged at the git level, letting
// the planner skip rehashing them and inherit the prior content hash.
type BlobDiff struct {
	Path       string
	NewBlobID  string
	PriorEntry merkle.FileRecord
	HasPrior   bool
}

// Options tunes planner thresholds.
type Options struct {
	// FullResyncFraction overrides DefaultFullResyncFraction when non-zero.
	FullResyncFraction float64
}

func (o Options) fraction() float64 {
	if o.FullResyncFraction > 0 {
		return o.FullResyncFraction
	}
	return DefaultFullResyncFraction
}

// Plan implements the C5 algorithm (spec §4.5).
//
//  1. If old is nil, emit Full with every entry of new in FilesToAdd.
//  2. If old.RootHash == new.RootHash, emit None with empty sets.
//  3. Otherwise diff old against new; if the affected count exceeds
//     fraction*len(new.Entries), or reaches MinFullResyncFiles outright,
//     emit Full, else Incremental.
//  4. EstimatedCost sums the size of added ∪ modified entries.
//
// Plan takes no git blob information; a caller that wants to skip rehashing
// files whose git blob id is unchanged builds new with
// BuildSnapshotWithFastPath before calling Plan.
func Plan(old *merkle.Snapshot, new merkle.Snapshot, opts Options) Requirement {
	if old == nil {
		req := Requirement{
			SyncType: Full,
			ToCommit: new.CommitHash,
		}
		for _, e := range new.Entries {
			req.FilesToAdd = append(req.FilesToAdd, e.Path)
			req.EstimatedCost += uint64(e.Size)
		}
		return req
	}

	req := Requirement{
		FromCommit: old.CommitHash,
		ToCommit:   new.CommitHash,
	}

	if old.RootHash == new.RootHash {
		req.SyncType = None
		return req
	}

	d := merkle.DiffSnapshots(*old, new)

	// A path that reappears under a different case-folded spelling is a
	// rename visible only on a case-insensitive filesystem (spec §4.5's
	// tie-break rule): the new spelling is an update, not a fresh add.
	renamedAsUpdate, stillAdded, stillRemoved := ReconcileCaseFoldRenames(d.Removed, d.Added)

	for _, e := range stillAdded {
		req.FilesToAdd = append(req.FilesToAdd, e.Path)
		req.EstimatedCost += uint64(e.Size)
	}
	for _, e := range renamedAsUpdate {
		req.FilesToUpdate = append(req.FilesToUpdate, e.Path)
		req.EstimatedCost += uint64(e.Size)
	}
	for _, e := range d.Modified {
		req.FilesToUpdate = append(req.FilesToUpdate, e.Path)
		req.EstimatedCost += uint64(e.Size)
	}
	for _, e := range stillRemoved {
		req.FilesToRemove = append(req.FilesToRemove, e.Path)
	}

	affected := len(d.Added) + len(d.Removed) + len(d.Modified)

	if isFullResync(affected, len(new.Entries), opts.fraction()) {
		req.SyncType = Full
	} else {
		req.SyncType = Incremental
	}
	return req
}

// isFullResync reports whether affected changes out of newEntryCount total
// entries warrant a Full plan: either the fraction changed exceeds
// fraction, or the absolute count reaches MinFullResyncFiles. The absolute
// floor is a trigger in its own right, never a reason to raise the
// fraction's bar for small repositories.
func isFullResync(affected, newEntryCount int, fraction float64) bool {
	if affected >= MinFullResyncFiles {
		return true
	}
	return float64(affected) > fraction*float64(newEntryCount)
}
