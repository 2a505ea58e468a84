package syncplanner

import (
	"context"
	"sort"
	"strings"

	"github.com/rybkr/gitresync/internal/gitbackend"
	"github.com/rybkr/gitresync/internal/merkle"
)

// ReconcileCaseFoldRenames applies the tie-break rule from spec §4.5: when a
// path appears in both removed and added under different case-folded
// spellings (a rename visible only on a case-insensitive filesystem), it is
// treated as a modification of the new spelling plus a removal of the old
// spelling — both entries stay in the plan rather than collapsing into one.
//
// DiffSnapshots already reports case-differing paths as independent add and
// remove, which already satisfies "both go into the plan"; this function
// exists to additionally reclassify the add as an update against the old
// entry's content hash lineage, so downstream consumers can tell a
// case-only rename apart from an unrelated new file when they need to.
func ReconcileCaseFoldRenames(removed, added []merkle.FileRecord) (renamedAsUpdate []merkle.FileRecord, stillAdded []merkle.FileRecord, stillRemoved []merkle.FileRecord) {
	removedByFold := make(map[string]merkle.FileRecord, len(removed))
	for _, r := range removed {
		removedByFold[strings.ToLower(r.Path)] = r
	}

	consumed := make(map[string]bool)
	for _, a := range added {
		fold := strings.ToLower(a.Path)
		if old, ok := removedByFold[fold]; ok && old.Path != a.Path {
			renamedAsUpdate = append(renamedAsUpdate, a)
			consumed[fold] = true
			continue
		}
		stillAdded = append(stillAdded, a)
	}
	// A case-fold-consumed removal still stays in the plan as its own
	// removal of the old spelling; DiffSnapshots already guarantees the old
	// and new spellings are reported independently, this function only
	// reclassifies the add side above. consumed is only recorded by the
	// add loop and never read; every removed entry passes through unchanged here.
	stillRemoved = removed
	return renamedAsUpdate, stillAdded, stillRemoved
}

// BuildSnapshotWithFastPath constructs a new merkle.Snapshot for toCommit,
// skipping content hashing for any path whose git blob id is unchanged
// since fromEntries (the prior snapshot's entries), per spec §4.5's
// git-tree fast path: blob equality implies byte equality, so such files
// inherit the prior content hash rather than being re-read from disk.
//
// walk enumerates every blob reachable from toCommit's tree (normally
// gitbackend.Handle.Walk); hashPath computes a fresh FileRecord only for
// paths that need it.
func BuildSnapshotWithFastPath(
	toCommit string,
	fromEntries map[string]merkle.FileRecord,
	walkEntries []gitbackend.TreeEntry,
	oldBlobIDByPath map[string]string,
	hashPath func(path string, entry gitbackend.TreeEntry) (merkle.FileRecord, error),
) (merkle.Snapshot, error) {
	entries := make([]merkle.FileRecord, 0, len(walkEntries))

	for _, te := range walkEntries {
		prior, hadPrior := fromEntries[te.Path]
		priorBlob, hadBlob := oldBlobIDByPath[te.Path]

		if hadPrior && hadBlob && priorBlob == string(te.Blob) {
			entries = append(entries, prior)
			continue
		}

		rec, err := hashPath(te.Path, te)
		if err != nil {
			return merkle.Snapshot{}, err
		}
		entries = append(entries, rec)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})

	root, err := merkle.RootHashOf(entries)
	if err != nil {
		return merkle.Snapshot{}, err
	}

	return merkle.Snapshot{
		RootHash:   root,
		CommitHash: toCommit,
		Entries:    entries,
	}, nil
}

// BlobIDsByPath walks commit's tree and returns a path -> git blob id map,
// the baseline BuildSnapshotWithFastPath diffs against to decide which
// paths can skip rehashing.
func BlobIDsByPath(ctx context.Context, handle gitbackend.Handle, commit string) (map[string]string, error) {
	ids := make(map[string]string)
	err := handle.Walk(ctx, gitbackend.Hash(commit), func(te gitbackend.TreeEntry) error {
		ids[te.Path] = string(te.Blob)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
