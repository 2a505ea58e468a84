// Package merkle builds and diffs a content-addressed tree over a working
// tree (component C3). Construction excludes any path whose first segment
// is ".git"; directory hashing sorts children by raw byte order of name so
// the root hash is identical across platforms and insertion orders.
package merkle

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rybkr/gitresync/internal/hasher"
)

// RootHash is the 32-byte hash of a directory node; the root hash of a
// working tree is the RootHash of its top-level directory.
type RootHash [32]byte

func (h RootHash) String() string { return fmt.Sprintf("%x", h[:]) }

// FileRecord is one leaf entry of a MerkleSnapshot (spec §4.2).
type FileRecord struct {
	// Path is relative, forward-slash normalized, NFC. Never "" or
	// containing "..".
	Path string
	// ContentHash is the 32-byte leaf content hash from internal/hasher.
	ContentHash hasher.Hash
	// Size is the file size in bytes.
	Size int64
	// ModTimeSec and ModTimeNsec record the modification time; ModTime is
	// never used in diffing, only carried for informational purposes.
	ModTimeSec  int64
	ModTimeNsec int64
	// Executable and Symlink carry the mode bits that affect semantic
	// identity, per the FileRecord definition.
	Executable bool
	Symlink    bool
}

func (r FileRecord) modeByte() byte {
	var b byte
	if r.Executable {
		b |= 0x01
	}
	if r.Symlink {
		b |= 0x02
	}
	return b
}

// leafHash computes H(0x4C ‖ mode_byte ‖ varint(size) ‖ content_hash).
func (r FileRecord) leafHash() [32]byte {
	var buf bytes.Buffer
	buf.WriteByte(0x4C)
	buf.WriteByte(r.modeByte())
	writeVarint(&buf, uint64(r.Size))
	buf.Write(r.ContentHash[:])
	return sha256Sum(buf.Bytes())
}

// Snapshot is the persisted form of a merkle tree over a working tree at a
// known commit (spec §4.3 Persistence).
type Snapshot struct {
	RootHash   RootHash
	CommitHash string
	CreatedAt  time.Time
	// Entries is sorted in canonical byte-lexicographic path order, the
	// same order used during hashing.
	Entries []FileRecord
}

// Builder constructs Snapshots from a working-tree root directory.
type Builder struct {
	Hasher *hasher.Hasher
}

// NewBuilder returns a Builder using a default Hasher.
func NewBuilder() *Builder {
	return &Builder{Hasher: hasher.New()}
}

// Build walks root, excluding any path whose first path segment is ".git",
// and returns a Snapshot whose RootHash is deterministic for a given set of
// (path, content, mode) triples regardless of filesystem iteration order
// (P1, P2).
func (b *Builder) Build(root string, commitHash string) (Snapshot, error) {
	h := b.Hasher
	if h == nil {
		h = hasher.New()
	}

	var entries []FileRecord
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		first := rel
		if idx := strings.IndexByte(rel, '/'); idx >= 0 {
			first = rel[:idx]
		}
		if first == ".git" {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if info.IsDir() {
			return nil
		}
		if info.Mode()&os.ModeType != 0 && info.Mode()&os.ModeSymlink == 0 {
			// Skip device files, sockets, pipes — not meaningful content.
			return nil
		}

		res, hashErr := h.File(path)
		if hashErr != nil {
			return fmt.Errorf("merkle: hash %s: %w", rel, hashErr)
		}

		entries = append(entries, FileRecord{
			Path:        rel,
			ContentHash: res.Hash,
			Size:        res.Size,
			ModTimeSec:  info.ModTime().Unix(),
			ModTimeNsec: int64(info.ModTime().Nanosecond()),
			Executable:  info.Mode()&0o111 != 0,
			Symlink:     info.Mode()&os.ModeSymlink != 0,
		})
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})

	root32, err := RootHashOf(entries)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		RootHash:   root32,
		CommitHash: commitHash,
		Entries:    entries,
	}, nil
}

// dirNode is an internal node of the tree built from a sorted entry list,
// used only to compute RootHashOf; it is never persisted.
type dirNode struct {
	children map[string]*dirNode
	leaf     *FileRecord
}

// RootHashOf computes the DirNode hash of the working-tree root from a flat,
// canonically-path-sorted entry list, per spec §4.3: child hashes fold in
// raw byte order of name at every directory level.
func RootHashOf(entries []FileRecord) (RootHash, error) {
	root := &dirNode{children: map[string]*dirNode{}}
	for i := range entries {
		e := &entries[i]
		segs := strings.Split(e.Path, "/")
		cur := root
		for i, seg := range segs {
			if seg == "" || seg == ".." {
				return RootHash{}, fmt.Errorf("merkle: invalid path segment in %q", e.Path)
			}
			if i == len(segs)-1 {
				if cur.children[seg] != nil {
					return RootHash{}, fmt.Errorf("merkle: path collides with directory: %q", e.Path)
				}
				cur.children[seg] = &dirNode{leaf: e}
				continue
			}
			next, ok := cur.children[seg]
			if !ok {
				next = &dirNode{children: map[string]*dirNode{}}
				cur.children[seg] = next
			}
			if next.leaf != nil {
				return RootHash{}, fmt.Errorf("merkle: path collides with file: %q", e.Path)
			}
			cur = next
		}
	}
	return RootHash(root.hash()), nil
}

func (n *dirNode) hash() [32]byte {
	if n.leaf != nil {
		return n.leaf.leafHash()
	}

	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	var buf bytes.Buffer
	buf.WriteByte(0x44)
	for _, name := range names {
		childHash := n.children[name].hash()
		writeVarint(&buf, uint64(len(name)))
		buf.WriteString(name)
		buf.Write(childHash[:])
	}
	return sha256Sum(buf.Bytes())
}

func writeVarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}
