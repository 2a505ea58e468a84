// Package hasher computes the content hash of a single working-tree entry
// (component C2). It is the only piece of the merkle layer that touches the
// filesystem directly; internal/merkle builds tree structure on top of it.
package hasher

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// DefaultOversizeCeiling is the default byte threshold above which a file's
// content is not read at all; its hash is derived from metadata instead
// (see Hash).
const DefaultOversizeCeiling = 256 * 1024 * 1024

const chunkSize = 64 * 1024

const (
	prefixRegular byte = 0x00
	prefixSymlink byte = 0x01
)

// Result is the outcome of hashing one filesystem entry.
type Result struct {
	Hash Hash
	Size int64
}

// Hash is a 32-byte SHA-256 content hash, opaque to callers beyond equality
// comparison.
type Hash [sha256.Size]byte

func (h Hash) String() string { return fmt.Sprintf("%x", h[:]) }

// Hasher computes content hashes for regular files and symlinks, enforcing
// an oversize ceiling above which a file is hashed by metadata only.
type Hasher struct {
	// OversizeCeiling is the byte size above which File falls back to
	// metadata hashing. Zero means DefaultOversizeCeiling.
	OversizeCeiling int64
}

// New returns a Hasher with the default oversize ceiling.
func New() *Hasher {
	return &Hasher{OversizeCeiling: DefaultOversizeCeiling}
}

func (h *Hasher) ceiling() int64 {
	if h.OversizeCeiling > 0 {
		return h.OversizeCeiling
	}
	return DefaultOversizeCeiling
}

// File hashes the content at path. Regular files are streamed in 64 KiB
// chunks through SHA-256 with a leading 0x00 domain-separation byte;
// symlinks are hashed over their target string with a leading 0x01 byte.
// Files at or above the oversize ceiling are not read; instead the hash
// covers (size, mtime) so the oversize path still participates in merkle
// diffing without the cost of reading the content.
func (h *Hasher) File(path string) (Result, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return Result{}, fmt.Errorf("hasher: stat %s: %w", path, err)
	}

	if info.Mode()&os.ModeSymlink != 0 {
		return h.hashSymlink(path, info)
	}

	if info.Size() >= h.ceiling() {
		return h.hashOversize(path, info), nil
	}

	return h.hashRegular(path, info)
}

func (h *Hasher) hashRegular(path string, info os.FileInfo) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("hasher: open %s: %w", path, err)
	}
	defer f.Close()

	sum := sha256.New()
	sum.Write([]byte{prefixRegular})

	buf := make([]byte, chunkSize)
	var total int64
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			sum.Write(buf[:n])
			total += int64(n)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return Result{}, fmt.Errorf("hasher: read %s: %w", path, readErr)
		}
	}

	var out Hash
	copy(out[:], sum.Sum(nil))
	return Result{Hash: out, Size: total}, nil
}

func (h *Hasher) hashSymlink(path string, info os.FileInfo) (Result, error) {
	target, err := os.Readlink(path)
	if err != nil {
		return Result{}, fmt.Errorf("hasher: readlink %s: %w", path, err)
	}

	sum := sha256.New()
	sum.Write([]byte{prefixSymlink})
	sum.Write([]byte(target))

	var out Hash
	copy(out[:], sum.Sum(nil))
	return Result{Hash: out, Size: int64(len(target))}, nil
}

// hashOversize derives a hash from (size, mtime) rather than reading
// content. This keeps enormous files (build artifacts, datasets) usable in
// the merkle tree: they still change hash when touched, just without
// incurring a full read.
func (h *Hasher) hashOversize(path string, info os.FileInfo) Result {
	sum := sha256.New()
	sum.Write([]byte{prefixRegular})

	var sizeBuf [8]byte
	binary.BigEndian.PutUint64(sizeBuf[:], uint64(info.Size()))
	sum.Write(sizeBuf[:])

	var mtimeBuf [8]byte
	binary.BigEndian.PutUint64(mtimeBuf[:], uint64(info.ModTime().UnixNano()))
	sum.Write(mtimeBuf[:])

	var out Hash
	copy(out[:], sum.Sum(nil))
	return Result{Hash: out, Size: info.Size()}
}
