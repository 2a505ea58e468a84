package merkle

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// snapshotSchemaVersion is written as the first field of every serialized
// Snapshot (spec §6: "every record's first field is schema_version").
const snapshotSchemaVersion = 1

// Serialize encodes s in a deterministic binary format: a fixed-width
// header followed by entries in the same canonical byte-lexicographic
// order used during hashing. Round-tripping through Serialize/Deserialize
// preserves the root hash (P4).
func Serialize(s Snapshot) ([]byte, error) {
	var buf bytes.Buffer

	writeUint32(&buf, snapshotSchemaVersion)
	buf.Write(s.RootHash[:])
	writeString(&buf, s.CommitHash)
	writeInt64(&buf, s.CreatedAt.UnixNano())
	writeUint32(&buf, uint32(len(s.Entries)))

	for _, e := range s.Entries {
		writeString(&buf, e.Path)
		buf.Write(e.ContentHash[:])
		writeInt64(&buf, e.Size)
		writeInt64(&buf, e.ModTimeSec)
		writeInt64(&buf, e.ModTimeNsec)
		var flags byte
		if e.Executable {
			flags |= 0x01
		}
		if e.Symlink {
			flags |= 0x02
		}
		buf.WriteByte(flags)
	}

	return buf.Bytes(), nil
}

// Deserialize decodes bytes produced by Serialize. It fails closed on an
// unrecognized schema_version rather than guessing at a layout.
func Deserialize(data []byte) (Snapshot, error) {
	r := bytes.NewReader(data)

	version, err := readUint32(r)
	if err != nil {
		return Snapshot{}, fmt.Errorf("merkle: read schema_version: %w", err)
	}
	if version != snapshotSchemaVersion {
		return Snapshot{}, fmt.Errorf("merkle: unsupported snapshot schema_version %d", version)
	}

	var s Snapshot
	if _, err := io.ReadFull(r, s.RootHash[:]); err != nil {
		return Snapshot{}, fmt.Errorf("merkle: read root_hash: %w", err)
	}

	commitHash, err := readString(r)
	if err != nil {
		return Snapshot{}, fmt.Errorf("merkle: read commit_hash: %w", err)
	}
	s.CommitHash = commitHash

	createdAtNanos, err := readInt64(r)
	if err != nil {
		return Snapshot{}, fmt.Errorf("merkle: read created_at: %w", err)
	}
	s.CreatedAt = time.Unix(0, createdAtNanos).UTC()

	count, err := readUint32(r)
	if err != nil {
		return Snapshot{}, fmt.Errorf("merkle: read entry count: %w", err)
	}

	s.Entries = make([]FileRecord, count)
	for i := uint32(0); i < count; i++ {
		var e FileRecord
		path, err := readString(r)
		if err != nil {
			return Snapshot{}, fmt.Errorf("merkle: read entry %d path: %w", i, err)
		}
		e.Path = path

		if _, err := io.ReadFull(r, e.ContentHash[:]); err != nil {
			return Snapshot{}, fmt.Errorf("merkle: read entry %d content_hash: %w", i, err)
		}
		if e.Size, err = readInt64(r); err != nil {
			return Snapshot{}, fmt.Errorf("merkle: read entry %d size: %w", i, err)
		}
		if e.ModTimeSec, err = readInt64(r); err != nil {
			return Snapshot{}, fmt.Errorf("merkle: read entry %d mtime_sec: %w", i, err)
		}
		if e.ModTimeNsec, err = readInt64(r); err != nil {
			return Snapshot{}, fmt.Errorf("merkle: read entry %d mtime_nsec: %w", i, err)
		}
		flags, err := r.ReadByte()
		if err != nil {
			return Snapshot{}, fmt.Errorf("merkle: read entry %d flags: %w", i, err)
		}
		e.Executable = flags&0x01 != 0
		e.Symlink = flags&0x02 != 0

		s.Entries[i] = e
	}

	return s, nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(tmp[:]), nil
}

func writeInt64(buf *bytes.Buffer, v int64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	buf.Write(tmp[:])
}

func readInt64(r *bytes.Reader) (int64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(tmp[:])), nil
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
