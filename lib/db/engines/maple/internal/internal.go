package internal

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/ValentinKolb/dMeta/lib/db"
)

// --------------------------------------------------------------------------
// Entry Type (stored value with metadata)
// --------------------------------------------------------------------------

// Entry is the in-memory representation of a record
type Entry struct {
	Value    []byte
	Version  uint64
	ExpireAt uint64
	Index    uint64
}

// Record returns a copy of the entry that is safe to hand out
func (e Entry) Record() db.Record {
	value := make([]byte, len(e.Value))
	copy(value, e.Value)
	return db.Record{
		Value:    value,
		Version:  e.Version,
		ExpireAt: e.ExpireAt,
		Index:    e.Index,
	}
}

// IsExpired reports whether the entry is logically expired at now
func (e Entry) IsExpired(now uint64) bool {
	return e.ExpireAt != 0 && now >= e.ExpireAt
}

// --------------------------------------------------------------------------
// Binary encoding of a single entry
//
// Format (little endian):
//   - 4 bytes: key length, then key
//   - 8 bytes: version
//   - 8 bytes: expireAt
//   - 8 bytes: index
//   - 4 bytes: value length, then value
// --------------------------------------------------------------------------

var ErrCorrupted = errors.New("corrupted entry")

const maxFieldLen = 1 << 30

// WriteEntry writes a key and its entry to w
func WriteEntry(w io.Writer, key string, e Entry) error {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(key)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, key); err != nil {
		return err
	}

	var meta [28]byte
	binary.LittleEndian.PutUint64(meta[0:], e.Version)
	binary.LittleEndian.PutUint64(meta[8:], e.ExpireAt)
	binary.LittleEndian.PutUint64(meta[16:], e.Index)
	binary.LittleEndian.PutUint32(meta[24:], uint32(len(e.Value)))
	if _, err := w.Write(meta[:]); err != nil {
		return err
	}
	_, err := w.Write(e.Value)
	return err
}

// ReadEntry reads a key and its entry from r
func ReadEntry(r io.Reader) (string, Entry, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", Entry{}, err
	}
	keyLen := binary.LittleEndian.Uint32(hdr[:])
	if keyLen > maxFieldLen {
		return "", Entry{}, ErrCorrupted
	}
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return "", Entry{}, err
	}

	var meta [28]byte
	if _, err := io.ReadFull(r, meta[:]); err != nil {
		return "", Entry{}, err
	}
	e := Entry{
		Version:  binary.LittleEndian.Uint64(meta[0:]),
		ExpireAt: binary.LittleEndian.Uint64(meta[8:]),
		Index:    binary.LittleEndian.Uint64(meta[16:]),
	}
	valueLen := binary.LittleEndian.Uint32(meta[24:])
	if valueLen > maxFieldLen {
		return "", Entry{}, ErrCorrupted
	}
	e.Value = make([]byte, valueLen)
	if _, err := io.ReadFull(r, e.Value); err != nil {
		return "", Entry{}, err
	}
	return string(key), e, nil
}

// --------------------------------------------------------------------------
// Tombstones
// --------------------------------------------------------------------------

// Tombstone remembers the last version and write index of a removed key, so a
// re-created key never reuses a version.
type Tombstone struct {
	Version uint64
	Index   uint64
}

// WriteTombstone writes a key and its tombstone to w
//
// Format (little endian): 4 bytes key length, key, 8 bytes version, 8 bytes index
func WriteTombstone(w io.Writer, key string, t Tombstone) error {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(key)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, key); err != nil {
		return err
	}
	var meta [16]byte
	binary.LittleEndian.PutUint64(meta[0:], t.Version)
	binary.LittleEndian.PutUint64(meta[8:], t.Index)
	_, err := w.Write(meta[:])
	return err
}

// ReadTombstone reads a key and its tombstone from r
func ReadTombstone(r io.Reader) (string, Tombstone, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", Tombstone{}, err
	}
	keyLen := binary.LittleEndian.Uint32(hdr[:])
	if keyLen > maxFieldLen {
		return "", Tombstone{}, ErrCorrupted
	}
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return "", Tombstone{}, err
	}
	var meta [16]byte
	if _, err := io.ReadFull(r, meta[:]); err != nil {
		return "", Tombstone{}, err
	}
	return string(key), Tombstone{
		Version: binary.LittleEndian.Uint64(meta[0:]),
		Index:   binary.LittleEndian.Uint64(meta[8:]),
	}, nil
}
