package maple

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dMeta/lib/db"
	"github.com/ValentinKolb/dMeta/lib/db/engines/maple/internal"
	"github.com/ValentinKolb/dMeta/lib/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	magicNum     = "MAPLEDB\x00" // File format identifier
	mapleVersion = 5             // Database version
)

// --------------------------------------------------------------------------
// Core Maple database structure
// --------------------------------------------------------------------------

// mapleImpl is an in-memory versioned key-value store.
//
// Reads are lock-free (xsync.MapOf), writes are serialized by writeMu. Expiry is tracked
// in a heap and only enforced by GarbageCollect, which the caller drives with its own
// logical clock.
type mapleImpl struct {
	data atomic.Pointer[xsync.MapOf[string, internal.Entry]]

	writeMu    sync.Mutex
	expireHeap *util.MapHeap[string]         // guarded by writeMu
	tombstones map[string]internal.Tombstone // guarded by writeMu

	currIndex atomic.Uint64
	clock     atomic.Uint64
}

// DBOptions configures the mapleImpl behavior during initialization
type DBOptions struct {
	InitialCapacity int // size hint for the record map (0 = default)
}

// DefaultOptions returns the default mapleImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{InitialCapacity: 1024}
}

// NewMapleDB creates a new MapleDB instance with the specified options (optional)
func NewMapleDB(opts *DBOptions) db.KVDB {
	if opts == nil {
		opts = DefaultOptions()
	}
	maple := &mapleImpl{
		expireHeap: util.NewMapHeap[string](),
		tombstones: make(map[string]internal.Tombstone),
	}
	maple.data.Store(newMap(opts.InitialCapacity))
	return maple
}

func newMap(capacity int) *xsync.MapOf[string, internal.Entry] {
	if capacity > 0 {
		return xsync.NewMapOf[string, internal.Entry](xsync.WithPresize(capacity))
	}
	return xsync.NewMapOf[string, internal.Entry]()
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

// Put inserts or overwrites a record.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Put(key string, value []byte, expireAt, writeIndex, now uint64) db.Record {
	rec, _ := maple.compute(key, writeIndex, now, func(old internal.Entry, loaded bool, prev uint64) (internal.Entry, bool, bool) {
		return nextEntry(prev, value, expireAt, writeIndex), true, false
	})
	return rec
}

// CompareAndSwap writes a record only if the current version equals expected.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) CompareAndSwap(key string, expected uint64, value []byte, expireAt, writeIndex, now uint64) (db.Record, bool) {
	return maple.compute(key, writeIndex, now, func(old internal.Entry, loaded bool, prev uint64) (internal.Entry, bool, bool) {
		if currentVersion(old, loaded) != expected {
			return old, false, false
		}
		return nextEntry(prev, value, expireAt, writeIndex), true, false
	})
}

// Delete removes a record.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Delete(key string, writeIndex, now uint64) bool {
	_, ok := maple.compute(key, writeIndex, now, func(old internal.Entry, loaded bool, _ uint64) (internal.Entry, bool, bool) {
		return old, loaded, loaded
	})
	return ok
}

// CompareAndDelete removes a record only if its version equals expected.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) CompareAndDelete(key string, expected uint64, writeIndex, now uint64) (db.Record, bool) {
	return maple.compute(key, writeIndex, now, func(old internal.Entry, loaded bool, _ uint64) (internal.Entry, bool, bool) {
		if !loaded || old.Version != expected {
			return old, false, false
		}
		return old, true, true
	})
}

func currentVersion(old internal.Entry, loaded bool) uint64 {
	if !loaded {
		return 0
	}
	return old.Version
}

// nextEntry builds the entry that follows the last version prev of the key
func nextEntry(prev uint64, value []byte, expireAt, writeIndex uint64) internal.Entry {
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)
	return internal.Entry{
		Value:    valueCopy,
		Version:  prev + 1,
		ExpireAt: expireAt,
		Index:    writeIndex,
	}
}

// compute is the shared implementation of all write operations.
//
// fn receives the current entry (loaded=false if the key is absent or expired at now)
// and the last version the key ever had (prev), also if it was deleted or expired since.
// It returns the resulting entry, whether the operation succeeded and whether the key
// has to be removed. Writes with an index not newer than the stored entry or tombstone
// are ignored.
//
// Thread-safety: writes are serialized by writeMu, readers are never blocked.
func (maple *mapleImpl) compute(key string, writeIndex, now uint64, fn func(old internal.Entry, loaded bool, prev uint64) (entry internal.Entry, ok bool, del bool)) (db.Record, bool) {
	maple.writeMu.Lock()
	defer maple.writeMu.Unlock()

	maple.SetWriteIdx(writeIndex)
	maple.advanceClock(now)

	data := maple.data.Load()
	old, exists := data.Load(key)
	tomb, buried := maple.tombstones[key]

	// stale writes are ignored
	if exists && writeIndex <= old.Index {
		if old.IsExpired(now) {
			return db.Record{}, false
		}
		return old.Record(), false
	}
	if !exists && buried && writeIndex <= tomb.Index {
		return db.Record{}, false
	}

	prev := tomb.Version
	if exists {
		prev = old.Version
	}

	loaded := exists && !old.IsExpired(now)
	if !loaded {
		old = internal.Entry{}
	}

	entry, ok, del := fn(old, loaded, prev)
	if !ok {
		return old.Record(), false
	}

	if del {
		if exists {
			data.Delete(key)
			maple.expireHeap.RemoveByKey(key)
			maple.tombstones[key] = internal.Tombstone{Version: prev, Index: writeIndex}
		}
		return entry.Record(), true
	}

	data.Store(key, entry)
	delete(maple.tombstones, key)
	if entry.ExpireAt != 0 {
		maple.expireHeap.AddItem(key, entry.ExpireAt)
	} else {
		maple.expireHeap.RemoveByKey(key)
	}
	return entry.Record(), true
}

// GarbageCollect removes every record that is expired at now.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) GarbageCollect(now uint64) int {
	maple.writeMu.Lock()
	defer maple.writeMu.Unlock()

	maple.advanceClock(now)
	data := maple.data.Load()

	expired := maple.expireHeap.PopUntil(now)
	for _, key := range expired {
		if e, ok := data.LoadAndDelete(key); ok {
			maple.tombstones[key] = internal.Tombstone{Version: e.Version, Index: e.Index}
		}
	}
	return len(expired)
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

// Get returns a copy of the record for key unless it is absent or expired at now.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Get(key string, now uint64) (db.Record, bool) {
	e, ok := maple.data.Load().Load(key)
	if !ok || e.IsExpired(now) {
		return db.Record{}, false
	}
	return e.Record(), true
}

// Len returns the number of stored records
func (maple *mapleImpl) Len() int {
	return maple.data.Load().Size()
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save writes all live records sorted by key.
//
// Format (little endian):
//   - magic number and version byte
//   - 8 bytes write index, 8 bytes clock, 8 bytes record count
//   - records (see internal.WriteEntry)
//   - 8 bytes tombstone count, tombstones (see internal.WriteTombstone)
//
// Thread-safety: Save blocks writers for its whole duration, readers are not blocked.
func (maple *mapleImpl) Save(w io.Writer) error {
	maple.writeMu.Lock()
	defer maple.writeMu.Unlock()

	now := maple.clock.Load()
	keys := make([]string, 0, maple.Len())
	entries := make(map[string]internal.Entry, maple.Len())
	tombs := make(map[string]internal.Tombstone, len(maple.tombstones))
	for key, t := range maple.tombstones {
		tombs[key] = t
	}
	maple.data.Load().Range(func(key string, e internal.Entry) bool {
		if e.IsExpired(now) {
			tombs[key] = internal.Tombstone{Version: e.Version, Index: e.Index}
		} else {
			keys = append(keys, key)
			entries[key] = e
		}
		return true
	})
	sort.Strings(keys)
	tombKeys := make([]string, 0, len(tombs))
	for key := range tombs {
		tombKeys = append(tombKeys, key)
	}
	sort.Strings(tombKeys)

	bw := bufio.NewWriterSize(w, 1024*1024)

	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	if err := bw.WriteByte(mapleVersion); err != nil {
		return err
	}
	var hdr [24]byte
	binary.LittleEndian.PutUint64(hdr[0:], maple.currIndex.Load())
	binary.LittleEndian.PutUint64(hdr[8:], now)
	binary.LittleEndian.PutUint64(hdr[16:], uint64(len(keys)))
	if _, err := bw.Write(hdr[:]); err != nil {
		return err
	}

	for _, key := range keys {
		if err := internal.WriteEntry(bw, key, entries[key]); err != nil {
			return err
		}
	}

	var cnt [8]byte
	binary.LittleEndian.PutUint64(cnt[:], uint64(len(tombKeys)))
	if _, err := bw.Write(cnt[:]); err != nil {
		return err
	}
	for _, key := range tombKeys {
		if err := internal.WriteTombstone(bw, key, tombs[key]); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Load replaces the database content with the image read from r.
// The new content becomes visible to readers at once after it was read completely.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (maple *mapleImpl) Load(r io.Reader) error {
	br := bufio.NewReaderSize(r, 1024*1024)

	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	version, err := br.ReadByte()
	if err != nil {
		return err
	}
	if int(version) != mapleVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, mapleVersion)
	}

	var hdr [24]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return err
	}
	writeIdx := binary.LittleEndian.Uint64(hdr[0:])
	clock := binary.LittleEndian.Uint64(hdr[8:])
	count := binary.LittleEndian.Uint64(hdr[16:])

	data := newMap(int(min(count, 1<<20)))
	heap := util.NewMapHeap[string]()
	for i := uint64(0); i < count; i++ {
		key, e, err := internal.ReadEntry(br)
		if err != nil {
			return fmt.Errorf("read record %d: %w", i, err)
		}
		data.Store(key, e)
		if e.ExpireAt != 0 {
			heap.AddItem(key, e.ExpireAt)
		}
	}

	var cnt [8]byte
	if _, err := io.ReadFull(br, cnt[:]); err != nil {
		return err
	}
	tombCount := binary.LittleEndian.Uint64(cnt[:])
	tombs := make(map[string]internal.Tombstone, min(tombCount, 1<<20))
	for i := uint64(0); i < tombCount; i++ {
		key, t, err := internal.ReadTombstone(br)
		if err != nil {
			return fmt.Errorf("read tombstone %d: %w", i, err)
		}
		tombs[key] = t
	}

	maple.writeMu.Lock()
	defer maple.writeMu.Unlock()
	maple.data.Store(data)
	maple.expireHeap = heap
	maple.tombstones = tombs
	maple.currIndex.Store(writeIdx)
	maple.clock.Store(clock)
	return nil
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Features and Metadata
// --------------------------------------------------------------------------

// GetInfo returns statistics about the database
func (maple *mapleImpl) GetInfo() db.DatabaseInfo {
	const entryOverhead = 32 // version, expireAt, index and length fields

	keys, size, expired := 0, 0, 0
	now := maple.clock.Load()
	maple.data.Load().Range(func(key string, e internal.Entry) bool {
		keys++
		size += len(key) + len(e.Value) + entryOverhead
		if e.IsExpired(now) {
			expired++
		}
		return true
	})

	maple.writeMu.Lock()
	pending := maple.expireHeap.Len()
	tombstones := len(maple.tombstones)
	maple.writeMu.Unlock()

	meta := &struct {
		CurrentWriteIndex uint64 `json:"current_write_index"`
		Clock             uint64 `json:"clock"`
		PendingExpiry     int    `json:"pending_expiry"`
		ExpiredBacklog    int    `json:"expired_backlog"`
		Tombstones        int    `json:"tombstones"`
	}{
		CurrentWriteIndex: maple.currIndex.Load(),
		Clock:             now,
		PendingExpiry:     pending,
		ExpiredBacklog:    expired,
		Tombstones:        tombstones,
	}

	return db.DatabaseInfo{
		Keys:      keys,
		SizeBytes: size,
		DbType:    db.ImplMaple,
		SupportedFeatures: []db.Feature{
			db.FeaturePut, db.FeatureCompareAndSwap,
			db.FeatureDelete | db.FeatureCompareAndDelete,
			db.FeatureGet, db.FeatureExpire,
			db.FeatureSave, db.FeatureLoad,
			db.FeatureGarbageCollect,
		},
		Metadata: meta,
	}
}

// SupportsFeature checks if this implementation supports a specific KVDB feature
func (maple *mapleImpl) SupportsFeature(feature db.Feature) bool {
	supportedFeatures := db.FeaturePut |
		db.FeatureCompareAndSwap |
		db.FeatureGet |
		db.FeatureExpire |
		db.FeatureDelete |
		db.FeatureCompareAndDelete |
		db.FeatureSave |
		db.FeatureLoad |
		db.FeatureGarbageCollect
	return supportedFeatures&feature == feature
}

// Close drops all records
func (maple *mapleImpl) Close() error {
	maple.writeMu.Lock()
	defer maple.writeMu.Unlock()
	maple.data.Store(newMap(0))
	maple.expireHeap = util.NewMapHeap[string]()
	maple.tombstones = make(map[string]internal.Tombstone)
	return nil
}

// --------------------------------------------------------------------------
// Index and Clock Management
// --------------------------------------------------------------------------

// SetWriteIdx updates the current index if newIdx is greater than the current one
func (maple *mapleImpl) SetWriteIdx(newIdx uint64) {
	for {
		currIdx := maple.currIndex.Load()
		if newIdx <= currIdx {
			return
		}
		if maple.currIndex.CompareAndSwap(currIdx, newIdx) {
			return
		}
	}
}

// WriteIdx returns the current index of the database
func (maple *mapleImpl) WriteIdx() uint64 {
	return maple.currIndex.Load()
}

// Clock returns the logical time of the database
func (maple *mapleImpl) Clock() uint64 {
	return maple.clock.Load()
}

func (maple *mapleImpl) advanceClock(now uint64) {
	for {
		curr := maple.clock.Load()
		if now <= curr {
			return
		}
		if maple.clock.CompareAndSwap(curr, now) {
			return
		}
	}
}
