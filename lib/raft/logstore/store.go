package logstore

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/ValentinKolb/dMeta/lib/raft/raftpb"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("logstore")

var (
	// ErrStorage marks failures of the underlying storage engine
	ErrStorage = errors.New("log storage failure")
	// ErrCompacted is returned when requested entries were replaced by a snapshot
	ErrCompacted = errors.New("requested index is compacted")
	// ErrUnavailable is returned when requested entries are not (yet) in the log
	ErrUnavailable = errors.New("requested entry is unavailable")
	// ErrNotContiguous is returned by Append for entries that would leave a gap
	ErrNotContiguous = errors.New("entries are not contiguous")
)

var (
	keyHardState = []byte{0x01, 'h'}
	keySnapshot  = []byte{0x01, 's'}
	entryPrefix  = byte(0x02)
)

func entryKey(index uint64) []byte {
	k := make([]byte, 9)
	k[0] = entryPrefix
	binary.BigEndian.PutUint64(k[1:], index)
	return k
}

// Options configures a PebbleStore
type Options struct {
	// Dir is the directory of the pebble database
	Dir string
	// FS overrides the file system (vfs.NewMem() in tests), nil means the OS file system
	FS vfs.FS
	// NoSync disables fsync on commit. Only for tests and local development,
	// a node running without sync may violate safety after a crash.
	NoSync bool
}

// PebbleStore is the durable log store of a node.
//
// The store is owned by the consensus loop. Reads of the cached bounds are
// safe from other goroutines.
type PebbleStore struct {
	db        *pebble.DB
	writeOpts *pebble.WriteOptions

	mu         sync.RWMutex
	firstIndex uint64 // first entry in the log (snapshot index + 1 if the log is empty)
	lastIndex  uint64 // last entry in the log (snapshot index if the log is empty)
	snapMeta   raftpb.SnapshotMeta
}

// Open opens (or creates) a log store
func Open(opts Options) (*PebbleStore, error) {
	pebbleOpts := &pebble.Options{}
	if opts.FS != nil {
		pebbleOpts.FS = opts.FS
	}

	db, err := pebble.Open(opts.Dir, pebbleOpts)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "open log store %q", opts.Dir), ErrStorage)
	}

	s := &PebbleStore{db: db, writeOpts: pebble.Sync}
	if opts.NoSync {
		log.Warningf("log store %q opened without sync, do not use in production", opts.Dir)
		s.writeOpts = pebble.NoSync
	}

	if err := s.loadBounds(); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Infof("opened log store %q: entries [%d, %d], snapshot %d", opts.Dir, s.firstIndex, s.lastIndex, s.snapMeta.Index)
	return s, nil
}

// loadBounds recomputes the cached first/last index from disk
func (s *PebbleStore) loadBounds() error {
	snap, err := s.Snapshot()
	if err != nil {
		return err
	}
	s.snapMeta = snap.Meta
	s.firstIndex = snap.Meta.Index + 1
	s.lastIndex = snap.Meta.Index

	iter := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{entryPrefix},
		UpperBound: []byte{entryPrefix + 1},
	})
	defer iter.Close()

	if iter.First() {
		s.firstIndex = binary.BigEndian.Uint64(iter.Key()[1:])
	}
	if iter.Last() {
		s.lastIndex = binary.BigEndian.Uint64(iter.Key()[1:])
	}
	return s.wrap(iter.Error(), "scan log bounds")
}

func (s *PebbleStore) wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	return errors.Mark(errors.Wrap(err, op), ErrStorage)
}

// --------------------------------------------------------------------------
// Bounds
// --------------------------------------------------------------------------

// FirstIndex returns the index of the first entry that is available in the log
func (s *PebbleStore) FirstIndex() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.firstIndex
}

// LastIndex returns the index of the last entry (or of the snapshot if the log is empty)
func (s *PebbleStore) LastIndex() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastIndex
}

// SnapshotMeta returns the metadata of the latest snapshot
func (s *PebbleStore) SnapshotMeta() raftpb.SnapshotMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapMeta
}

// --------------------------------------------------------------------------
// Entries
// --------------------------------------------------------------------------

// Append writes contiguous entries to the log. Existing entries at and after the
// index of the first new entry are removed in the same batch.
func (s *PebbleStore) Append(entries []raftpb.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Index != entries[i-1].Index+1 {
			return errors.Wrapf(ErrNotContiguous, "index %d after %d", entries[i].Index, entries[i-1].Index)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	first := entries[0].Index
	last := entries[len(entries)-1].Index
	if first > s.lastIndex+1 {
		return errors.Wrapf(ErrNotContiguous, "first new index %d, last index %d", first, s.lastIndex)
	}
	if first <= s.snapMeta.Index {
		return errors.Wrapf(ErrCompacted, "append at %d, snapshot at %d", first, s.snapMeta.Index)
	}

	b := s.db.NewBatch()
	defer b.Close()

	if first <= s.lastIndex {
		if err := b.DeleteRange(entryKey(first), entryKey(s.lastIndex+1), nil); err != nil {
			return s.wrap(err, "truncate before append")
		}
	}
	for _, ent := range entries {
		if err := b.Set(entryKey(ent.Index), raftpb.EncodeEntry(ent), nil); err != nil {
			return s.wrap(err, "append entry")
		}
	}
	if err := b.Commit(s.writeOpts); err != nil {
		return s.wrap(err, "commit append")
	}

	s.lastIndex = last
	if s.firstIndex > first {
		s.firstIndex = first
	}
	return nil
}

// Entries returns the entries in [lo, hi). If maxBytes > 0 the result is cut
// after the entry that exceeds maxBytes, but contains at least one entry.
func (s *PebbleStore) Entries(lo, hi, maxBytes uint64) ([]raftpb.Entry, error) {
	s.mu.RLock()
	first, last := s.firstIndex, s.lastIndex
	s.mu.RUnlock()

	if lo < first {
		return nil, errors.Wrapf(ErrCompacted, "lo %d < first index %d", lo, first)
	}
	if hi > last+1 {
		return nil, errors.Wrapf(ErrUnavailable, "hi %d > last index %d", hi, last)
	}
	if lo >= hi {
		return nil, nil
	}

	iter := s.db.NewIter(&pebble.IterOptions{
		LowerBound: entryKey(lo),
		UpperBound: entryKey(hi),
	})
	defer iter.Close()

	entries := make([]raftpb.Entry, 0, min(hi-lo, 1024))
	var size uint64
	expected := lo
	for valid := iter.First(); valid; valid = iter.Next() {
		ent, err := raftpb.DecodeEntry(iter.Value())
		if err != nil {
			return nil, s.wrap(err, "decode entry")
		}
		if ent.Index != expected {
			return nil, errors.AssertionFailedf("log hole: expected index %d, found %d", expected, ent.Index)
		}
		expected++
		size += ent.Size()
		entries = append(entries, ent)
		if maxBytes > 0 && size >= maxBytes {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, s.wrap(err, "read entries")
	}
	if uint64(len(entries)) < hi-lo && (maxBytes == 0 || size < maxBytes) {
		// entries were removed concurrently (purge)
		return nil, errors.Wrapf(ErrCompacted, "range [%d, %d)", lo, hi)
	}
	return entries, nil
}

// Term returns the term of the entry at index. The term of the snapshot index is
// served from the snapshot metadata.
func (s *PebbleStore) Term(index uint64) (uint64, error) {
	s.mu.RLock()
	snap, first, last := s.snapMeta, s.firstIndex, s.lastIndex
	s.mu.RUnlock()

	if index == snap.Index {
		return snap.Term, nil
	}
	if index < first {
		return 0, ErrCompacted
	}
	if index > last {
		return 0, ErrUnavailable
	}

	val, closer, err := s.db.Get(entryKey(index))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, ErrCompacted
	}
	if err != nil {
		return 0, s.wrap(err, "read term")
	}
	defer closer.Close()

	ent, err := raftpb.DecodeEntry(val)
	if err != nil {
		return 0, s.wrap(err, "decode entry")
	}
	return ent.Term, nil
}

// TruncateAfter removes all entries with an index > index. It is idempotent.
func (s *PebbleStore) TruncateAfter(index uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index >= s.lastIndex {
		return nil
	}
	if index < s.snapMeta.Index {
		return errors.AssertionFailedf("truncate after %d below snapshot %d", index, s.snapMeta.Index)
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.DeleteRange(entryKey(index+1), entryKey(s.lastIndex+1), nil); err != nil {
		return s.wrap(err, "truncate")
	}
	if err := b.Commit(s.writeOpts); err != nil {
		return s.wrap(err, "commit truncate")
	}

	s.lastIndex = index
	if s.firstIndex > index+1 {
		s.firstIndex = index + 1
	}
	return nil
}

// PurgeBefore removes all entries with an index < index. Entries after the
// latest snapshot are never removed.
func (s *PebbleStore) PurgeBefore(index uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index = min(index, s.snapMeta.Index+1)
	if index <= s.firstIndex {
		return nil
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.DeleteRange(entryKey(0), entryKey(index), nil); err != nil {
		return s.wrap(err, "purge")
	}
	if err := b.Commit(s.writeOpts); err != nil {
		return s.wrap(err, "commit purge")
	}

	s.firstIndex = index
	if s.lastIndex < index-1 {
		s.lastIndex = index - 1
	}
	return nil
}

// --------------------------------------------------------------------------
// Hard state
// --------------------------------------------------------------------------

// HardState reads the persisted hard state (empty if none was written yet)
func (s *PebbleStore) HardState() (raftpb.HardState, error) {
	val, closer, err := s.db.Get(keyHardState)
	if errors.Is(err, pebble.ErrNotFound) {
		return raftpb.HardState{}, nil
	}
	if err != nil {
		return raftpb.HardState{}, s.wrap(err, "read hard state")
	}
	defer closer.Close()

	hs, err := raftpb.DecodeHardState(val)
	return hs, s.wrap(err, "decode hard state")
}

// SetHardState replaces the hard state
func (s *PebbleStore) SetHardState(hs raftpb.HardState) error {
	return s.wrap(s.db.Set(keyHardState, raftpb.EncodeHardState(hs), s.writeOpts), "write hard state")
}

// --------------------------------------------------------------------------
// Snapshots
// --------------------------------------------------------------------------

// Snapshot reads the latest snapshot (empty if none was written yet)
func (s *PebbleStore) Snapshot() (raftpb.Snapshot, error) {
	val, closer, err := s.db.Get(keySnapshot)
	if errors.Is(err, pebble.ErrNotFound) {
		return raftpb.Snapshot{}, nil
	}
	if err != nil {
		return raftpb.Snapshot{}, s.wrap(err, "read snapshot")
	}
	defer closer.Close()

	snap, err := raftpb.DecodeSnapshot(val)
	return snap, s.wrap(err, "decode snapshot")
}

// SaveSnapshot stores a snapshot that was taken locally. The log is not changed,
// compaction is a separate PurgeBefore call. Snapshots older than the current one
// are ignored.
func (s *PebbleStore) SaveSnapshot(snap raftpb.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.Meta.Index <= s.snapMeta.Index {
		return nil
	}
	if snap.Meta.Index > s.lastIndex {
		return errors.AssertionFailedf("snapshot %d beyond last index %d", snap.Meta.Index, s.lastIndex)
	}
	if err := s.db.Set(keySnapshot, raftpb.EncodeSnapshot(snap), s.writeOpts); err != nil {
		return s.wrap(err, "write snapshot")
	}
	s.snapMeta = snap.Meta
	return nil
}

// InstallSnapshot stores a snapshot received from the leader. If the log contains
// the entry at the snapshot index with the snapshot term, the entries after it are
// kept, otherwise the whole log is discarded. Both happen in one batch.
func (s *PebbleStore) InstallSnapshot(snap raftpb.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keepSuffix := false
	if snap.Meta.Index >= s.firstIndex && snap.Meta.Index <= s.lastIndex {
		val, closer, err := s.db.Get(entryKey(snap.Meta.Index))
		if err != nil {
			return s.wrap(err, "read entry at snapshot index")
		}
		ent, err := raftpb.DecodeEntry(val)
		closer.Close()
		if err != nil {
			return s.wrap(err, "decode entry")
		}
		keepSuffix = ent.Term == snap.Meta.Term
	}

	b := s.db.NewBatch()
	defer b.Close()

	end := snap.Meta.Index + 1
	if !keepSuffix {
		end = max(s.lastIndex, snap.Meta.Index) + 1
	}
	if err := b.DeleteRange(entryKey(0), entryKey(end), nil); err != nil {
		return s.wrap(err, "drop log")
	}
	if err := b.Set(keySnapshot, raftpb.EncodeSnapshot(snap), nil); err != nil {
		return s.wrap(err, "write snapshot")
	}
	if err := b.Commit(s.writeOpts); err != nil {
		return s.wrap(err, "commit snapshot install")
	}

	s.snapMeta = snap.Meta
	s.firstIndex = snap.Meta.Index + 1
	if !keepSuffix {
		s.lastIndex = snap.Meta.Index
	}
	return nil
}

// Close closes the underlying pebble database
func (s *PebbleStore) Close() error {
	return s.wrap(s.db.Close(), "close log store")
}

var _ io.Closer = (*PebbleStore)(nil)
