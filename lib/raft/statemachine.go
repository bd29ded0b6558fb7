package raft

import (
	"io"

	"github.com/ValentinKolb/dMeta/lib/raft/raftpb"
)

// Result is the outcome of applying an entry to the state machine
type Result struct {
	Value uint64
	Data  []byte
}

// ApplyResult is delivered to the proposer once its entry was applied
type ApplyResult struct {
	Index  uint64
	Result Result
	Err    error
}

// StateMachine is the replicated state. All methods are called from the event loop
// of the node, one at a time.
type StateMachine interface {
	// Apply applies a committed client entry. It must be deterministic and must not
	// read the wall clock. Applying an entry twice must not change the state.
	Apply(entry raftpb.Entry) Result

	// Snapshot writes an image of the current state.
	Snapshot(w io.Writer) error

	// Restore replaces the whole state with an image written by Snapshot.
	Restore(r io.Reader) error
}

// LogStore is the durable storage of a node (see logstore.PebbleStore)
type LogStore interface {
	FirstIndex() uint64
	LastIndex() uint64
	Entries(lo, hi, maxBytes uint64) ([]raftpb.Entry, error)
	Term(index uint64) (uint64, error)
	Append(entries []raftpb.Entry) error
	TruncateAfter(index uint64) error
	PurgeBefore(index uint64) error

	HardState() (raftpb.HardState, error)
	SetHardState(hs raftpb.HardState) error

	Snapshot() (raftpb.Snapshot, error)
	SnapshotMeta() raftpb.SnapshotMeta
	SaveSnapshot(snap raftpb.Snapshot) error
	InstallSnapshot(snap raftpb.Snapshot) error
}
