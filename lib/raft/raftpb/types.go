package raftpb

import (
	"fmt"
	"sort"
	"strings"
)

// --------------------------------------------------------------------------
// Log entries
// --------------------------------------------------------------------------

type EntryType uint8

const (
	EntryNoOp EntryType = iota
	EntryClientWrite
	EntryConfigChange
)

func (t EntryType) String() string {
	switch t {
	case EntryNoOp:
		return "NoOp"
	case EntryClientWrite:
		return "ClientWrite"
	case EntryConfigChange:
		return "ConfigChange"
	default:
		return fmt.Sprintf("EntryType(%d)", uint8(t))
	}
}

// Entry is a single log entry. For EntryConfigChange the data is an encoded Membership.
type Entry struct {
	Index uint64
	Term  uint64
	Type  EntryType
	Data  []byte
}

// Size is the encoded size of the entry, used to bound batches
func (e Entry) Size() uint64 {
	return uint64(entryHeaderLen + len(e.Data))
}

// HardState is the part of the node state that must survive a crash
type HardState struct {
	Term     uint64
	VotedFor uint64 // 0 = no vote in Term
}

func (h HardState) IsEmpty() bool {
	return h.Term == 0 && h.VotedFor == 0
}

// --------------------------------------------------------------------------
// Membership
// --------------------------------------------------------------------------

// Membership is a cluster configuration: node id -> address.
// MembersAfterChange is only set during a joint consensus transition, in which
// decisions need a majority of both sets.
type Membership struct {
	Members            map[uint64]string
	MembersAfterChange map[uint64]string
}

// IsJoint reports whether the configuration is a joint configuration
func (m Membership) IsJoint() bool {
	return m.MembersAfterChange != nil
}

// IsEmpty reports whether the configuration has no members at all
func (m Membership) IsEmpty() bool {
	return len(m.Members) == 0 && len(m.MembersAfterChange) == 0
}

// IsVoter reports whether id is a member of either set
func (m Membership) IsVoter(id uint64) bool {
	if _, ok := m.Members[id]; ok {
		return true
	}
	_, ok := m.MembersAfterChange[id]
	return ok
}

// Addr returns the address of a node of either set
func (m Membership) Addr(id uint64) (string, bool) {
	if addr, ok := m.MembersAfterChange[id]; ok {
		return addr, true
	}
	addr, ok := m.Members[id]
	return addr, ok
}

// Voters returns the sorted ids of all nodes of both sets
func (m Membership) Voters() []uint64 {
	seen := make(map[uint64]struct{}, len(m.Members)+len(m.MembersAfterChange))
	for id := range m.Members {
		seen[id] = struct{}{}
	}
	for id := range m.MembersAfterChange {
		seen[id] = struct{}{}
	}
	return sortedIDs(seen)
}

// HasQuorum reports whether the given set of nodes forms a majority of the
// configuration (of both sets if joint).
func (m Membership) HasQuorum(acks map[uint64]bool) bool {
	if !majority(m.Members, acks) {
		return false
	}
	return !m.IsJoint() || majority(m.MembersAfterChange, acks)
}

// QuorumIndex returns the highest index that is matched by a majority of the
// configuration (of both sets if joint).
func (m Membership) QuorumIndex(match map[uint64]uint64) uint64 {
	idx := quorumIndex(m.Members, match)
	if m.IsJoint() {
		idx = min(idx, quorumIndex(m.MembersAfterChange, match))
	}
	return idx
}

// Clone returns a deep copy
func (m Membership) Clone() Membership {
	c := Membership{Members: cloneSet(m.Members)}
	if m.MembersAfterChange != nil {
		c.MembersAfterChange = cloneSet(m.MembersAfterChange)
	}
	return c
}

// Target returns the configuration the cluster is moving to (or is in)
func (m Membership) Target() map[uint64]string {
	if m.IsJoint() {
		return m.MembersAfterChange
	}
	return m.Members
}

func (m Membership) String() string {
	s := formatSet(m.Members)
	if m.IsJoint() {
		s += " -> " + formatSet(m.MembersAfterChange)
	}
	return s
}

func majority(set map[uint64]string, acks map[uint64]bool) bool {
	if len(set) == 0 {
		return false
	}
	n := 0
	for id := range set {
		if acks[id] {
			n++
		}
	}
	return n > len(set)/2
}

func quorumIndex(set map[uint64]string, match map[uint64]uint64) uint64 {
	if len(set) == 0 {
		return 0
	}
	indexes := make([]uint64, 0, len(set))
	for id := range set {
		indexes = append(indexes, match[id])
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] > indexes[j] })
	return indexes[len(indexes)/2]
}

func cloneSet(set map[uint64]string) map[uint64]string {
	c := make(map[uint64]string, len(set))
	for id, addr := range set {
		c[id] = addr
	}
	return c
}

func sortedIDs[V any](set map[uint64]V) []uint64 {
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func formatSet(set map[uint64]string) string {
	parts := make([]string, 0, len(set))
	for _, id := range sortedIDs(set) {
		parts = append(parts, fmt.Sprintf("%d@%s", id, set[id]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// --------------------------------------------------------------------------
// Snapshots
// --------------------------------------------------------------------------

// SnapshotMeta describes the log prefix a snapshot replaces
type SnapshotMeta struct {
	Index      uint64
	Term       uint64
	Membership Membership
}

// Snapshot is a compressed state machine image plus its metadata
type Snapshot struct {
	Meta SnapshotMeta
	Data []byte
}

func (s Snapshot) IsEmpty() bool {
	return s.Meta.Index == 0
}

// --------------------------------------------------------------------------
// Messages
// --------------------------------------------------------------------------

type MessageType uint8

const (
	MsgVote MessageType = iota + 1
	MsgVoteResp
	MsgApp
	MsgAppResp
	MsgSnap
	MsgSnapResp
	MsgReadIndex
	MsgReadIndexResp
)

func (t MessageType) String() string {
	switch t {
	case MsgVote:
		return "MsgVote"
	case MsgVoteResp:
		return "MsgVoteResp"
	case MsgApp:
		return "MsgApp"
	case MsgAppResp:
		return "MsgAppResp"
	case MsgSnap:
		return "MsgSnap"
	case MsgSnapResp:
		return "MsgSnapResp"
	case MsgReadIndex:
		return "MsgReadIndex"
	case MsgReadIndexResp:
		return "MsgReadIndexResp"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// Message is the single message type exchanged between nodes.
// Which fields are set depends on the type:
//
//   - MsgVote: LastLogIndex, LastLogTerm
//   - MsgVoteResp: Granted
//   - MsgApp: PrevLogIndex, PrevLogTerm, Entries, Commit, Seq
//   - MsgAppResp: Success, MatchIndex, ConflictIndex, ConflictTerm, Seq
//   - MsgSnap: Snapshot
//   - MsgSnapResp: Success, MatchIndex
//   - MsgReadIndexResp: Success, ReadIndex, LeaderID
type Message struct {
	Type MessageType
	Term uint64
	From uint64
	To   uint64

	LastLogIndex uint64
	LastLogTerm  uint64
	Granted      bool

	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []Entry
	Commit       uint64
	Seq          uint64

	Success       bool
	MatchIndex    uint64
	ConflictIndex uint64
	ConflictTerm  uint64

	Snapshot *Snapshot

	ReadIndex uint64
	LeaderID  uint64
}

func (m Message) String() string {
	return fmt.Sprintf("%s{term: %d, %d->%d, entries: %d}", m.Type, m.Term, m.From, m.To, len(m.Entries))
}
