package raftpb

import (
	"encoding/binary"
	"errors"
)

// ErrShortBuffer is returned when decoding runs out of input
var ErrShortBuffer = errors.New("raftpb: short buffer")

// ErrInvalidData is returned when the decoded data is inconsistent
var ErrInvalidData = errors.New("raftpb: invalid data")

const (
	entryHeaderLen = 8 + 8 + 1 + 4
	maxFieldLen    = 1 << 30
)

const (
	flagGranted uint8 = 1 << iota
	flagSuccess
	flagSnapshot
)

// --------------------------------------------------------------------------
// encoder / decoder helpers
// --------------------------------------------------------------------------

type encoder struct {
	buf []byte
}

func (e *encoder) u8(v uint8) { e.buf = append(e.buf, v) }

func (e *encoder) u32(v uint32) { e.buf = binary.BigEndian.AppendUint32(e.buf, v) }

func (e *encoder) u64(v uint64) { e.buf = binary.BigEndian.AppendUint64(e.buf, v) }

func (e *encoder) bytes(b []byte) {
	e.u32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) string(s string) {
	e.u32(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

type decoder struct {
	buf []byte
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.buf) < n {
		d.err = ErrShortBuffer
		return nil
	}
	b := d.buf[:n]
	d.buf = d.buf[n:]
	return b
}

func (d *decoder) u8() uint8 {
	if b := d.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (d *decoder) u32() uint32 {
	if b := d.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (d *decoder) u64() uint64 {
	if b := d.take(8); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func (d *decoder) length() int {
	n := d.u32()
	if n > maxFieldLen {
		d.err = ErrInvalidData
		return 0
	}
	return int(n)
}

// bytes returns a copy, so the result does not alias the input buffer
func (d *decoder) bytes() []byte {
	n := d.length()
	b := d.take(n)
	if n == 0 || b == nil {
		return nil
	}
	c := make([]byte, n)
	copy(c, b)
	return c
}

func (d *decoder) string() string {
	return string(d.take(d.length()))
}

func (d *decoder) finish() error {
	if d.err == nil && len(d.buf) != 0 {
		return ErrInvalidData
	}
	return d.err
}

// --------------------------------------------------------------------------
// Entry
// --------------------------------------------------------------------------

func (e *encoder) entry(ent Entry) {
	e.u64(ent.Index)
	e.u64(ent.Term)
	e.u8(uint8(ent.Type))
	e.bytes(ent.Data)
}

func (d *decoder) entry() Entry {
	ent := Entry{
		Index: d.u64(),
		Term:  d.u64(),
		Type:  EntryType(d.u8()),
	}
	ent.Data = d.bytes()
	if ent.Type > EntryConfigChange && d.err == nil {
		d.err = ErrInvalidData
	}
	return ent
}

// EncodeEntry encodes a log entry
func EncodeEntry(ent Entry) []byte {
	e := encoder{buf: make([]byte, 0, ent.Size())}
	e.entry(ent)
	return e.buf
}

// DecodeEntry decodes a log entry
func DecodeEntry(b []byte) (Entry, error) {
	d := decoder{buf: b}
	ent := d.entry()
	return ent, d.finish()
}

// --------------------------------------------------------------------------
// HardState
// --------------------------------------------------------------------------

// EncodeHardState encodes a hard state
func EncodeHardState(hs HardState) []byte {
	e := encoder{buf: make([]byte, 0, 16)}
	e.u64(hs.Term)
	e.u64(hs.VotedFor)
	return e.buf
}

// DecodeHardState decodes a hard state
func DecodeHardState(b []byte) (HardState, error) {
	d := decoder{buf: b}
	hs := HardState{Term: d.u64(), VotedFor: d.u64()}
	return hs, d.finish()
}

// --------------------------------------------------------------------------
// Membership
// --------------------------------------------------------------------------

func (e *encoder) set(set map[uint64]string) {
	e.u32(uint32(len(set)))
	for _, id := range sortedIDs(set) {
		e.u64(id)
		e.string(set[id])
	}
}

func (d *decoder) set() map[uint64]string {
	n := d.length()
	set := make(map[uint64]string, min(n, 1024))
	for i := 0; i < n && d.err == nil; i++ {
		id := d.u64()
		set[id] = d.string()
	}
	return set
}

func (e *encoder) membership(m Membership) {
	e.set(m.Members)
	if m.IsJoint() {
		e.u8(1)
		e.set(m.MembersAfterChange)
	} else {
		e.u8(0)
	}
}

func (d *decoder) membership() Membership {
	m := Membership{Members: d.set()}
	if d.u8() == 1 {
		m.MembersAfterChange = d.set()
	}
	return m
}

// EncodeMembership encodes a membership configuration with sorted node ids
func EncodeMembership(m Membership) []byte {
	var e encoder
	e.membership(m)
	return e.buf
}

// DecodeMembership decodes a membership configuration
func DecodeMembership(b []byte) (Membership, error) {
	d := decoder{buf: b}
	m := d.membership()
	return m, d.finish()
}

// --------------------------------------------------------------------------
// Snapshot
// --------------------------------------------------------------------------

func (e *encoder) snapshot(s Snapshot) {
	e.u64(s.Meta.Index)
	e.u64(s.Meta.Term)
	e.membership(s.Meta.Membership)
	e.bytes(s.Data)
}

func (d *decoder) snapshot() Snapshot {
	var s Snapshot
	s.Meta.Index = d.u64()
	s.Meta.Term = d.u64()
	s.Meta.Membership = d.membership()
	s.Data = d.bytes()
	return s
}

// EncodeSnapshot encodes a snapshot including its data
func EncodeSnapshot(s Snapshot) []byte {
	e := encoder{buf: make([]byte, 0, 64+len(s.Data))}
	e.snapshot(s)
	return e.buf
}

// DecodeSnapshot decodes a snapshot
func DecodeSnapshot(b []byte) (Snapshot, error) {
	d := decoder{buf: b}
	s := d.snapshot()
	return s, d.finish()
}

// --------------------------------------------------------------------------
// Message
// --------------------------------------------------------------------------

// EncodeMessage encodes a message for the transport
func EncodeMessage(m Message) []byte {
	var e encoder
	e.u8(uint8(m.Type))
	e.u64(m.Term)
	e.u64(m.From)
	e.u64(m.To)

	var flags uint8
	if m.Granted {
		flags |= flagGranted
	}
	if m.Success {
		flags |= flagSuccess
	}
	if m.Snapshot != nil {
		flags |= flagSnapshot
	}
	e.u8(flags)

	for _, v := range [...]uint64{
		m.LastLogIndex, m.LastLogTerm,
		m.PrevLogIndex, m.PrevLogTerm, m.Commit, m.Seq,
		m.MatchIndex, m.ConflictIndex, m.ConflictTerm,
		m.ReadIndex, m.LeaderID,
	} {
		e.u64(v)
	}

	e.u32(uint32(len(m.Entries)))
	for _, ent := range m.Entries {
		e.entry(ent)
	}
	if m.Snapshot != nil {
		e.snapshot(*m.Snapshot)
	}
	return e.buf
}

// DecodeMessage decodes a message received from the transport
func DecodeMessage(b []byte) (Message, error) {
	d := decoder{buf: b}
	m := Message{
		Type: MessageType(d.u8()),
		Term: d.u64(),
		From: d.u64(),
		To:   d.u64(),
	}
	flags := d.u8()
	m.Granted = flags&flagGranted != 0
	m.Success = flags&flagSuccess != 0

	m.LastLogIndex = d.u64()
	m.LastLogTerm = d.u64()
	m.PrevLogIndex = d.u64()
	m.PrevLogTerm = d.u64()
	m.Commit = d.u64()
	m.Seq = d.u64()
	m.MatchIndex = d.u64()
	m.ConflictIndex = d.u64()
	m.ConflictTerm = d.u64()
	m.ReadIndex = d.u64()
	m.LeaderID = d.u64()

	n := d.length()
	if n > 0 && d.err == nil {
		m.Entries = make([]Entry, 0, min(n, 4096))
		for i := 0; i < n && d.err == nil; i++ {
			m.Entries = append(m.Entries, d.entry())
		}
	}
	if flags&flagSnapshot != 0 {
		s := d.snapshot()
		m.Snapshot = &s
	}

	if d.err == nil && (m.Type < MsgVote || m.Type > MsgReadIndexResp) {
		return m, ErrInvalidData
	}
	return m, d.finish()
}
