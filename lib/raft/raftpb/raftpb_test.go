package raftpb

import (
	"bytes"
	"reflect"
	"testing"
)

func TestMembershipQuorum(t *testing.T) {
	old := map[uint64]string{1: "a", 2: "b", 3: "c"}
	next := map[uint64]string{1: "a", 2: "b", 3: "c", 4: "d"}

	tests := []struct {
		name string
		m    Membership
		acks map[uint64]bool
		want bool
	}{
		{"simple majority", Membership{Members: old}, map[uint64]bool{1: true, 3: true}, true},
		{"simple minority", Membership{Members: old}, map[uint64]bool{1: true}, false},
		{"empty config", Membership{}, map[uint64]bool{1: true}, false},
		{"joint needs both", Membership{Members: old, MembersAfterChange: next}, map[uint64]bool{1: true, 2: true}, false},
		{"joint both majorities", Membership{Members: old, MembersAfterChange: next}, map[uint64]bool{1: true, 2: true, 4: true}, true},
		{"joint old minority", Membership{Members: old, MembersAfterChange: next}, map[uint64]bool{1: true, 4: true, 5: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.m.HasQuorum(tt.acks); got != tt.want {
				t.Errorf("HasQuorum() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMembershipQuorumIndex(t *testing.T) {
	m := Membership{
		Members:            map[uint64]string{1: "a", 2: "b", 3: "c"},
		MembersAfterChange: map[uint64]string{1: "a", 2: "b", 3: "c", 4: "d"},
	}
	match := map[uint64]uint64{1: 10, 2: 8, 3: 5, 4: 0}

	// old set: 10,8,5 -> 8; new set: 10,8,5,0 -> 5 (needs 3 of 4)
	if got := m.QuorumIndex(match); got != 5 {
		t.Errorf("QuorumIndex() = %d, want 5", got)
	}

	m.MembersAfterChange = nil
	if got := m.QuorumIndex(match); got != 8 {
		t.Errorf("QuorumIndex() = %d, want 8", got)
	}
}

func TestMembershipHelpers(t *testing.T) {
	m := Membership{
		Members:            map[uint64]string{1: "a", 2: "b"},
		MembersAfterChange: map[uint64]string{2: "b", 3: "c"},
	}
	if !m.IsJoint() || !m.IsVoter(1) || !m.IsVoter(3) || m.IsVoter(4) {
		t.Errorf("unexpected voter state for %v", m)
	}
	if !reflect.DeepEqual(m.Voters(), []uint64{1, 2, 3}) {
		t.Errorf("Voters() = %v", m.Voters())
	}
	if addr, ok := m.Addr(3); !ok || addr != "c" {
		t.Errorf("Addr(3) = %q, %v", addr, ok)
	}

	c := m.Clone()
	c.Members[9] = "x"
	if _, ok := m.Members[9]; ok {
		t.Error("Clone must not share maps")
	}
	if m.String() != "{1@a, 2@b} -> {2@b, 3@c}" {
		t.Errorf("String() = %s", m.String())
	}
}

// TestMembershipEncodingDeterministic verifies that map iteration order does not leak into the encoding
func TestMembershipEncodingDeterministic(t *testing.T) {
	m := Membership{Members: map[uint64]string{}}
	for i := uint64(1); i <= 50; i++ {
		m.Members[i] = "node"
	}
	first := EncodeMembership(m)
	for i := 0; i < 20; i++ {
		if !bytes.Equal(first, EncodeMembership(m.Clone())) {
			t.Fatal("encoding of equal memberships differs")
		}
	}

	decoded, err := DecodeMembership(first)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(decoded, m) {
		t.Errorf("decoded %v, want %v", decoded, m)
	}
}

func TestMessageEncoding(t *testing.T) {
	msg := Message{
		Type:         MsgApp,
		Term:         7,
		From:         1,
		To:           2,
		PrevLogIndex: 10,
		PrevLogTerm:  6,
		Commit:       9,
		Seq:          3,
		Success:      true,
		Entries: []Entry{
			{Index: 11, Term: 7, Type: EntryNoOp},
			{Index: 12, Term: 7, Type: EntryClientWrite, Data: []byte("put x")},
			{Index: 13, Term: 7, Type: EntryConfigChange, Data: EncodeMembership(Membership{Members: map[uint64]string{1: "a"}})},
		},
		Snapshot: &Snapshot{
			Meta: SnapshotMeta{Index: 5, Term: 2, Membership: Membership{Members: map[uint64]string{1: "a", 2: "b"}}},
			Data: []byte("image"),
		},
	}

	got, err := DecodeMessage(EncodeMessage(msg))
	if err != nil {
		t.Fatalf("DecodeMessage() error = %v", err)
	}
	if !reflect.DeepEqual(got, msg) {
		t.Errorf("DecodeMessage() = %+v, want %+v", got, msg)
	}
}

func TestDecodeInvalid(t *testing.T) {
	encoded := EncodeEntry(Entry{Index: 1, Term: 1, Type: EntryClientWrite, Data: []byte("abc")})

	if _, err := DecodeEntry(encoded[:len(encoded)-1]); err != ErrShortBuffer {
		t.Errorf("truncated entry: err = %v, want ErrShortBuffer", err)
	}
	if _, err := DecodeEntry(append(encoded, 0)); err != ErrInvalidData {
		t.Errorf("trailing data: err = %v, want ErrInvalidData", err)
	}
	if _, err := DecodeMessage([]byte{99}); err == nil {
		t.Error("expected an error for an unknown message")
	}
	if _, err := DecodeHardState([]byte{1, 2, 3}); err == nil {
		t.Error("expected an error for a short hard state")
	}
}
