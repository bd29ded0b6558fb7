package logstore

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/ValentinKolb/dMeta/lib/raft/raftpb"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble/vfs"
)

func openMem(t *testing.T, fs vfs.FS) *PebbleStore {
	t.Helper()
	s, err := Open(Options{Dir: "raft", FS: fs})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s
}

func entries(lo, hi, term uint64) []raftpb.Entry {
	var ents []raftpb.Entry
	for i := lo; i < hi; i++ {
		ents = append(ents, raftpb.Entry{Index: i, Term: term, Type: raftpb.EntryClientWrite, Data: []byte(fmt.Sprintf("e%d", i))})
	}
	return ents
}

func TestAppendAndRead(t *testing.T) {
	s := openMem(t, vfs.NewMem())
	defer s.Close()

	if s.FirstIndex() != 1 || s.LastIndex() != 0 {
		t.Fatalf("empty store bounds = [%d, %d], want [1, 0]", s.FirstIndex(), s.LastIndex())
	}

	want := entries(1, 6, 1)
	if err := s.Append(want); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, err := s.Entries(1, 6, 0)
	if err != nil {
		t.Fatalf("Entries() error = %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Entries() = %v, want %v", got, want)
	}

	if term, err := s.Term(3); err != nil || term != 1 {
		t.Errorf("Term(3) = %d, %v", term, err)
	}
	if _, err := s.Entries(1, 8, 0); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Entries beyond the log: err = %v, want ErrUnavailable", err)
	}
	if err := s.Append(entries(8, 9, 1)); !errors.Is(err, ErrNotContiguous) {
		t.Errorf("Append with a gap: err = %v, want ErrNotContiguous", err)
	}

	// maxBytes limits the batch but returns at least one entry
	limited, err := s.Entries(1, 6, 1)
	if err != nil || len(limited) != 1 {
		t.Errorf("Entries(maxBytes=1) = %d entries, %v", len(limited), err)
	}
}

func TestAppendOverwritesSuffix(t *testing.T) {
	s := openMem(t, vfs.NewMem())
	defer s.Close()

	if err := s.Append(entries(1, 11, 1)); err != nil {
		t.Fatal(err)
	}
	// a new leader overwrites 6..10 with a shorter suffix of term 2
	if err := s.Append(entries(6, 8, 2)); err != nil {
		t.Fatal(err)
	}

	if s.LastIndex() != 7 {
		t.Errorf("LastIndex() = %d, want 7", s.LastIndex())
	}
	if term, _ := s.Term(7); term != 2 {
		t.Errorf("Term(7) = %d, want 2", term)
	}
	if _, err := s.Term(8); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Term(8) err = %v, want ErrUnavailable", err)
	}
}

func TestTruncateAfter(t *testing.T) {
	fs := vfs.NewMem()
	s := openMem(t, fs)

	if err := s.Append(entries(1, 11, 1)); err != nil {
		t.Fatal(err)
	}
	if err := s.TruncateAfter(4); err != nil {
		t.Fatal(err)
	}
	// idempotent
	if err := s.TruncateAfter(4); err != nil {
		t.Fatal(err)
	}
	if s.LastIndex() != 4 {
		t.Errorf("LastIndex() = %d, want 4", s.LastIndex())
	}

	// truncated entries stay gone after a restart
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	s = openMem(t, fs)
	defer s.Close()

	if s.FirstIndex() != 1 || s.LastIndex() != 4 {
		t.Errorf("bounds after restart = [%d, %d], want [1, 4]", s.FirstIndex(), s.LastIndex())
	}
	got, err := s.Entries(1, 5, 0)
	if err != nil || !reflect.DeepEqual(got, entries(1, 5, 1)) {
		t.Errorf("Entries() after restart = %v, %v", got, err)
	}
}

func TestHardState(t *testing.T) {
	fs := vfs.NewMem()
	s := openMem(t, fs)

	hs, err := s.HardState()
	if err != nil || !hs.IsEmpty() {
		t.Fatalf("initial HardState() = %+v, %v", hs, err)
	}

	if err := s.SetHardState(raftpb.HardState{Term: 3, VotedFor: 2}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetHardState(raftpb.HardState{Term: 4, VotedFor: 0}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s = openMem(t, fs)
	defer s.Close()
	hs, err = s.HardState()
	if err != nil || hs != (raftpb.HardState{Term: 4}) {
		t.Errorf("HardState() after restart = %+v, %v", hs, err)
	}
}

func TestSnapshotAndPurge(t *testing.T) {
	fs := vfs.NewMem()
	s := openMem(t, fs)

	if err := s.Append(entries(1, 21, 1)); err != nil {
		t.Fatal(err)
	}

	snap := raftpb.Snapshot{
		Meta: raftpb.SnapshotMeta{Index: 15, Term: 1, Membership: raftpb.Membership{Members: map[uint64]string{1: "a"}}},
		Data: []byte("image"),
	}
	if err := s.SaveSnapshot(snap); err != nil {
		t.Fatal(err)
	}
	// purging is capped at the snapshot
	if err := s.PurgeBefore(100); err != nil {
		t.Fatal(err)
	}
	if s.FirstIndex() != 16 || s.LastIndex() != 20 {
		t.Errorf("bounds = [%d, %d], want [16, 20]", s.FirstIndex(), s.LastIndex())
	}
	if _, err := s.Entries(10, 12, 0); !errors.Is(err, ErrCompacted) {
		t.Errorf("Entries of compacted range: err = %v, want ErrCompacted", err)
	}
	if term, err := s.Term(15); err != nil || term != 1 {
		t.Errorf("Term(snapshot index) = %d, %v", term, err)
	}
	s.Close()

	s = openMem(t, fs)
	defer s.Close()
	got, err := s.Snapshot()
	if err != nil || !reflect.DeepEqual(got, snap) {
		t.Errorf("Snapshot() after restart = %+v, %v", got, err)
	}
	if s.FirstIndex() != 16 || s.LastIndex() != 20 {
		t.Errorf("bounds after restart = [%d, %d], want [16, 20]", s.FirstIndex(), s.LastIndex())
	}
}

func TestInstallSnapshot(t *testing.T) {
	tests := []struct {
		name      string
		snapTerm  uint64
		wantFirst uint64
		wantLast  uint64
	}{
		{"matching entry keeps suffix", 1, 6, 10},
		{"conflicting entry drops log", 2, 6, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openMem(t, vfs.NewMem())
			defer s.Close()

			if err := s.Append(entries(1, 11, 1)); err != nil {
				t.Fatal(err)
			}
			snap := raftpb.Snapshot{Meta: raftpb.SnapshotMeta{Index: 5, Term: tt.snapTerm}}
			if err := s.InstallSnapshot(snap); err != nil {
				t.Fatal(err)
			}
			if s.FirstIndex() != tt.wantFirst || s.LastIndex() != tt.wantLast {
				t.Errorf("bounds = [%d, %d], want [%d, %d]", s.FirstIndex(), s.LastIndex(), tt.wantFirst, tt.wantLast)
			}
			if s.SnapshotMeta().Index != 5 {
				t.Errorf("SnapshotMeta().Index = %d, want 5", s.SnapshotMeta().Index)
			}
		})
	}

	t.Run("snapshot ahead of log", func(t *testing.T) {
		s := openMem(t, vfs.NewMem())
		defer s.Close()

		if err := s.Append(entries(1, 4, 1)); err != nil {
			t.Fatal(err)
		}
		if err := s.InstallSnapshot(raftpb.Snapshot{Meta: raftpb.SnapshotMeta{Index: 50, Term: 3}}); err != nil {
			t.Fatal(err)
		}
		if s.FirstIndex() != 51 || s.LastIndex() != 50 {
			t.Errorf("bounds = [%d, %d], want [51, 50]", s.FirstIndex(), s.LastIndex())
		}
		// appending continues after the snapshot
		if err := s.Append(entries(51, 53, 3)); err != nil {
			t.Errorf("Append after snapshot: %v", err)
		}
	})
}
