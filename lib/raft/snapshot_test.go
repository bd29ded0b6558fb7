package raft

import (
	"fmt"
	"reflect"
	"testing"
	"time"
)

func smallSnapshots(cfg *Config) {
	cfg.SnapshotEntries = 10
	cfg.CompactionOverhead = 2
}

func TestSnapshotCompactsLog(t *testing.T) {
	c := newTestCluster(t, 1, smallSnapshots)
	l := c.leader()

	for i := 0; i < 35; i++ {
		if _, err := propose(t, l.Node, fmt.Sprintf("v%d", i)); err != nil {
			t.Fatalf("propose %d: %v", i, err)
		}
	}
	waitFor(t, 2*time.Second, "a snapshot", func() bool {
		return l.Status().SnapshotIndex >= 20
	})
	if first := l.store.FirstIndex(); first <= 1 {
		t.Errorf("log was not compacted, first index = %d", first)
	}
	want := l.list.Values()

	c.restart(l.ID())
	l = c.leader()
	waitFor(t, 2*time.Second, "state after restart", func() bool {
		return len(l.list.Values()) == 35
	})
	if got := l.list.Values(); !reflect.DeepEqual(got, want) {
		t.Errorf("values after restart = %v, want %v", got, want)
	}
	if st := l.Status(); st.SnapshotIndex < 20 {
		t.Errorf("snapshot index after restart = %d", st.SnapshotIndex)
	}
}

func TestLaggingFollowerReceivesSnapshot(t *testing.T) {
	c := newTestCluster(t, 3, smallSnapshots)
	l := c.leader()

	var lagging uint64
	for _, id := range nodeIDs(3) {
		if id != l.ID() {
			lagging = id
			break
		}
	}
	c.net.Isolate(lagging, nodeIDs(3)...)

	var last ApplyResult
	for i := 0; i < 40; i++ {
		res, err := propose(t, l.Node, fmt.Sprintf("v%d", i))
		if err != nil {
			t.Fatalf("propose %d: %v", i, err)
		}
		last = res
	}
	waitFor(t, 2*time.Second, "leader to compact its log", func() bool {
		return l.store.FirstIndex() > c.nodes[lagging].store.LastIndex()+1
	})

	c.net.Heal()
	c.waitApplied(last.Index, nodeIDs(3)...)

	n := c.nodes[lagging]
	if st := n.Status(); st.SnapshotIndex == 0 {
		t.Errorf("lagging follower caught up without a snapshot")
	}
	if got, want := n.list.Values(), l.list.Values(); !reflect.DeepEqual(got, want) {
		t.Errorf("lagging follower values = %v, want %v", got, want)
	}
}
