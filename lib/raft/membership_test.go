package raft

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
)

// A node without state joins a running cluster. The log of the cluster is already
// compacted, so the node has to catch up from a snapshot before it becomes a voter.
func TestAddNodeCatchesUpFromSnapshot(t *testing.T) {
	c := newTestCluster(t, 3, func(cfg *Config) {
		cfg.SnapshotEntries = 20
		cfg.CompactionOverhead = 5
	})
	l := c.leader()

	for i := 0; i < 60; i++ {
		if _, err := propose(t, l.Node, fmt.Sprintf("v%d", i)); err != nil {
			t.Fatalf("propose %d: %v", i, err)
		}
	}
	waitFor(t, 2*time.Second, "log compaction", func() bool {
		return l.store.FirstIndex() > 1
	})

	joining := c.startNode(4, nil)
	if st := joining.Status(); !st.Membership.IsEmpty() {
		t.Fatalf("joining node has membership %s", st.Membership)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := l.AddNode(ctx, 4, addrOf(4)); err != nil {
		t.Fatalf("AddNode() error = %v", err)
	}
	// adding twice is a no-op
	if err := l.AddNode(ctx, 4, addrOf(4)); err != nil {
		t.Errorf("second AddNode() error = %v", err)
	}

	res, err := propose(t, l.Node, "after join")
	if err != nil {
		t.Fatalf("propose after join: %v", err)
	}
	c.waitApplied(res.Index, nodeIDs(4)...)

	st := joining.Status()
	if st.SnapshotIndex == 0 {
		t.Error("joining node did not receive a snapshot")
	}
	if len(st.Membership.Members) != 4 || st.Membership.IsJoint() {
		t.Errorf("joining node membership = %s", st.Membership)
	}
	if got, want := joining.list.Values(), l.list.Values(); !reflect.DeepEqual(got, want) {
		t.Errorf("joining node values = %v, want %v", got, want)
	}

	// without the old leader 3 of 4 votes are needed, one of them from node 4
	all := nodeIDs(4)
	c.net.Isolate(l.ID(), all...)
	var rest []uint64
	for _, id := range all {
		if id != l.ID() {
			rest = append(rest, id)
		}
	}
	next := c.leader(rest...)
	if next.ID() == l.ID() {
		t.Fatalf("isolated node %d is still leader", l.ID())
	}
	res, err = propose(t, next.Node, "after election")
	if err != nil {
		t.Fatalf("propose on the new leader: %v", err)
	}
	c.waitApplied(res.Index, rest...)
	if st := joining.Status(); st.LeaderID != next.ID() {
		t.Errorf("joining node follows %d, want %d", st.LeaderID, next.ID())
	}
}

func TestRemoveFollower(t *testing.T) {
	c := newTestCluster(t, 3, nil)
	l := c.leader()

	var removed uint64
	for _, id := range nodeIDs(3) {
		if id != l.ID() {
			removed = id
			break
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.RemoveNode(ctx, removed); err != nil {
		t.Fatalf("RemoveNode() error = %v", err)
	}
	if err := l.RemoveNode(ctx, removed); err != nil {
		t.Errorf("second RemoveNode() error = %v", err)
	}
	if m := l.Status().Membership; m.IsVoter(removed) || len(m.Members) != 2 {
		t.Errorf("membership after remove = %s", m)
	}

	// the remaining two nodes still commit without the removed node
	c.net.Isolate(removed, nodeIDs(3)...)
	if _, err := propose(t, l.Node, "x"); err != nil {
		t.Errorf("propose after remove: %v", err)
	}
}

func TestRemoveLeader(t *testing.T) {
	c := newTestCluster(t, 3, nil)
	old := c.leader()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := old.RemoveNode(ctx, old.ID()); err != nil {
		t.Fatalf("RemoveNode(leader) error = %v", err)
	}

	var rest []uint64
	for _, id := range nodeIDs(3) {
		if id != old.ID() {
			rest = append(rest, id)
		}
	}
	l := c.leader(rest...)
	if m := l.Status().Membership; m.IsVoter(old.ID()) {
		t.Errorf("removed leader is still a member: %s", m)
	}
	if _, err := propose(t, l.Node, "x"); err != nil {
		t.Errorf("propose on the new leader: %v", err)
	}
	if st := old.Status(); st.State == StateLeader {
		t.Error("removed node is still leader")
	}
}

func TestAddNodeTimesOut(t *testing.T) {
	c := newTestCluster(t, 1, func(cfg *Config) {
		cfg.JoinTimeout = 200 * time.Millisecond
	})
	l := c.leader()

	// node 9 is never started
	err := l.AddNode(context.Background(), 9, addrOf(9))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("AddNode() of an unreachable node: err = %v, want ErrUnavailable", err)
	}
	if m := l.Status().Membership; m.IsVoter(9) {
		t.Errorf("membership after aborted add = %s", m)
	}
	if _, err := propose(t, l.Node, "x"); err != nil {
		t.Errorf("propose after aborted add: %v", err)
	}
}
