package raft

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dMeta/lib/raft/raftpb"
	"github.com/cockroachdb/errors"
)

func TestSingleNodeCluster(t *testing.T) {
	c := newTestCluster(t, 1, nil)
	l := c.leader()

	for i := 0; i < 10; i++ {
		res, err := propose(t, l.Node, fmt.Sprintf("v%d", i))
		if err != nil {
			t.Fatalf("propose %d: %v", i, err)
		}
		if res.Result.Value != uint64(i+1) {
			t.Errorf("propose %d: result = %d, want %d", i, res.Result.Value, i+1)
		}
	}

	if got := l.list.Values(); len(got) != 10 || got[9] != "v9" {
		t.Errorf("values = %v", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	idx, err := l.ReadIndex(ctx)
	if err != nil {
		t.Fatalf("ReadIndex() error = %v", err)
	}
	if st := l.Status(); idx != st.CommitIndex {
		t.Errorf("ReadIndex() = %d, want commit index %d", idx, st.CommitIndex)
	}
}

func TestReplication(t *testing.T) {
	c := newTestCluster(t, 3, nil)
	l := c.leader()

	var last ApplyResult
	for i := 0; i < 50; i++ {
		res, err := propose(t, l.Node, fmt.Sprintf("v%d", i))
		if err != nil {
			t.Fatalf("propose %d: %v", i, err)
		}
		last = res
	}
	c.waitApplied(last.Index, nodeIDs(3)...)

	want := l.list.Values()
	if len(want) != 50 {
		t.Fatalf("leader applied %d values, want 50", len(want))
	}
	for _, id := range nodeIDs(3) {
		if got := c.nodes[id].list.Values(); !reflect.DeepEqual(got, want) {
			t.Errorf("node %d values differ from the leader", id)
		}
	}
}

func TestProposeOnFollower(t *testing.T) {
	c := newTestCluster(t, 3, nil)
	l := c.leader()

	for _, id := range nodeIDs(3) {
		if id == l.ID() {
			continue
		}
		_, _, err := c.nodes[id].Propose(context.Background(), []byte("x"))
		if !errors.Is(err, ErrNotLeader) {
			t.Fatalf("Propose on follower %d: err = %v, want ErrNotLeader", id, err)
		}
		if hint, ok := LeaderHint(err); !ok || hint != l.conf.Addr {
			t.Errorf("LeaderHint() = %q, %v, want %q", hint, ok, l.conf.Addr)
		}
		if err := c.nodes[id].AddNode(context.Background(), 9, addrOf(9)); !errors.Is(err, ErrNotLeader) {
			t.Errorf("AddNode on follower %d: err = %v, want ErrNotLeader", id, err)
		}
	}
}

func TestFollowerReadIndex(t *testing.T) {
	c := newTestCluster(t, 3, nil)
	l := c.leader()

	res, err := propose(t, l.Node, "written")
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	for _, id := range nodeIDs(3) {
		n := c.nodes[id]
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		idx, err := n.ReadIndex(ctx)
		if err != nil {
			cancel()
			t.Fatalf("ReadIndex() on %d error = %v", id, err)
		}
		if idx < res.Index {
			t.Errorf("ReadIndex() on %d = %d, want >= %d", id, idx, res.Index)
		}
		if err := n.WaitApplied(ctx, idx); err != nil {
			t.Errorf("WaitApplied(%d) on %d error = %v", idx, id, err)
		}
		cancel()

		if got := n.list.Values(); len(got) != 1 || got[0] != "written" {
			t.Errorf("node %d values = %v after a linearizable read", id, got)
		}
	}
}

// A leader that is cut off from the majority must not commit, the majority elects
// a new leader and the old leader converges after the partition heals.
func TestLeaderPartition(t *testing.T) {
	c := newTestCluster(t, 3, nil)
	old := c.leader()
	oldTerm := old.Status().Term

	if _, err := propose(t, old.Node, "before"); err != nil {
		t.Fatalf("propose before partition: %v", err)
	}

	var others []uint64
	for _, id := range nodeIDs(3) {
		if id != old.ID() {
			others = append(others, id)
		}
	}
	c.net.Isolate(old.ID(), others...)

	_, err := propose(t, old.Node, "lost")
	if err == nil {
		t.Fatal("write on the isolated leader succeeded")
	}
	if !errors.Is(err, ErrUnavailable) && !errors.Is(err, ErrNotLeader) {
		t.Errorf("write on the isolated leader: err = %v", err)
	}

	newLeader := c.leader(others...)
	if term := newLeader.Status().Term; term <= oldTerm {
		t.Errorf("new leader term = %d, want > %d", term, oldTerm)
	}
	res, err := propose(t, newLeader.Node, "after")
	if err != nil {
		t.Fatalf("propose on new leader: %v", err)
	}

	waitFor(t, 2*time.Second, "old leader to step down", func() bool {
		return old.Status().State != StateLeader
	})

	c.net.Heal()
	c.waitApplied(res.Index, nodeIDs(3)...)

	want := []string{"before", "after"}
	for _, id := range nodeIDs(3) {
		if got := c.nodes[id].list.Values(); !reflect.DeepEqual(got, want) {
			t.Errorf("node %d values = %v, want %v", id, got, want)
		}
	}
}

// At most one leader is observed per term while leaders are repeatedly isolated,
// and the logs of all nodes match afterwards.
func TestElectionSafetyAndLogMatching(t *testing.T) {
	c := newTestCluster(t, 5, nil)
	all := nodeIDs(5)

	var (
		mu      sync.Mutex
		leaders = map[uint64]uint64{}
		stop    = make(chan struct{})
		wg      sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			case <-time.After(2 * time.Millisecond):
			}
			for _, id := range all {
				st := c.nodes[id].Status()
				if st.State != StateLeader {
					continue
				}
				mu.Lock()
				if prev, ok := leaders[st.Term]; ok && prev != id {
					t.Errorf("term %d has two leaders: %d and %d", st.Term, prev, id)
				}
				leaders[st.Term] = id
				mu.Unlock()
			}
		}
	}()

	for round := 0; round < 3; round++ {
		l := c.leader()
		for i := 0; i < 5; i++ {
			if _, err := propose(t, l.Node, fmt.Sprintf("r%d-%d", round, i)); err != nil {
				t.Fatalf("round %d propose %d: %v", round, i, err)
			}
		}
		c.net.Isolate(l.ID(), all...)
		// a write that may or may not survive
		_, _, _ = l.Propose(context.Background(), []byte(fmt.Sprintf("r%d-isolated", round)))

		var rest []uint64
		for _, id := range all {
			if id != l.ID() {
				rest = append(rest, id)
			}
		}
		c.leader(rest...)
		c.net.Heal()
	}

	res, err := propose(t, c.leader().Node, "final")
	if err != nil {
		t.Fatalf("final propose: %v", err)
	}
	c.waitApplied(res.Index, all...)
	close(stop)
	wg.Wait()

	want := c.nodes[1].list.Values()
	for _, id := range all {
		if got := c.nodes[id].list.Values(); !reflect.DeepEqual(got, want) {
			t.Errorf("node %d applied %v, node 1 applied %v", id, got, want)
		}
	}

	// log matching: the same index and term means the same entry
	for _, a := range all {
		for _, b := range all {
			la, lb := c.nodes[a].store, c.nodes[b].store
			lo := max(la.FirstIndex(), lb.FirstIndex())
			hi := min(la.LastIndex(), lb.LastIndex())
			if lo > hi {
				continue
			}
			ea, err := la.Entries(lo, hi+1, 0)
			if err != nil {
				t.Fatalf("entries of %d: %v", a, err)
			}
			eb, err := lb.Entries(lo, hi+1, 0)
			if err != nil {
				t.Fatalf("entries of %d: %v", b, err)
			}
			for i := range ea {
				if ea[i].Term == eb[i].Term && !reflect.DeepEqual(ea[i], eb[i]) {
					t.Errorf("nodes %d and %d differ at index %d with equal term", a, b, ea[i].Index)
				}
			}
		}
	}
}

func TestRestartFollower(t *testing.T) {
	c := newTestCluster(t, 3, nil)
	l := c.leader()

	for i := 0; i < 20; i++ {
		if _, err := propose(t, l.Node, fmt.Sprintf("v%d", i)); err != nil {
			t.Fatalf("propose %d: %v", i, err)
		}
	}

	var follower uint64
	for _, id := range nodeIDs(3) {
		if id != l.ID() {
			follower = id
			break
		}
	}
	c.restart(follower)

	l = c.leader()
	res, err := propose(t, l.Node, "after restart")
	if err != nil {
		t.Fatalf("propose after restart: %v", err)
	}
	c.waitApplied(res.Index, nodeIDs(3)...)

	if got, want := c.nodes[follower].list.Values(), l.list.Values(); !reflect.DeepEqual(got, want) {
		t.Errorf("restarted follower values = %v, want %v", got, want)
	}
	if st := c.nodes[follower].Status(); st.Term < l.Status().Term {
		t.Errorf("restarted follower term = %d, leader term = %d", st.Term, l.Status().Term)
	}
}

func TestStopFailsWaiters(t *testing.T) {
	c := newTestCluster(t, 3, nil)
	l := c.leader()

	for _, id := range nodeIDs(3) {
		if id != l.ID() {
			c.net.Isolate(id, nodeIDs(3)...)
		}
	}
	_, done, err := l.Propose(context.Background(), []byte("never committed"))
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}
	l.Stop()

	select {
	case res := <-done:
		if !errors.Is(res.Err, ErrStopped) {
			t.Errorf("result after stop: err = %v, want ErrStopped", res.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("proposal not resolved after stop")
	}
	if _, _, err := l.Propose(context.Background(), nil); !errors.Is(err, ErrStopped) {
		t.Errorf("Propose() after stop: err = %v, want ErrStopped", err)
	}
	if l.Err() != nil {
		t.Errorf("Err() = %v after a clean stop", l.Err())
	}
}

var errDiskFull = errors.New("disk full")

// faultyLogs fails all writes once broken is set
type faultyLogs struct {
	LogStore
	broken atomic.Bool
}

func (f *faultyLogs) Append(entries []raftpb.Entry) error {
	if f.broken.Load() {
		return errDiskFull
	}
	return f.LogStore.Append(entries)
}

func (f *faultyLogs) SetHardState(hs raftpb.HardState) error {
	if f.broken.Load() {
		return errDiskFull
	}
	return f.LogStore.SetHardState(hs)
}

// A leader that cannot write its log stops instead of acknowledging anything
func TestStorageFailureStopsNode(t *testing.T) {
	faulty := make(map[uint64]*faultyLogs)
	c := newWrappedTestCluster(t, 3, nil, func(id uint64, logs LogStore) LogStore {
		f := &faultyLogs{LogStore: logs}
		faulty[id] = f
		return f
	})
	l := c.leader()
	if _, err := propose(t, l.Node, "committed"); err != nil {
		t.Fatalf("propose: %v", err)
	}

	// without followers the next entry stays pending
	for _, id := range nodeIDs(3) {
		if id != l.ID() {
			c.net.Isolate(id, nodeIDs(3)...)
		}
	}
	_, pending, err := l.Propose(context.Background(), []byte("pending"))
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}

	faulty[l.ID()].broken.Store(true)
	if _, _, err := l.Propose(context.Background(), []byte("lost")); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Propose() on a broken log: err = %v, want ErrUnavailable", err)
	}

	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("node did not stop after a storage error")
	}
	if !errors.Is(l.Err(), errDiskFull) {
		t.Errorf("Err() = %v, want the storage error", l.Err())
	}
	select {
	case res := <-pending:
		if !errors.Is(res.Err, ErrUnavailable) {
			t.Errorf("pending proposal: err = %v, want ErrUnavailable", res.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending proposal not resolved")
	}
	if _, _, err := l.Propose(context.Background(), []byte("later")); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Propose() after the failure: err = %v, want ErrUnavailable", err)
	}
	if st := l.Status(); st.State == StateLeader {
		t.Error("failed node still reports leader")
	}
}

// Lost, duplicated and replayed messages do not make replicas diverge
func TestLossyNetwork(t *testing.T) {
	c := newTestCluster(t, 3, nil)
	c.net.SetDropRate(0.2)
	c.net.SetDuplicateRate(0.3)

	for i := 0; i < 60; i++ {
		value := fmt.Sprintf("v%d", i)
		var err error
		for attempt := 0; attempt < 10; attempt++ {
			if _, err = propose(t, c.leader().Node, value); err == nil {
				break
			}
		}
		if err != nil {
			t.Fatalf("propose %s: %v", value, err)
		}
	}

	c.net.SetDropRate(0)
	c.net.SetDuplicateRate(0)
	res, err := propose(t, c.leader().Node, "final")
	if err != nil {
		t.Fatalf("final propose: %v", err)
	}
	c.waitApplied(res.Index, nodeIDs(3)...)

	want := c.nodes[1].list.Values()
	for _, id := range nodeIDs(3) {
		if got := c.nodes[id].list.Values(); !reflect.DeepEqual(got, want) {
			t.Errorf("node %d applied %v, node 1 applied %v", id, got, want)
		}
	}
	seen := make(map[string]bool, len(want))
	for _, v := range want {
		seen[v] = true
	}
	for i := 0; i < 60; i++ {
		if !seen[fmt.Sprintf("v%d", i)] {
			t.Errorf("acknowledged value v%d is missing", i)
		}
	}
}
