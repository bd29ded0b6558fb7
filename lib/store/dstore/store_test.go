package dstore

import (
	"fmt"
	"testing"
	"time"

	"github.com/ValentinKolb/dMeta/lib/db"
	"github.com/ValentinKolb/dMeta/lib/db/engines/maple"
	"github.com/ValentinKolb/dMeta/lib/raft"
	"github.com/ValentinKolb/dMeta/lib/raft/logstore"
	"github.com/ValentinKolb/dMeta/lib/store"
	"github.com/cockroachdb/pebble/vfs"
)

type testReplica struct {
	node    *raft.Node
	store   store.IStore
	cluster store.ICluster
	addr    string
}

// startReplica starts a node on in-memory storage. peers == nil starts a node
// that waits to be added to a cluster.
func startReplica(t *testing.T, net *raft.MemoryNetwork, id uint64, peers map[uint64]string) *testReplica {
	t.Helper()
	logs, err := logstore.Open(logstore.Options{Dir: "raft", FS: vfs.NewMem(), NoSync: true})
	if err != nil {
		t.Fatalf("open log store: %v", err)
	}
	fsm := NewStateMachine(func() db.KVDB { return maple.NewMapleDB(nil) })

	cfg := raft.DefaultConfig(id, fmt.Sprintf("node-%d", id))
	cfg.Peers = peers
	node, err := raft.NewNode(cfg, logs, fsm, net.Transport(id))
	if err != nil {
		t.Fatalf("NewNode() error = %v", err)
	}
	net.Register(cfg.Addr, node)
	if err := node.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		net.Unregister(cfg.Addr)
		node.Stop()
		_ = logs.Close()
		_ = fsm.Close()
	})

	return &testReplica{
		node:    node,
		store:   NewDistributedStore(node, fsm, 2*time.Second),
		cluster: NewCluster(node, fsm, 10*time.Second),
		addr:    cfg.Addr,
	}
}

func startCluster(t *testing.T, size int) []*testReplica {
	t.Helper()
	net := raft.NewMemoryNetwork()
	peers := make(map[uint64]string, size)
	for id := uint64(1); id <= uint64(size); id++ {
		peers[id] = fmt.Sprintf("node-%d", id)
	}
	replicas := make([]*testReplica, 0, size)
	for id := uint64(1); id <= uint64(size); id++ {
		replicas = append(replicas, startReplica(t, net, id, peers))
	}
	return replicas
}

// leaderOf waits until all replicas agree on a leader
func leaderOf(t *testing.T, replicas []*testReplica) *testReplica {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var leader *testReplica
		agreed := true
		for _, r := range replicas {
			st := r.node.Status()
			if st.State == raft.StateLeader {
				leader = r
			}
			if st.LeaderID != replicas[0].node.Status().LeaderID || st.LeaderID == 0 {
				agreed = false
			}
		}
		if leader != nil && agreed {
			return leader
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no leader elected")
	return nil
}

func expectCode(t *testing.T, err error, code store.RetCode) *store.Error {
	t.Helper()
	if got := store.CodeOf(err); got != code {
		t.Fatalf("error = %v, want code %s", err, code)
	}
	e, _ := err.(*store.Error)
	return e
}

// A single node cluster serves a write and a linearizable read of it
func TestSingleNodePutGet(t *testing.T) {
	replicas := startCluster(t, 1)
	s := leaderOf(t, replicas).store

	version, err := s.Put("a", []byte("1"))
	if err != nil || version != 1 {
		t.Fatalf("Put() = %d, %v, want version 1", version, err)
	}
	value, version, ok, err := s.Get("a", store.ReadLinearizable)
	if err != nil || !ok || string(value) != "1" || version != 1 {
		t.Errorf("Get() = %q, %d, %v, %v", value, version, ok, err)
	}

	if _, _, ok, err := s.Get("missing", store.ReadStale); ok || err != nil {
		t.Errorf("Get(missing) = %v, %v", ok, err)
	}

	existed, err := s.Delete("a")
	if err != nil || !existed {
		t.Errorf("Delete() = %v, %v", existed, err)
	}
	existed, err = s.Delete("a")
	if err != nil || existed {
		t.Errorf("second Delete() = %v, %v", existed, err)
	}
}

// A write on the leader is visible to linearizable reads on every follower
func TestFollowerLinearizableRead(t *testing.T) {
	replicas := startCluster(t, 3)
	leader := leaderOf(t, replicas)

	for i := 0; i < 5; i++ {
		if _, err := leader.store.Put("k", []byte(fmt.Sprintf("v%d", i))); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	for _, r := range replicas {
		value, version, ok, err := r.store.Get("k", store.ReadLinearizable)
		if err != nil || !ok || string(value) != "v4" || version != 5 {
			t.Errorf("Get() on %s = %q, %d, %v, %v", r.addr, value, version, ok, err)
		}
	}
}

func TestCompareAndSwap(t *testing.T) {
	replicas := startCluster(t, 3)
	s := leaderOf(t, replicas).store

	if v, err := s.CompareAndSwap("k", 0, []byte("created")); err != nil || v != 1 {
		t.Fatalf("CompareAndSwap(expected=0) = %d, %v", v, err)
	}
	_, err := s.CompareAndSwap("k", 0, []byte("again"))
	expectCode(t, err, store.RetCVersionMismatch)

	_, err = s.CompareAndSwap("k", 5, []byte("x"))
	expectCode(t, err, store.RetCVersionMismatch)

	if v, err := s.CompareAndSwap("k", 1, []byte("updated")); err != nil || v != 2 {
		t.Fatalf("CompareAndSwap(expected=1) = %d, %v", v, err)
	}
	value, version, _, _ := s.Get("k", store.ReadLinearizable)
	if string(value) != "updated" || version != 2 {
		t.Errorf("Get() = %q, %d", value, version)
	}

	expectCode(t, s.CompareAndDelete("k", 1), store.RetCVersionMismatch)
	if err := s.CompareAndDelete("k", 2); err != nil {
		t.Errorf("CompareAndDelete() error = %v", err)
	}
	if _, _, ok, _ := s.Get("k", store.ReadLinearizable); ok {
		t.Error("key still present after CompareAndDelete")
	}
}

func TestWriteOnFollowerReturnsLeader(t *testing.T) {
	replicas := startCluster(t, 3)
	leader := leaderOf(t, replicas)

	for _, r := range replicas {
		if r == leader {
			continue
		}
		_, err := r.store.Put("k", []byte("v"))
		e := expectCode(t, err, store.RetCNotLeader)
		if e.Leader != leader.addr {
			t.Errorf("leader hint = %q, want %q", e.Leader, leader.addr)
		}
	}
}

func TestPutWithTTL(t *testing.T) {
	replicas := startCluster(t, 1)
	s := leaderOf(t, replicas).store

	if _, err := s.PutE("tmp", []byte("x"), 50*time.Millisecond); err != nil {
		t.Fatalf("PutE() error = %v", err)
	}
	if _, _, ok, _ := s.Get("tmp", store.ReadLinearizable); !ok {
		t.Fatal("key with ttl not found right after the write")
	}
	time.Sleep(100 * time.Millisecond)
	if _, _, ok, _ := s.Get("tmp", store.ReadLinearizable); ok {
		t.Error("key found after its ttl")
	}
	// an expired key does not exist for compare and swap, its version is not reused
	if v, err := s.CompareAndSwapE("tmp", 0, []byte("y"), time.Second); err != nil || v != 2 {
		t.Errorf("CompareAndSwapE() on expired key = %d, %v", v, err)
	}

	_, err := s.PutE("k", nil, -time.Second)
	expectCode(t, err, store.RetCInvalidOperation)
}

func TestClusterJoinAndStatus(t *testing.T) {
	net := raft.NewMemoryNetwork()
	first := startReplica(t, net, 1, map[uint64]string{1: "node-1"})
	leaderOf(t, []*testReplica{first})

	if _, err := first.store.Put("k", []byte("v")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	second := startReplica(t, net, 2, nil)
	if err := first.cluster.Join(2, second.addr); err != nil {
		t.Fatalf("Join() error = %v", err)
	}

	status, err := first.cluster.Status()
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Node.State != raft.StateLeader || len(status.Node.Membership.Members) != 2 {
		t.Errorf("status after join = %+v", status.Node)
	}
	if status.DB.Keys != 1 {
		t.Errorf("status db keys = %d, want 1", status.DB.Keys)
	}

	value, _, ok, err := second.store.Get("k", store.ReadLinearizable)
	if err != nil || !ok || string(value) != "v" {
		t.Errorf("Get() on joined node = %q, %v, %v", value, ok, err)
	}

	if err := first.cluster.Leave(2); err != nil {
		t.Errorf("Leave() error = %v", err)
	}
	status, _ = first.cluster.Status()
	if len(status.Node.Membership.Members) != 1 {
		t.Errorf("membership after leave = %+v", status.Node.Membership)
	}
}
