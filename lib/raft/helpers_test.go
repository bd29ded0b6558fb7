package raft

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dMeta/lib/raft/logstore"
	"github.com/ValentinKolb/dMeta/lib/raft/raftpb"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble/vfs"
)

// listSM is a state machine that records the data of all applied entries
type listSM struct {
	mu      sync.Mutex
	applied uint64
	values  []string
}

func (s *listSM) Apply(ent raftpb.Entry) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ent.Index <= s.applied {
		return Result{Value: uint64(len(s.values))}
	}
	s.applied = ent.Index
	s.values = append(s.values, string(ent.Data))
	return Result{Value: uint64(len(s.values))}
}

type listImage struct {
	Applied uint64
	Values  []string
}

func (s *listSM) Snapshot(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.NewEncoder(w).Encode(listImage{Applied: s.applied, Values: s.values})
}

func (s *listSM) Restore(r io.Reader) error {
	var img listImage
	if err := json.NewDecoder(r).Decode(&img); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applied, s.values = img.Applied, img.Values
	return nil
}

func (s *listSM) Values() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.values...)
}

// testNode bundles a node with its storage, so it can be restarted
type testNode struct {
	*Node
	conf  Config
	fs    vfs.FS
	store *logstore.PebbleStore
	list  *listSM
}

type testCluster struct {
	t     *testing.T
	net   *MemoryNetwork
	nodes map[uint64]*testNode
	tune  func(*Config)
	wrap  func(id uint64, logs LogStore) LogStore
}

func addrOf(id uint64) string {
	return fmt.Sprintf("node-%d", id)
}

// newTestCluster starts a cluster of nodes 1..size
func newTestCluster(t *testing.T, size int, tune func(*Config)) *testCluster {
	t.Helper()
	return newWrappedTestCluster(t, size, tune, nil)
}

// newWrappedTestCluster starts a cluster whose nodes use the log stores returned by wrap
func newWrappedTestCluster(t *testing.T, size int, tune func(*Config), wrap func(id uint64, logs LogStore) LogStore) *testCluster {
	t.Helper()
	c := &testCluster{t: t, net: NewMemoryNetwork(), nodes: make(map[uint64]*testNode), tune: tune, wrap: wrap}

	peers := make(map[uint64]string, size)
	for id := uint64(1); id <= uint64(size); id++ {
		peers[id] = addrOf(id)
	}
	for id := range peers {
		c.startNode(id, peers)
	}
	t.Cleanup(c.stop)
	return c
}

func (c *testCluster) startNode(id uint64, peers map[uint64]string) *testNode {
	c.t.Helper()
	cfg := DefaultConfig(id, addrOf(id))
	cfg.Peers = peers
	if c.tune != nil {
		c.tune(&cfg)
	}
	tn := &testNode{conf: cfg, fs: vfs.NewMem()}
	c.nodes[id] = tn
	c.boot(tn)
	return tn
}

// boot opens the storage of tn and starts a node on it
func (c *testCluster) boot(tn *testNode) {
	c.t.Helper()
	logs, err := logstore.Open(logstore.Options{Dir: "raft", FS: tn.fs, NoSync: true})
	if err != nil {
		c.t.Fatalf("open log store: %v", err)
	}
	sm := &listSM{}
	var store LogStore = logs
	if c.wrap != nil {
		store = c.wrap(tn.conf.ID, logs)
	}
	n, err := NewNode(tn.conf, store, sm, c.net.Transport(tn.conf.ID))
	if err != nil {
		c.t.Fatalf("NewNode(%d) error = %v", tn.conf.ID, err)
	}
	tn.Node, tn.store, tn.list = n, logs, sm
	c.net.Register(tn.conf.Addr, n)
	if err := n.Start(); err != nil {
		c.t.Fatalf("Start(%d) error = %v", tn.conf.ID, err)
	}
}

// restart stops a node and starts it again on the same storage
func (c *testCluster) restart(id uint64) {
	c.t.Helper()
	tn := c.nodes[id]
	c.net.Unregister(tn.conf.Addr)
	tn.Stop()
	_ = tn.store.Close()
	c.boot(tn)
}

func (c *testCluster) stop() {
	for _, tn := range c.nodes {
		c.net.Unregister(tn.conf.Addr)
		tn.Stop()
		_ = tn.store.Close()
	}
}

// leader waits until exactly one of the given nodes is leader and all of them
// agree on it
func (c *testCluster) leader(ids ...uint64) *testNode {
	c.t.Helper()
	if len(ids) == 0 {
		for id := range c.nodes {
			ids = append(ids, id)
		}
	}

	var found *testNode
	waitFor(c.t, 5*time.Second, "a single leader", func() bool {
		found = nil
		var leaderID uint64
		for _, id := range ids {
			st := c.nodes[id].Status()
			if st.State == StateLeader {
				if found != nil {
					return false
				}
				found = c.nodes[id]
			}
			if leaderID == 0 {
				leaderID = st.LeaderID
			} else if st.LeaderID != leaderID {
				return false
			}
		}
		return found != nil && leaderID == found.ID()
	})
	return found
}

// propose proposes data on n and waits for the entry to be applied
func propose(t *testing.T, n *Node, data string) (ApplyResult, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, done, err := n.Propose(ctx, []byte(data))
	if err != nil {
		return ApplyResult{}, err
	}
	select {
	case res := <-done:
		return res, res.Err
	case <-ctx.Done():
		return ApplyResult{}, errors.Mark(ctx.Err(), ErrUnavailable)
	}
}

// waitApplied waits until all given nodes applied at least index
func (c *testCluster) waitApplied(index uint64, ids ...uint64) {
	c.t.Helper()
	for _, id := range ids {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := c.nodes[id].WaitApplied(ctx, index)
		cancel()
		if err != nil {
			c.t.Fatalf("node %d did not apply %d: %v", id, index, err)
		}
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func nodeIDs(n int) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		out[i] = uint64(i + 1)
	}
	return out
}
