package raft

import (
	"context"
	"math/rand"
	"sync"

	"github.com/ValentinKolb/dMeta/lib/raft/raftpb"
	"github.com/cockroachdb/errors"
)

// Transport delivers a message to another node and returns its response.
// Implementations may retry, reorder or duplicate messages, the node detects
// stale messages by their term and indexes.
type Transport interface {
	Send(ctx context.Context, to uint64, addr string, msg raftpb.Message) (raftpb.Message, error)
}

// ErrUnreachable is returned by the MemoryNetwork for blocked or unknown nodes
var ErrUnreachable = errors.New("node unreachable")

// MemoryNetwork connects nodes of one process. It can partition nodes, drop,
// duplicate and replay messages and is used to test clusters.
type MemoryNetwork struct {
	mu       sync.RWMutex
	nodes    map[string]*Node
	blocked  map[[2]uint64]bool
	dropRate float64
	dupRate  float64
	last     map[[2]uint64][]byte // last encoded message per link
	rng      *rand.Rand
}

// NewMemoryNetwork creates an empty network
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{
		nodes:   make(map[string]*Node),
		blocked: make(map[[2]uint64]bool),
		last:    make(map[[2]uint64][]byte),
		rng:     rand.New(rand.NewSource(1)),
	}
}

// Register makes a node reachable under addr
func (nw *MemoryNetwork) Register(addr string, n *Node) {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	nw.nodes[addr] = n
}

// Unregister removes the node registered under addr
func (nw *MemoryNetwork) Unregister(addr string) {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	delete(nw.nodes, addr)
}

// Transport returns the transport used by the node with the given id
func (nw *MemoryNetwork) Transport(from uint64) Transport {
	return &memoryTransport{nw: nw, from: from}
}

// Disconnect blocks all messages between a and b (both directions)
func (nw *MemoryNetwork) Disconnect(a, b uint64) {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	nw.blocked[[2]uint64{a, b}] = true
	nw.blocked[[2]uint64{b, a}] = true
}

// Isolate disconnects a node from all given others
func (nw *MemoryNetwork) Isolate(id uint64, others ...uint64) {
	for _, o := range others {
		if o != id {
			nw.Disconnect(id, o)
		}
	}
}

// Heal removes all partitions
func (nw *MemoryNetwork) Heal() {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	nw.blocked = make(map[[2]uint64]bool)
}

// SetDropRate makes the network drop the given fraction of messages
func (nw *MemoryNetwork) SetDropRate(rate float64) {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	nw.dropRate = rate
}

// SetDuplicateRate makes the network deliver the given fraction of messages twice.
// Before such a message the previous message of the same link is delivered again,
// so the receiver also sees stale and reordered messages. Only the response to the
// last delivery reaches the sender.
func (nw *MemoryNetwork) SetDuplicateRate(rate float64) {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	nw.dupRate = rate
}

// extraDeliveries records wire as the last message from -> to and returns the
// messages to deliver before it (none, or the previous message and a copy of wire)
func (nw *MemoryNetwork) extraDeliveries(from, to uint64, wire []byte) [][]byte {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	link := [2]uint64{from, to}
	prev := nw.last[link]
	nw.last[link] = wire
	if nw.dupRate == 0 || nw.rng.Float64() >= nw.dupRate {
		return nil
	}
	if prev == nil {
		return [][]byte{wire}
	}
	return [][]byte{prev, wire}
}

// reachable reports whether a message from -> to is delivered
func (nw *MemoryNetwork) reachable(from, to uint64) bool {
	nw.mu.Lock()
	defer nw.mu.Unlock()
	if nw.blocked[[2]uint64{from, to}] {
		return false
	}
	return nw.dropRate == 0 || nw.rng.Float64() >= nw.dropRate
}

func (nw *MemoryNetwork) lookup(addr string) (*Node, bool) {
	nw.mu.RLock()
	defer nw.mu.RUnlock()
	n, ok := nw.nodes[addr]
	return n, ok
}

type memoryTransport struct {
	nw   *MemoryNetwork
	from uint64
}

func (t *memoryTransport) Send(ctx context.Context, to uint64, addr string, msg raftpb.Message) (raftpb.Message, error) {
	target, ok := t.nw.lookup(addr)
	if !ok || !t.nw.reachable(t.from, to) {
		return raftpb.Message{}, errors.Wrapf(ErrUnreachable, "%d -> %d", t.from, to)
	}

	// messages pass the codec, so nodes never share memory
	encoded := raftpb.EncodeMessage(msg)
	for _, extra := range t.nw.extraDeliveries(t.from, to, encoded) {
		if dup, err := raftpb.DecodeMessage(extra); err == nil {
			_, _ = target.Step(ctx, dup)
		}
	}
	wire, err := raftpb.DecodeMessage(encoded)
	if err != nil {
		return raftpb.Message{}, err
	}
	resp, err := target.Step(ctx, wire)
	if err != nil {
		return raftpb.Message{}, err
	}

	if !t.nw.reachable(to, t.from) {
		return raftpb.Message{}, errors.Wrapf(ErrUnreachable, "%d -> %d (response)", to, t.from)
	}
	return raftpb.DecodeMessage(raftpb.EncodeMessage(resp))
}
