package raft

import (
	"time"

	"github.com/cockroachdb/errors"
)

// Config configures a Node
type Config struct {
	// ID is the unique, non-zero id of the node
	ID uint64
	// Addr is the address other nodes and clients reach this node on
	Addr string
	// Peers is the initial membership (id -> address) used to bootstrap a new
	// cluster. It must contain the node itself. Nodes with an empty Peers list
	// start without membership and wait to be added by a leader (join).
	// Peers is ignored if the node already has state.
	Peers map[uint64]string

	// ElectionTimeoutMin and ElectionTimeoutMax bound the randomized election timeout
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
	// HeartbeatInterval is the interval of leader heartbeats
	HeartbeatInterval time.Duration
	// TickInterval is the resolution of all timers
	TickInterval time.Duration
	// RPCTimeout bounds a single RPC to another node
	RPCTimeout time.Duration
	// JoinTimeout bounds the time a joining node has to catch up
	JoinTimeout time.Duration

	// SnapshotEntries is the number of applied entries after which a snapshot is taken (0 = never)
	SnapshotEntries uint64
	// CompactionOverhead is the number of entries kept in the log behind a snapshot,
	// so slightly lagging followers can catch up without a snapshot
	CompactionOverhead uint64

	// MaxSizePerMsg bounds the size of the entries in a single append message
	MaxSizePerMsg uint64
	// MaxEntriesPerMsg bounds the number of entries in a single append message
	MaxEntriesPerMsg uint64
}

// DefaultConfig returns a config with the default timings
func DefaultConfig(id uint64, addr string) Config {
	return Config{
		ID:                 id,
		Addr:               addr,
		ElectionTimeoutMin: 150 * time.Millisecond,
		ElectionTimeoutMax: 300 * time.Millisecond,
		HeartbeatInterval:  50 * time.Millisecond,
		TickInterval:       10 * time.Millisecond,
		RPCTimeout:         time.Second,
		JoinTimeout:        time.Minute,
		SnapshotEntries:    10000,
		CompactionOverhead: 5000,
		MaxSizePerMsg:      1 << 20,
		MaxEntriesPerMsg:   512,
	}
}

// Validate checks the config and fills in defaults for unset values
func (c *Config) Validate() error {
	d := DefaultConfig(c.ID, c.Addr)
	if c.ID == 0 {
		return errors.New("node id must not be 0")
	}
	if c.ElectionTimeoutMin == 0 {
		c.ElectionTimeoutMin = d.ElectionTimeoutMin
	}
	if c.ElectionTimeoutMax == 0 {
		c.ElectionTimeoutMax = max(d.ElectionTimeoutMax, 2*c.ElectionTimeoutMin)
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.TickInterval == 0 {
		c.TickInterval = d.TickInterval
	}
	if c.RPCTimeout == 0 {
		c.RPCTimeout = d.RPCTimeout
	}
	if c.JoinTimeout == 0 {
		c.JoinTimeout = d.JoinTimeout
	}
	if c.MaxSizePerMsg == 0 {
		c.MaxSizePerMsg = d.MaxSizePerMsg
	}
	if c.MaxEntriesPerMsg == 0 {
		c.MaxEntriesPerMsg = d.MaxEntriesPerMsg
	}

	if c.ElectionTimeoutMax <= c.ElectionTimeoutMin {
		return errors.Newf("election timeout max (%s) must be greater than min (%s)", c.ElectionTimeoutMax, c.ElectionTimeoutMin)
	}
	if c.HeartbeatInterval >= c.ElectionTimeoutMin {
		return errors.Newf("heartbeat interval (%s) must be smaller than the election timeout (%s)", c.HeartbeatInterval, c.ElectionTimeoutMin)
	}
	if c.TickInterval > c.HeartbeatInterval {
		return errors.Newf("tick interval (%s) must not exceed the heartbeat interval (%s)", c.TickInterval, c.HeartbeatInterval)
	}
	if len(c.Peers) > 0 {
		if _, ok := c.Peers[c.ID]; !ok {
			return errors.Newf("initial peers must contain the node itself (%d)", c.ID)
		}
		if _, ok := c.Peers[0]; ok {
			return errors.New("node id 0 is reserved")
		}
	}
	return nil
}
