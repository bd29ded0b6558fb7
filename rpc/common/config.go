package common

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dMeta/lib/raft"
)

// --------------------------------------------------------------------------
// helper functions to interface with the raft package (for the server)
// --------------------------------------------------------------------------

// RaftAddr returns the address other nodes reach this node on
func (c *ServerConfig) RaftAddr() string {
	if c.Advertise != "" {
		return c.Advertise
	}
	return c.Endpoint
}

// ToRaftConfig converts the ServerConfig to a raft.Config. Without peers and without
// join endpoints the node bootstraps a single node cluster.
func (c *ServerConfig) ToRaftConfig() raft.Config {
	cfg := raft.DefaultConfig(c.NodeID, c.RaftAddr())
	cfg.Peers = c.Peers
	if len(c.Peers) == 0 && len(c.Join) == 0 {
		cfg.Peers = map[uint64]string{c.NodeID: c.RaftAddr()}
	}
	if c.ElectionTimeoutMin > 0 {
		cfg.ElectionTimeoutMin = c.ElectionTimeoutMin
	}
	if c.ElectionTimeoutMax > 0 {
		cfg.ElectionTimeoutMax = c.ElectionTimeoutMax
	}
	if c.HeartbeatInterval > 0 {
		cfg.HeartbeatInterval = c.HeartbeatInterval
		cfg.TickInterval = min(cfg.TickInterval, c.HeartbeatInterval)
	}
	if c.Timeout > 0 {
		cfg.JoinTimeout = max(cfg.JoinTimeout, c.Timeout)
	}
	cfg.SnapshotEntries = c.SnapshotEntries
	cfg.CompactionOverhead = c.CompactionOverhead
	return cfg
}

// PeerClientConfig returns the client config used for messages to other raft nodes
func (c *ServerConfig) PeerClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:                c.ToRaftConfig().RPCTimeout,
		RetryCount:             1,
		ConnectionsPerEndpoint: 1,
		Transport:              c.Transport,
	}
}

// ParsePeers parses a list of "id=address" pairs
func ParsePeers(pairs []string) (map[uint64]string, error) {
	peers := make(map[uint64]string, len(pairs))
	for _, pair := range pairs {
		idStr, addr, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found || addr == "" {
			return nil, fmt.Errorf("invalid peer %q, expected id=address", pair)
		}
		id, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("invalid peer id %q", idStr)
		}
		if _, dup := peers[id]; dup {
			return nil, fmt.Errorf("duplicate peer id %d", id)
		}
		peers[id] = addr
	}
	return peers, nil
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// TransportConfig holds the socket options of the tcp and unix transports
type TransportConfig struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int // < 0 keeps the os default
	WriteBufferSize int
	ReadBufferSize  int
	WorkersPerConn  int // concurrent requests per server connection
}

// ServerConfig holds all configuration parameters of a dMeta node.
type ServerConfig struct {
	// Node identity
	NodeID    uint64
	Endpoint  string // listen address
	Advertise string // address other nodes use, defaults to Endpoint

	// Cluster formation: Peers bootstraps a new cluster, Join lists endpoints of an
	// existing cluster to ask for membership
	Peers map[uint64]string
	Join  []string

	// Storage
	DataDir string
	NoSync  bool

	// Raft parameters
	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
	HeartbeatInterval  time.Duration
	SnapshotEntries    uint64
	CompactionOverhead uint64

	// Timeout of client requests
	Timeout time.Duration

	// Socket options
	Transport TransportConfig

	// Logging configuration
	LogLevel string
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	raftCfg := c.ToRaftConfig()

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", c.Timeout.String())

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Node Identity
	addSection("Node Identity")
	addField("Node ID", strconv.FormatUint(c.NodeID, 10))
	addField("RAFT Address", c.RaftAddr())

	// RAFT parameters
	addSection("RAFT Parameters")
	addField("Election Timeout", fmt.Sprintf("%s - %s", raftCfg.ElectionTimeoutMin, raftCfg.ElectionTimeoutMax))
	addField("Heartbeat Interval", raftCfg.HeartbeatInterval.String())
	addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
	addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))

	// Storage
	addSection("Storage")
	addField("Data Directory", c.DataDir)
	addField("No Sync", fmt.Sprintf("%t", c.NoSync))

	// Cluster configuration
	addSection("Cluster")
	switch {
	case len(c.Join) > 0:
		addField("Join", strings.Join(c.Join, ", "))
	case len(c.Peers) > 0:
		sb.WriteString("  Initial Members:\n")

		// Sort keys for consistent output
		var keys []uint64
		for k := range c.Peers {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("    Node %d: %s\n", k, c.Peers[k]))
		}
	default:
		addField("Bootstrap", "single node")
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoints              []string
	Timeout                time.Duration
	RetryCount             int
	ConnectionsPerEndpoint int
	Transport              TransportConfig
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", c.Timeout.String())
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.ConnectionsPerEndpoint)))))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
