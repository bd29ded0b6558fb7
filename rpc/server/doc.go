// Package server implements a dMeta node: the raft node with its log store and
// state machine, the replicated store on top of it and the RPC services that
// expose both to clients and to the other nodes.
//
// Services:
//
// Every request frame carries a service id (see common.ServiceStore and friends),
// which selects the adapter that handles it:
//
//   - Store (NewIStoreServerAdapter): the key-value operations of store.IStore.
//   - Lock (NewLockManagerServerAdapter): lockmgr.ILockManager on top of the store.
//   - Cluster (NewClusterServerAdapter): join, leave and status of store.ICluster.
//   - Raft (NewRaftServerAdapter): messages of other nodes, passed to raft.Node.Step.
//
// Writes received by a follower fail with RetCNotLeader and carry the address of
// the leader. They are never forwarded, the clients in the client package follow
// the hint. Linearizable reads are served by every node.
//
// Cluster Formation:
//
//   - Bootstrap: all initial nodes are started with the same Peers map. A node
//     without peers and without join endpoints bootstraps a single node cluster.
//   - Join: a node started with Join endpoints (and an empty state) asks the cluster
//     to add it. The leader replicates its state to the node and promotes it to a
//     voter once it caught up. The node retries until it is a voter.
//   - Restart: a node with persisted state ignores Peers and Join.
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  NodeID:   1,
//	  Endpoint: "10.0.0.1:8080",
//	  Peers:    map[uint64]string{1: "10.0.0.1:8080", 2: "10.0.0.2:8080", 3: "10.0.0.3:8080"},
//	  DataDir:  "/var/lib/dmeta",
//	  Timeout:  5 * time.Second,
//	  LogLevel: "info",
//	}
//
//	s := server.NewRPCServer(
//	  config,
//	  tcp.NewTCPDefaultServerTransport(),
//	  tcp.NewTCPClientTransport,
//	  serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Metrics of the node (raft and rpc) are written in Prometheus format by the
// transports that support it (GET /metrics of the http transport).
package server
