// Package client implements the RPC clients of dMeta. It provides implementations
// of the store.IStore, lockmgr.ILockManager and store.ICluster interfaces that talk
// to a cluster via RPC, and the raft.Transport that nodes use to reach each other.
//
// Key Components:
//
//   - NewRPCStore: creates a client implementing store.IStore. Writes are sent to
//     the leader: a node that is not the leader answers with RetCNotLeader and the
//     address of the leader, which the client remembers and retries on. Reads are
//     served by any node and spread over the configured endpoints.
//
//   - NewRPCLockMgr: creates a client implementing lockmgr.ILockManager.
//
//   - NewRPCCluster: creates a client implementing store.ICluster to add, remove
//     and inspect nodes.
//
//   - NewRaftTransport: wraps a client transport into a raft.Transport. The address
//     of a raft peer is the RPC endpoint of the peer.
//
// Usage Example:
//
//	config := common.ClientConfig{
//	  Endpoints:              []string{"10.0.0.1:8080", "10.0.0.2:8080", "10.0.0.3:8080"},
//	  Timeout:                5 * time.Second,
//	  RetryCount:             3,
//	  ConnectionsPerEndpoint: 2,
//	}
//
//	kv, err := client.NewRPCStore(config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
//	if err != nil {
//	  return err
//	}
//
//	version, err := kv.Put("config/leader", []byte("node-1"))
//	value, version, found, err := kv.Get("config/leader", store.ReadLinearizable)
//
// Errors returned by the server are returned as *store.Error, use store.CodeOf to
// inspect them. A write that fails with RetCUnavailable may still be applied.
package client
