// Package dstore implements the replicated key-value store of dMeta on top of the
// raft package. It provides the store.IStore and store.ICluster interfaces for a
// single node of the cluster.
//
// Architecture:
//
// The dstore implementation consists of three main components:
//
//   - Store (store.go): Implements store.IStore. It serializes writes into commands,
//     proposes them to the local raft node and waits until they are applied. Reads
//     are served from the local state machine.
//
//   - State Machine (statemachine.go): A raft.StateMachine that applies committed
//     commands to a db.KVDB instance and writes / restores snapshots of it.
//
//   - Cluster (cluster.go): Implements store.ICluster on the membership operations of
//     the raft node.
//
// Write Operations:
//
//	All write operations (Put, PutE, CompareAndSwap, CompareAndSwapE, Delete,
//	CompareAndDelete) follow this flow:
//
//	1. The operation is serialized into a Command, stamped with the current time
//	2. The Command is proposed to the local node, which fails with NotLeader if it
//	   is not the leader (writes are never forwarded, the client follows the hint)
//	3. The leader replicates the command to a majority of the nodes
//	4. Once committed, the command is executed on the state machine of each node
//	5. The result (return code, version) is returned to the client
//
//	The write index of every record is the raft log index, the logical clock is the
//	timestamp of the command. A write that does not complete within the timeout fails
//	with RetCUnavailable: it may still be applied later.
//
// Read Operations:
//
//   - Linearizable Reads (default): the node asks the leader for its commit index
//     (read index), the leader confirms it is still leader with a quorum of heartbeats,
//     then the node waits until it applied that index and reads locally. This works on
//     followers as well and never touches the log.
//
//   - Stale Reads: the local state is read directly, which may lag behind the leader.
//
// Expiry:
//
//	Keys with a time to live get an expiry time (command timestamp + ttl). Before each
//	command the state machine removes all keys that expired at the timestamp of the
//	command, so every replica removes them at the same log position. Reads never return
//	expired keys, even if they were not removed yet.
package dstore
