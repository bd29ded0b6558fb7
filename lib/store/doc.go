// Package store defines the client-facing contracts of dMeta: the IStore interface for
// versioned key–value operations, the ICluster interface for membership management and
// the Error type that carries a RetCode over every transport.
//
// Key Components:
//
//   - IStore Interface: Put, CompareAndSwap, Delete, CompareAndDelete and Get on versioned
//     keys. Every key has a version that starts at 1 and is incremented by every write,
//     which makes optimistic concurrency (compare-and-swap) possible. Keys can carry a
//     time to live; expiry is decided by timestamps chosen by the leader, so every replica
//     expires a key at the same position in the log.
//
//   - Read Modes: Get takes a ReadMode. ReadLinearizable (the default everywhere) confirms
//     leadership with a quorum and waits until the local replica has applied the confirmed
//     commit index. ReadStale reads the local replica directly.
//
//   - Error System: A structured error reporting mechanism using typed error codes. The
//     codes a client has to handle for consensus outcomes are RetCNotLeader (retry on the
//     node in Error.Leader), RetCVersionMismatch and RetCUnavailable (the outcome of the
//     write is unknown, retry).
//
// Implementations:
//
//	The replicated implementation lives in the "github.com/ValentinKolb/dMeta/lib/store/dstore"
//	package, the rpc client in "github.com/ValentinKolb/dMeta/rpc/client" implements the same
//	interfaces, so applications do not care whether they run in process or remote.
package store
