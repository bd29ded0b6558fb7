// Package util provides small building blocks shared by the storage engine and
// the consensus node.
//
// The package contains:
//   - functions: string hashing (node ids) and seed generation (election jitter)
//   - mapheap: a generic priority queue with key based access, used for expiry tracking
//   - lockfreempsc: a lock-free Multi-Producer Single-Consumer queue, used as the event inbox
//     of the consensus loop
package util
