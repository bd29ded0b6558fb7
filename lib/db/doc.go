// Package db provides the interface of the versioned key-value storage engine that
// backs the replicated state machine.
//
// Key Components:
//
//   - KVDB Interface: the contract every engine must satisfy. It provides versioned
//     writes (Put, CompareAndSwap, Delete, CompareAndDelete), reads (Get), expiry
//     (GarbageCollect) and persistence (Save, Load).
//
//   - Record: a stored value with its version, expiry timestamp and write index.
//     The version starts at 1 when a key is created and is incremented by every
//     successful mutation, which enables optimistic compare-and-swap.
//
//   - Feature Flags: capability flags that implementations advertise through
//     SupportsFeature.
//
// Note on Determinism:
//   - Write operations take a write index and a logical timestamp. Both are decided
//     when the write is ordered (by the consensus leader), never by the engine itself.
//     The engine's clock only moves forward (Clock is the maximum of all timestamps seen).
//   - Get takes the time to evaluate expiry against, so a reader may use the wall clock
//     without affecting the replicated state.
//   - Save writes records sorted by key, so replicas with equal state produce equal
//     snapshot images.
//
// Related Packages:
//
// The engines/maple package (github.com/ValentinKolb/dMeta/lib/db/engines/maple) provides
// the in-memory implementation of the KVDB interface.
//
// The testing package (github.com/ValentinKolb/dMeta/lib/db/testing) provides a standardized
// test suite (RunKVDBTests) and benchmarks (RunKVDBBenchmarks) for KVDB implementations.
package db
