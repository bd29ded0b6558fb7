// Package maple implements the in-memory versioned key-value database (KVDB)
// used as the replicated state of a dMeta node.
//
// Key Components:
//
//   - mapleImpl: The database structure implementing db.KVDB. Records are kept in a
//     lock-free xsync.MapOf so that reads (including linearizable reads served after a
//     read-index wait) never block the apply loop. Writes are serialized.
//
//   - Entry: value, version, expiry timestamp and write index of a record.
//
//   - Expiry heap: a util.MapHeap ordered by expiry timestamp (ties broken by key).
//     GarbageCollect pops every record expired at the given logical time. There is no
//     background collector, the owner of the database decides when time advances.
//
// Internal Mechanisms:
//
//   - Versions: a key is created with version 1, every successful Put, CompareAndSwap
//     increments it. A deleted or expired key leaves a tombstone with its last version
//     and write index, so a later create continues at that version + 1 and a version
//     is never handed out twice for the same key. CompareAndSwap with expected version
//     0 only succeeds if the key does not exist.
//
//   - Stale Write Prevention: a write whose index is not greater than the index stored
//     with the record is ignored. Replaying a log entry that was already applied
//     therefore leaves the database unchanged.
//
//   - Expiry: records are invisible to Get as soon as they are expired at the caller's
//     time, even before GarbageCollect removes them physically.
//
//   - Persistence: Save writes the write index, the logical clock, all live records
//     and all tombstones, both sorted by key. Load builds a complete new map before swapping it in.
//
// Usage Example:
//
//	database := maple.NewMapleDB(nil)
//	rec := database.Put("config/a", []byte("1"), 0, 1, nowMillis)
//	_, ok := database.CompareAndSwap("config/a", rec.Version, []byte("2"), 0, 2, nowMillis)
//	r, found := database.Get("config/a", nowMillis)
package maple
