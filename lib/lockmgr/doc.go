// Package lockmgr implements distributed locks on top of any store.IStore.
//
// The lockmgr keeps no state of its own, everything lives in the store. It is
// therefore safe to create it multiple times on the same store, even once per
// operation.
//
// Implementation:
//
//	- Acquire: CompareAndSwapE(key, 0, ownerID, ttl). Expected version 0 means
//	  "the key must not exist", so exactly one requester creates the key. The
//	  value is a random uuid that identifies the holder. A version mismatch means
//	  the lock is held by someone else and is not an error.
//
//	- Expiry: every lock carries a ttl. When the holder crashes the key expires
//	  and the lock becomes free again. A ttl of 0 creates a lock that only a
//	  release removes.
//
//	- Release: a linearizable Get checks the owner and reads the version, then
//	  CompareAndDelete removes exactly that version. A lock that was taken over by
//	  another owner between the two steps is left untouched.
//
// Usage Example:
//
//	locks := lockmgr.NewLockManager(store)
//
//	acquired, ownerID, err := locks.AcquireLock("resource:123", 30*time.Second)
//	if err != nil {
//	    // Handle error
//	}
//	if acquired {
//	    // use the resource ...
//	    released, err := locks.ReleaseLock("resource:123", ownerID)
//	}
//
// The owner ids are not secret: anyone with access to the store can read them
// and release a lock. They protect against accidental release, not attacks.
package lockmgr
