package lockmgr

import "time"

// ILockManager defines the interface for a lock provider.
type ILockManager interface {
	// AcquireLock tries to acquire the lock for the given key. The lock expires after
	// ttl (0 = never). Returns whether the lock was acquired and the owner id needed to
	// release it. A lock held by someone else is reported as ok == false without error.
	AcquireLock(key string, ttl time.Duration) (ok bool, ownerID []byte, err error)

	// ReleaseLock releases the lock for the given key if it is held by ownerID.
	// Releasing a lock that does not exist (anymore) returns true.
	ReleaseLock(key string, ownerID []byte) (ok bool, err error)
}
