package db

import "io"

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMaple Implementation = "maple"
)

// Feature represents database features as bit flags
type Feature uint64

const (
	FeaturePut              Feature = 1 << iota // Support for Put operations
	FeatureCompareAndSwap                       // Support for versioned CompareAndSwap operations
	FeatureGet                                  // Support for Get operations
	FeatureExpire                               // Support for records with an expiry timestamp
	FeatureDelete                               // Support for Delete operations
	FeatureCompareAndDelete                     // Support for versioned CompareAndDelete operations
	FeatureSave                                 // Support for Save operations
	FeatureLoad                                 // Support for Load operations
	FeatureGarbageCollect                       // Support for GarbageCollect operations
)

func (f Feature) String() string {
	switch f {
	case FeaturePut:
		return "Put"
	case FeatureCompareAndSwap:
		return "CompareAndSwap"
	case FeatureGet:
		return "Get"
	case FeatureExpire:
		return "Expire"
	case FeatureDelete:
		return "Delete"
	case FeatureCompareAndDelete:
		return "CompareAndDelete"
	case FeatureSave:
		return "Save"
	case FeatureLoad:
		return "Load"
	case FeatureGarbageCollect:
		return "GarbageCollect"
	default:
		return "Unknown"
	}
}

type DatabaseInfo struct {
	Keys              int            `json:"keys"`
	SizeBytes         int            `json:"size_bytes"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// Record is the stored state of a single key
type Record struct {
	Value    []byte // the stored value
	Version  uint64 // 1 on creation, incremented by every successful mutation
	ExpireAt uint64 // logical timestamp (unix ms) after which the record is gone (0 = never)
	Index    uint64 // write index of the last mutation
}

// IsExpired reports whether the record is logically expired at the given time
func (r Record) IsExpired(now uint64) bool {
	return r.ExpireAt != 0 && now >= r.ExpireAt
}

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// KVDB defines an interface for versioned key-value database implementations.
//
// Every write carries a writeIndex (the position of the write in the replicated log)
// and a logical timestamp now (unix milliseconds, chosen by whoever ordered the write).
// Implementations must never read the wall clock, so that applying the same sequence
// of writes on two instances produces the same state.
type KVDB interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Put inserts or overwrites the record for key and returns the new record.
	// The version of the new record is the last version of the key + 1. Versions are
	// never reused: a key that was deleted or expired continues after its last version. expireAt=0 means the record never expires.
	// A write with a writeIndex <= the index of the stored record is ignored and the
	// stored record is returned.
	Put(key string, value []byte, expireAt, writeIndex, now uint64) (record Record)

	// CompareAndSwap writes the record only if the current version equals expected.
	// expected=0 means the key must not exist. On a mismatch the current record is
	// returned (zero value if absent) together with false.
	CompareAndSwap(key string, expected uint64, value []byte, expireAt, writeIndex, now uint64) (record Record, ok bool)

	// Delete removes the record for key and reports whether it existed.
	Delete(key string, writeIndex, now uint64) (existed bool)

	// CompareAndDelete removes the record only if its version equals expected.
	// On a mismatch the current record is returned together with false.
	CompareAndDelete(key string, expected uint64, writeIndex, now uint64) (record Record, ok bool)

	// GarbageCollect advances the logical clock to now and physically removes every
	// record with ExpireAt <= now. It returns the number of removed records.
	GarbageCollect(now uint64) (removed int)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get returns the record for key. Records that are expired at now are never returned,
	// even if they were not garbage collected yet.
	// Get is safe to call concurrently with writes.
	Get(key string, now uint64) (record Record, loaded bool)

	// Len returns the number of stored records (including expired ones not yet collected).
	Len() int

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save persists the current state to the provided io.Writer.
	// The output only depends on the logical state, equal states produce equal bytes.
	Save(w io.Writer) (err error)

	// Load replaces the database state with data provided by an io.Reader.
	Load(r io.Reader) (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the database implementation supports the specified feature.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// --------------------------------------------------------------------------
	// Write Index and Clock
	// --------------------------------------------------------------------------

	// SetWriteIdx sets the current index of the database only if the provided index is greater than the current index.
	SetWriteIdx(index uint64)

	// WriteIdx returns the current index of the database.
	WriteIdx() (index uint64)

	// Clock returns the logical time (the highest now seen by a write or GarbageCollect).
	Clock() (now uint64)

	// Close releases the database.
	Close() (err error)
}
