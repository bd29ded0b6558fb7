package store

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/dMeta/lib/db"
	"github.com/ValentinKolb/dMeta/lib/raft"
	"github.com/cockroachdb/errors"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DBFactory is a function type that creates a new db used by the store.
// This is used to abstract the creation of the db from the store implementation.
type DBFactory func() db.KVDB

// ReadMode selects the consistency of a read
type ReadMode uint8

const (
	// ReadLinearizable reads reflect every write that completed before the read started
	ReadLinearizable ReadMode = iota
	// ReadStale reads the local state of the node without coordination
	ReadStale
)

func (m ReadMode) String() string {
	if m == ReadStale {
		return "stale"
	}
	return "linearizable"
}

// IStore is the generic interface for interacting with the replicated key–value store.
//
// All writes are ordered by the leader. A write on a node that is not the leader fails
// with RetCNotLeader and the Leader field of the error holds the address to retry on.
// A write that fails with RetCUnavailable may or may not have been applied.
type IStore interface {
	// Put inserts or updates a key–value pair and returns the new version of the key.
	// Versions start at 1 and are never reused, also not after a delete or expiry.
	Put(key string, value []byte) (version uint64, err error)
	// PutE is Put with a time to live. A zero ttl means the key never expires.
	PutE(key string, value []byte, ttl time.Duration) (version uint64, err error)
	// CompareAndSwap writes the value only if the current version of the key equals expected.
	// An expected version of 0 means that the key must not exist.
	// On a mismatch the error has code RetCVersionMismatch.
	CompareAndSwap(key string, expected uint64, value []byte) (version uint64, err error)
	// CompareAndSwapE is CompareAndSwap with a time to live.
	CompareAndSwapE(key string, expected uint64, value []byte, ttl time.Duration) (version uint64, err error)
	// Delete deletes a key and reports whether it existed.
	Delete(key string) (existed bool, err error)
	// CompareAndDelete deletes the key only if its current version equals expected.
	CompareAndDelete(key string, expected uint64) (err error)
	// Get returns the value and version of a key. The boolean return value indicates
	// whether the key was found.
	Get(key string, mode ReadMode) (value []byte, version uint64, loaded bool, err error)
	// GetDBInfo returns metadata about the database underlying the store.
	// It is not guaranteed that all fields are filled in or that the information is up-to-date!
	GetDBInfo() (info db.DatabaseInfo, err error)
}

// ClusterStatus describes a node and the cluster as the node sees it
type ClusterStatus struct {
	Node raft.Status     `json:"node"`
	DB   db.DatabaseInfo `json:"db"`
}

// ICluster manages the membership of the cluster. Join and Leave must be called on the leader.
type ICluster interface {
	// Join adds a node (with an empty state) to the cluster and returns once it is a voter.
	Join(id uint64, addr string) (err error)
	// Leave removes a node from the cluster.
	Leave(id uint64) (err error)
	// Status returns the status of the node.
	Status() (status ClusterStatus, err error)
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message. For RetCNotLeader, Leader holds the address of the
// leader (empty if unknown).
type Error struct {
	Code   RetCode // The return code
	Msg    string  // The error message.
	Leader string  // The leader address (only for RetCNotLeader)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code == RetCNotLeader && e.Leader != "" {
		return fmt.Sprintf("KVStoreError (code %s): %s (leader: %s)", e.Code, e.Msg, e.Leader)
	}
	return fmt.Sprintf("KVStoreError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new KVStoreError with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// NewNotLeaderError creates an error that redirects the caller to the leader
func NewNotLeaderError(leader string) *Error {
	return &Error{
		Code:   RetCNotLeader,
		Msg:    "node is not the leader",
		Leader: leader,
	}
}

// CodeOf returns the code of a (wrapped) *Error, RetCSuccess for nil and
// RetCInternalError for any other error
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return RetCInternalError
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying database.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCNotLeader                           // 4: The node is not the leader.
	RetCVersionMismatch                     // 5: The expected version did not match.
	RetCUnavailable                         // 6: The cluster could not complete the request, the outcome is unknown.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCNotLeader:
		return "NotLeader"
	case RetCVersionMismatch:
		return "VersionMismatch"
	case RetCUnavailable:
		return "Unavailable"
	default:
		return fmt.Sprintf("Unknown(%d)", uint64(c))
	}
}
