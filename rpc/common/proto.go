package common

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ValentinKolb/dMeta/lib/store"
	"github.com/cockroachdb/errors"
)

// --------------------------------------------------------------------------
// Services
// --------------------------------------------------------------------------

// Every frame is routed to a service by its id
const (
	ServiceStore   uint64 = 100 // store.IStore
	ServiceLock    uint64 = 200 // lockmgr.ILockManager
	ServiceCluster uint64 = 300 // store.ICluster
	ServiceRaft    uint64 = 400 // messages between raft nodes
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// General fields
	Key     string `json:"key,omitempty"`     // Used for: all kv and lock operations
	Value   []byte `json:"value,omitempty"`   // Used for: Put, CAS (request), Get (response), Acquire (response), Release (request)
	Version uint64 `json:"version,omitempty"` // Expected version (CAS, CAD request), version of the key (responses)
	TTL     uint64 `json:"ttl,omitempty"`     // Time to live in ms, used for: PutE, CASE, Acquire
	Stale   bool   `json:"stale,omitempty"`   // Used for: Get (allow a stale read)
	NodeID  uint64 `json:"node_id,omitempty"` // Used for: Join, Leave
	Addr    string `json:"addr,omitempty"`    // Used for: Join

	// Response only fields
	Ok     bool          `json:"ok,omitempty"`     // Used for: Get, Delete, Acquire, Release responses
	Code   store.RetCode `json:"code,omitempty"`   // Return code if the request failed
	Err    string        `json:"err,omitempty"`    // Empty if no error, otherwise contains the error message
	Leader string        `json:"leader,omitempty"` // Leader address for RetCNotLeader

	// Meta holds an encoded raft message or the json encoded status / db info
	Meta []byte `json:"meta,omitempty"`
}

// SetError stores err in the message. Errors of type *store.Error keep their
// code and leader hint, any other error becomes an internal error.
func (m *Message) SetError(err error) *Message {
	if err == nil {
		return m
	}
	var e *store.Error
	if errors.As(err, &e) {
		m.Code, m.Err, m.Leader = e.Code, e.Msg, e.Leader
	} else {
		m.Code, m.Err = store.RetCInternalError, err.Error()
	}
	return m
}

// Error rebuilds the error carried by the message, nil if there is none
func (m *Message) Error() error {
	if m.MsgType != MsgTError && m.Err == "" && m.Code == store.RetCSuccess {
		return nil
	}
	code := m.Code
	if code == store.RetCSuccess {
		code = store.RetCInternalError
	}
	return &store.Error{Code: code, Msg: m.Err, Leader: m.Leader}
}

// ttlMillis converts a ttl to the ms of the wire format, a positive ttl below
// one ms is rounded up
func ttlMillis(ttl time.Duration) uint64 {
	if ttl <= 0 {
		return 0
	}
	return uint64(max(ttl.Milliseconds(), 1))
}

// TTLDuration returns the TTL field as duration
func (m *Message) TTLDuration() time.Duration {
	return time.Duration(m.TTL) * time.Millisecond
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewPutRequest creates a new Put request
func NewPutRequest(key string, value []byte) *Message {
	return &Message{MsgType: MsgTKVPut, Key: key, Value: value}
}

// NewPutERequest creates a new PutE request
func NewPutERequest(key string, value []byte, ttl time.Duration) *Message {
	return &Message{MsgType: MsgTKVPutE, Key: key, Value: value, TTL: ttlMillis(ttl)}
}

// NewCompareAndSwapRequest creates a new CompareAndSwap request
func NewCompareAndSwapRequest(key string, expected uint64, value []byte) *Message {
	return &Message{MsgType: MsgTKVCompareAndSwap, Key: key, Version: expected, Value: value}
}

// NewCompareAndSwapERequest creates a new CompareAndSwapE request
func NewCompareAndSwapERequest(key string, expected uint64, value []byte, ttl time.Duration) *Message {
	return &Message{MsgType: MsgTKVCompareAndSwapE, Key: key, Version: expected, Value: value, TTL: ttlMillis(ttl)}
}

// NewDeleteRequest creates a new Delete request
func NewDeleteRequest(key string) *Message {
	return &Message{MsgType: MsgTKVDelete, Key: key}
}

// NewCompareAndDeleteRequest creates a new CompareAndDelete request
func NewCompareAndDeleteRequest(key string, expected uint64) *Message {
	return &Message{MsgType: MsgTKVCompareAndDelete, Key: key, Version: expected}
}

// NewGetRequest creates a new Get request
func NewGetRequest(key string, mode store.ReadMode) *Message {
	return &Message{MsgType: MsgTKVGet, Key: key, Stale: mode == store.ReadStale}
}

// NewDBInfoRequest creates a new DBInfo request
func NewDBInfoRequest() *Message {
	return &Message{MsgType: MsgTKVDBInfo}
}

// NewVersionResponse creates the response of a write that returns a version
func NewVersionResponse(t MessageType, version uint64, err error) *Message {
	msg := &Message{MsgType: t, Version: version}
	return msg.SetError(err)
}

// NewOkResponse creates a response that only carries a boolean
func NewOkResponse(t MessageType, ok bool, err error) *Message {
	msg := &Message{MsgType: t, Ok: ok}
	return msg.SetError(err)
}

// NewGetResponse creates a new Get response
func NewGetResponse(value []byte, version uint64, ok bool, err error) *Message {
	msg := &Message{MsgType: MsgTKVGet, Value: value, Version: version, Ok: ok}
	return msg.SetError(err)
}

// NewMetaResponse creates a response with a payload in Meta
func NewMetaResponse(t MessageType, meta []byte, err error) *Message {
	msg := &Message{MsgType: t, Meta: meta}
	return msg.SetError(err)
}

// NewAcquireRequest creates a new Acquire request
func NewAcquireRequest(key string, ttl time.Duration) *Message {
	return &Message{MsgType: MsgTLCKAcquire, Key: key, TTL: ttlMillis(ttl)}
}

// NewAcquireResponse creates a new Acquire response
func NewAcquireResponse(ok bool, ownerID []byte, err error) *Message {
	msg := &Message{MsgType: MsgTLCKAcquire, Ok: ok, Value: ownerID}
	return msg.SetError(err)
}

// NewReleaseRequest creates a new Release request
func NewReleaseRequest(key string, ownerID []byte) *Message {
	return &Message{MsgType: MsgTLCKRelease, Key: key, Value: ownerID}
}

// NewJoinRequest creates a new Join request
func NewJoinRequest(id uint64, addr string) *Message {
	return &Message{MsgType: MsgTCLJoin, NodeID: id, Addr: addr}
}

// NewLeaveRequest creates a new Leave request
func NewLeaveRequest(id uint64) *Message {
	return &Message{MsgType: MsgTCLLeave, NodeID: id}
}

// NewStatusRequest creates a new Status request
func NewStatusRequest() *Message {
	return &Message{MsgType: MsgTCLStatus}
}

// NewRaftRequest wraps an encoded raft message
func NewRaftRequest(msg []byte) *Message {
	return &Message{MsgType: MsgTRaft, Meta: msg}
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Code:    store.RetCInvalidOperation,
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

var messageTypeNames = map[MessageType]string{
	MsgTSuccess:            "success",
	MsgTError:              "error",
	MsgTKVPut:              "put",
	MsgTKVPutE:             "putE",
	MsgTKVCompareAndSwap:   "cas",
	MsgTKVCompareAndSwapE:  "casE",
	MsgTKVDelete:           "delete",
	MsgTKVCompareAndDelete: "cad",
	MsgTKVGet:              "get",
	MsgTKVDBInfo:           "dbInfo",
	MsgTLCKAcquire:         "acquire",
	MsgTLCKRelease:         "release",
	MsgTCLJoin:             "join",
	MsgTCLLeave:            "leave",
	MsgTCLStatus:           "status",
	MsgTRaft:               "raft",
}

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for typ, name := range messageTypeNames {
		if name == s {
			*t = typ
			return nil
		}
	}
	return fmt.Errorf("unknown message type: %s", s)
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// IStore operations

	MsgTKVPut              // Put a key-value pair
	MsgTKVPutE             // Put a key-value pair with a ttl
	MsgTKVCompareAndSwap   // Put a key-value pair if the version matches
	MsgTKVCompareAndSwapE  // CompareAndSwap with a ttl
	MsgTKVDelete           // Delete a key-value pair
	MsgTKVCompareAndDelete // Delete a key-value pair if the version matches
	MsgTKVGet              // Get a value by key
	MsgTKVDBInfo           // Get information about the db of a node

	// ILockManager operations

	MsgTLCKAcquire // Acquire a lock
	MsgTLCKRelease // Release a lock

	// ICluster operations

	MsgTCLJoin   // Add a node to the cluster
	MsgTCLLeave  // Remove a node from the cluster
	MsgTCLStatus // Status of a node

	// Raft peer messages

	MsgTRaft
)
