// Package internal provides the command structure and serialization logic for the
// dstore package. It defines the format of the entries the store proposes to the
// replicated log.
//
// This package is intended for internal use by the dstore implementation and should
// not be imported directly by external code.
//
// Commands define write operations (Put, CompareAndSwap, Delete, ...) that modify the
// state of the database. Commands are serialized and proposed to the RAFT cluster,
// executed on the state machine of every node, and produce results (a return code
// plus ResultData) that are returned to the proposer. Reads never go through the log.
//
// Command Format:
//
//	- 1 byte: Command type
//	- 8 bytes: Timestamp (unix ms chosen by the leader, big endian)
//	- 8 bytes: Expected version (big endian)
//	- 8 bytes: Time to live in ms (big endian)
//	- 4 bytes: Key length (uint32, big endian)
//	- N bytes: Key data (string as byte array)
//	- M bytes: Value data (optional, only present for Put-type operations)
//
//	The timestamp is the logical clock of the command. The state machine uses it to
//	compute expiry times and to expire keys, so all replicas expire a key at the same
//	position in the log without reading their own clocks.
package internal
