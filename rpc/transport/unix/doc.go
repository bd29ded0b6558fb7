// Package unix implements the RPC transport over Unix domain sockets, for clients
// and nodes running on the same machine (e.g. a local test cluster, where every
// node listens on its own socket path and uses it as raft address).
//
// The package only provides the connectors, framing, connection pooling and
// request routing come from the base package.
//
// Performance Characteristics:
//
//   - Default buffer size: 64 KB, optimized for local communication patterns
//   - No TCP/IP stack processing, lower latency than tcp on loopback
package unix
