// Package transport defines the interfaces of the RPC transport layer. Transports
// move opaque byte frames, addressed to a service id, between clients and servers.
//
// Key Components:
//
//   - IRPCClientTransport: Client side, manages connections and sends requests to
//     any configured endpoint (round-robin) or to a specific one (leader hints,
//     messages to other raft nodes).
//
//   - IRPCServerTransport: Server side, receives requests and passes them to the
//     registered ServerHandleFunc.
//
// Implementations: base (framed protocol over any net.Conn), tcp, unix and http.
package transport
