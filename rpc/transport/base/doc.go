// Package base implements the framed RPC protocol on top of any net.Conn. The tcp
// and unix packages extend it with protocol-specific connectors.
//
// Frames:
//
//	Every request and response is one frame: service id (8 bytes), request id
//	(8 bytes), payload length (4 bytes), payload. The response carries the id of
//	its request, so many requests can be in flight on one connection and their
//	responses may arrive in any order.
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations.
//
//   - clientTransport: Keeps a pool of ConnectionsPerEndpoint connections for every
//     endpoint it talks to. Pools of the configured endpoints are filled by Connect,
//     pools of other endpoints (leader hints, raft peers) on first use. A broken
//     connection fails its waiting requests and is re-established by the next request.
//
//   - serverTransport: Accepts connections and passes every frame to the handler.
//     At most WorkersPerConn requests of one connection are handled concurrently.
//
// Performance Optimizations:
//
//   - Buffer Pooling: The server reuses read buffers through a sync.Pool.
//
//   - Frame Batching: Header and payload are written with a single net.Buffers write.
//
// Thread Safety:
//
//	All public methods are thread-safe.
package base
