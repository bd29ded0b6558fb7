// Package http implements the RPC transport over HTTP. Every request is a POST to
// /{serviceId} with the serialized message as body.
//
// Key Components:
//
//   - httpClientTransport: Implements IRPCClientTransport. Send distributes requests
//     round-robin over the configured endpoints, SendTo posts to any endpoint
//     (host:port endpoints get the http scheme).
//
//   - httpServerTransport: Implements IRPCServerTransport. Besides the RPC endpoint
//     it serves the registered metrics at GET /metrics in the Prometheus text format.
//
// Thread Safety:
//
//	The client transport is safe for concurrent use after Connect.
package http
