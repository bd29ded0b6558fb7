// Package rpc is the communication layer of dMeta. Clients use it to talk to the
// nodes of a cluster and the nodes use it to talk to each other: raft messages
// travel over the same transports and serializers as client requests.
//
// The package is organized into several subpackages:
//
//   - common: The Message protocol, service ids, configuration structures and logging.
//
//   - transport: Network communication abstractions with pluggable implementations
//     (TCP, Unix sockets, HTTP).
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB)
//     for converting between Message objects and byte arrays.
//
//   - client: RPC clients for the store, lock manager and cluster interfaces, and
//     the raft transport of a node.
//
//   - server: A dMeta node with the adapters that serve the store, lock, cluster
//     and raft services.
package rpc
