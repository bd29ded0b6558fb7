// Package common provides core data structures and utilities shared across
// the rpc packages of dMeta. It defines the message protocol, the configuration
// structures and the logger used by the other packages.
//
// Key Components:
//
//   - Message: Core data structure for all RPC communication, with a flexible
//     structure that adapts to different operation types. Errors of the store
//     travel as Code, Err and Leader and are rebuilt with Message.Error.
//     Includes factory methods for the request and response messages.
//
//   - MessageType: Enumeration of all supported operations, grouped into key-value,
//     lock, cluster and raft messages. Service ids route a message to a service.
//
//   - ServerConfig: Configuration of a node, including raft timings, storage
//     settings and cluster formation. Converts itself to a raft.Config.
//
//   - ClientConfig: Configuration for client components, controlling connection
//     parameters, timeouts, and retry behavior.
//
//   - Logger: Custom implementation of the dragonboat logger interface that gives
//     all packages the same format.
package common
