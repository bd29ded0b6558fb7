// Package cmd implements the command-line interface of dMeta. It provides a
// hierarchical command structure with operations for running a node and
// interacting with a cluster as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a dMeta node (new cluster, join or restart)
//   - kv: Commands for key-value store operations (put, get, cas, del, ...) and a benchmark
//   - lock: Commands for locking operations (acquire, release)
//   - cluster: Commands for membership changes (join, leave) and the status of a node
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dmeta --help for a list of all commands.
package cmd
