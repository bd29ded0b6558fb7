// Package raft implements the consensus core of a dMeta node: leader election,
// log replication, commit and apply, snapshots, read index and joint consensus
// membership changes.
//
// A Node runs a single event loop that owns all consensus state (term, vote, log,
// commit index, membership and the state machine). Everything else talks to the
// loop by pushing events into its inbox:
//
//   - inbound RPCs from other nodes (Step)
//   - client operations (Propose, ReadIndex, AddNode, RemoveNode)
//   - responses of outbound RPCs, which run on worker goroutines
//   - completed background work (snapshot compression)
//
// Timers are driven by one ticker and monotonic deadlines. Nothing but the loop
// mutates node state, so the handlers can be read as sequential code.
//
// Durability: the hard state is written before a vote is granted and before entries
// of a new term are appended, log entries are written before they are acknowledged.
// A failing write stops the node (see Done and Err).
//
// Membership changes use two configuration entries (joint, then final). A
// configuration takes effect as soon as it is appended to the log, and a node that
// joins is first replicated to as a non-voting learner until it caught up.
package raft
