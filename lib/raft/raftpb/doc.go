// Package raftpb defines the data exchanged and persisted by the consensus node:
// log entries, the hard state, the membership configuration, snapshots and the
// messages sent between nodes.
//
// All types have a compact binary encoding (big endian, length prefixed) that is
// used both for the durable log store and for the wire. The encoding of a value is
// deterministic, in particular memberships are encoded with sorted node ids, so the
// same log entry has the same bytes on every node.
package raftpb
