// Package logstore implements the durable storage of a consensus node on top of
// cockroachdb/pebble: the log entries, the hard state (term, vote) and the latest
// snapshot.
//
// Key layout:
//
//	0x01 'h'              -> hard state
//	0x01 's'              -> latest snapshot (metadata + compressed image)
//	0x02 <index big endian> -> log entry
//
// Every mutation is a single pebble batch committed with Sync, so a call that
// returned is durable, and a crash in the middle of a truncation cannot bring back
// entries (the batch is either applied completely or not at all).
//
// Errors caused by the storage engine are marked with ErrStorage. The consensus
// node treats them as fatal.
package logstore
