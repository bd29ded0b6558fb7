// Package testing provides standardised tests and benchmarks for
// database implementations that satisfy the db.KVDB interface.
//
// The package contains:
//   - testing: a test suite for the KVDB contract (versions, compare-and-swap,
//     stale write detection, expiry, deterministic persistence)
//   - benchmark: throughput of the common database operations
//
// Example usage:
//
//	factory := func() db.KVDB {
//		return NewMyDatabase()
//	}
//
//	dbtesting.RunKVDBTests(t, "MyDatabase", factory)
//	dbtesting.RunKVDBBenchmarks(b, "MyDatabase", factory)
package testing
