package testing

import (
	"bytes"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dMeta/lib/db"
)

// RunKVDBBenchmarks runs all benchmarks for a key-value database implementation
func RunKVDBBenchmarks(b *testing.B, name string, factory DBFactory) {
	b.Run(name, func(b *testing.B) {
		b.Run("Put", func(b *testing.B) {
			benchmarkPut(b, factory())
		})

		b.Run("PutWithExpiry", func(b *testing.B) {
			benchmarkPutWithExpiry(b, factory())
		})

		b.Run("CompareAndSwap", func(b *testing.B) {
			benchmarkCompareAndSwap(b, factory())
		})

		b.Run("Get", func(b *testing.B) {
			benchmarkGet(b, factory())
		})

		b.Run("SaveLoad", func(b *testing.B) {
			benchmarkSaveLoad(b, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Benchmark functions
// --------------------------------------------------------------------------

// writes are serialized by the apply loop, so write benchmarks are sequential
func benchmarkPut(b *testing.B, database db.KVDB) {
	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeaturePut)

	value := []byte("test-value")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		database.Put(fmt.Sprintf("test-key-%d", i%10000), value, 0, uint64(i+1), 0)
	}
}

func benchmarkPutWithExpiry(b *testing.B, database db.KVDB) {
	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeaturePut|db.FeatureExpire|db.FeatureGarbageCollect)

	value := []byte("test-value")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		now := uint64(i)
		database.GarbageCollect(now)
		database.Put(fmt.Sprintf("test-key-%d", i), value, now+1000, uint64(i+1), now)
	}
}

func benchmarkCompareAndSwap(b *testing.B, database db.KVDB) {
	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeatureCompareAndSwap)

	value := []byte("test-value")
	var version uint64
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rec, ok := database.CompareAndSwap("lock", version, value, 0, uint64(i+1), 0)
		if !ok {
			b.Fatalf("CAS failed at version %d", version)
		}
		version = rec.Version
	}
}

// reads run in parallel, as they do on a serving node
func benchmarkGet(b *testing.B, database db.KVDB) {
	b.Cleanup(func() {
		database.Close()
	})

	requireFeature(b, database, db.FeaturePut|db.FeatureGet)

	const numKeys = 10000
	for i := 0; i < numKeys; i++ {
		database.Put(fmt.Sprintf("test-key-%d", i), []byte(fmt.Sprintf("test-value-%d", i)), 0, uint64(i+1), 0)
	}

	var counter atomic.Int64
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			n := counter.Add(1)
			database.Get(fmt.Sprintf("test-key-%d", n%numKeys), 0)
		}
	})
}

func benchmarkSaveLoad(b *testing.B, factory DBFactory) {
	source := factory()
	b.Cleanup(func() {
		source.Close()
	})

	requireFeature(b, source, db.FeatureSave|db.FeatureLoad)

	for i := 0; i < 100000; i++ {
		source.Put(fmt.Sprintf("test-key-%d", i), []byte(fmt.Sprintf("test-value-%d", i)), 0, uint64(i+1), 0)
	}

	var buf bytes.Buffer
	b.Run("Save", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			buf.Reset()
			if err := source.Save(&buf); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("Load", func(b *testing.B) {
		target := factory()
		defer target.Close()
		for i := 0; i < b.N; i++ {
			if err := target.Load(bytes.NewReader(buf.Bytes())); err != nil {
				b.Fatal(err)
			}
		}
	})
}
