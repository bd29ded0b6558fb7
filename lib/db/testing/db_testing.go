package testing

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/dMeta/lib/db"
)

// DBFactory is a function that creates a new instance of a KVDB implementation
type DBFactory func() db.KVDB

// RunKVDBTests runs a comprehensive test suite for a KVDB implementation.
func RunKVDBTests(t *testing.T, name string, factory DBFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Put&Get", func(t *testing.T) {
			testPutGet(t, factory())
		})

		t.Run("CompareAndSwap", func(t *testing.T) {
			testCompareAndSwap(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("CompareAndDelete", func(t *testing.T) {
			testCompareAndDelete(t, factory())
		})

		t.Run("StaleWrites", func(t *testing.T) {
			testStaleWrites(t, factory())
		})

		t.Run("KeyExpiry", func(t *testing.T) {
			testKeyExpiry(t, factory())
		})

		t.Run("ManyExpiringKeys", func(t *testing.T) {
			testManyExpiringKeys(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("DeterministicSave", func(t *testing.T) {
			testDeterministicSave(t, factory)
		})

		t.Run("VersionsNeverRepeat", func(t *testing.T) {
			testVersionsNeverRepeat(t, factory())
		})

		t.Run("ConcurrentReads", func(t *testing.T) {
			testConcurrentReads(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Checks if the database supports the specified feature
// Skip the test if it is not supported
func requireFeature(t testing.TB, database db.KVDB, feature db.Feature) {
	if !database.SupportsFeature(feature) {
		t.Skip()
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut|db.FeatureGet)

	rec := database.Put("x", []byte("1"), 0, 1, 1000)
	if rec.Version != 1 {
		t.Errorf("Expected version 1 after first Put, got %d", rec.Version)
	}

	got, ok := database.Get("x", 1000)
	if !ok {
		t.Fatalf("Expected key x to exist after Put")
	}
	if !bytes.Equal(got.Value, []byte("1")) || got.Version != 1 || got.Index != 1 {
		t.Errorf("Unexpected record %+v", got)
	}

	rec = database.Put("x", []byte("2"), 0, 2, 1000)
	if rec.Version != 2 {
		t.Errorf("Expected version 2 after second Put, got %d", rec.Version)
	}

	if _, ok := database.Get("missing", 1000); ok {
		t.Errorf("Expected missing key to return loaded=false")
	}

	// Get returns a copy
	got, _ = database.Get("x", 1000)
	got.Value[0] = 'X'
	again, _ := database.Get("x", 1000)
	if !bytes.Equal(again.Value, []byte("2")) {
		t.Errorf("Get should return a copy, stored value changed to %s", again.Value)
	}

	// Put copies the input
	input := []byte("abc")
	database.Put("y", input, 0, 3, 1000)
	input[0] = 'X'
	stored, _ := database.Get("y", 1000)
	if !bytes.Equal(stored.Value, []byte("abc")) {
		t.Errorf("Put should copy the value, got %s", stored.Value)
	}

	if database.WriteIdx() != 3 {
		t.Errorf("Expected write index 3, got %d", database.WriteIdx())
	}
	if database.Len() != 2 {
		t.Errorf("Expected 2 records, got %d", database.Len())
	}
}

func testCompareAndSwap(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureCompareAndSwap|db.FeatureGet)

	// expected version 0 means "must not exist"
	rec, ok := database.CompareAndSwap("x", 0, []byte("1"), 0, 1, 1000)
	if !ok || rec.Version != 1 {
		t.Fatalf("CAS on absent key with expected=0 should create version 1, got %+v ok=%v", rec, ok)
	}
	if _, ok := database.CompareAndSwap("x", 0, []byte("other"), 0, 2, 1000); ok {
		t.Errorf("CAS with expected=0 must fail on an existing key")
	}

	rec, ok = database.CompareAndSwap("x", 1, []byte("2"), 0, 3, 1000)
	if !ok || rec.Version != 2 {
		t.Fatalf("CAS with matching version should succeed with version 2, got %+v ok=%v", rec, ok)
	}

	// stale expectation: the current record is returned unchanged
	rec, ok = database.CompareAndSwap("x", 1, []byte("3"), 0, 4, 1000)
	if ok {
		t.Fatalf("CAS with expected=1 should fail when version is 2")
	}
	if rec.Version != 2 || !bytes.Equal(rec.Value, []byte("2")) {
		t.Errorf("Failed CAS should return the current record, got %+v", rec)
	}

	got, _ := database.Get("x", 1000)
	if got.Version != 2 || !bytes.Equal(got.Value, []byte("2")) {
		t.Errorf("Record changed by a failed CAS: %+v", got)
	}

	if _, ok := database.CompareAndSwap("absent", 5, []byte("v"), 0, 5, 1000); ok {
		t.Errorf("CAS with expected=5 on absent key must fail")
	}
}

func testDelete(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureDelete|db.FeaturePut)

	database.Put("x", []byte("1"), 0, 1, 1000)
	database.Put("x", []byte("2"), 0, 2, 1000)

	if !database.Delete("x", 3, 1000) {
		t.Errorf("Delete of existing key should return true")
	}
	if _, ok := database.Get("x", 1000); ok {
		t.Errorf("Key should not exist after Delete")
	}
	if database.Delete("x", 4, 1000) {
		t.Errorf("Delete of missing key should return false")
	}

	// a re-created key continues after the last version it had
	rec := database.Put("x", []byte("3"), 0, 5, 1000)
	if rec.Version != 3 {
		t.Errorf("Expected version 3 after re-create, got %d", rec.Version)
	}
}

func testCompareAndDelete(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureCompareAndDelete|db.FeaturePut)

	database.Put("x", []byte("1"), 0, 1, 1000)
	database.Put("x", []byte("2"), 0, 2, 1000)

	rec, ok := database.CompareAndDelete("x", 1, 3, 1000)
	if ok {
		t.Fatalf("CompareAndDelete with a stale version must fail")
	}
	if rec.Version != 2 {
		t.Errorf("Failed CompareAndDelete should return current version 2, got %d", rec.Version)
	}

	if _, ok := database.CompareAndDelete("x", 2, 4, 1000); !ok {
		t.Fatalf("CompareAndDelete with the current version should succeed")
	}
	if _, ok := database.Get("x", 1000); ok {
		t.Errorf("Key should be gone after CompareAndDelete")
	}
	if _, ok := database.CompareAndDelete("x", 0, 5, 1000); ok {
		t.Errorf("CompareAndDelete on a missing key must fail")
	}
}

func testStaleWrites(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut|db.FeatureCompareAndSwap)

	database.Put("x", []byte("1"), 0, 10, 1000)

	// re-applying the same or an older index does not change anything
	rec := database.Put("x", []byte("1"), 0, 10, 1000)
	if rec.Version != 1 {
		t.Errorf("Re-applied Put must be ignored, version is %d", rec.Version)
	}
	database.Put("x", []byte("old"), 0, 5, 1000)
	if _, ok := database.CompareAndSwap("x", 1, []byte("old"), 0, 9, 1000); ok {
		t.Errorf("CAS with an older index must be ignored")
	}
	if database.Delete("x", 8, 1000) {
		t.Errorf("Delete with an older index must be ignored")
	}

	got, ok := database.Get("x", 1000)
	if !ok || got.Version != 1 || !bytes.Equal(got.Value, []byte("1")) {
		t.Errorf("Stale writes changed the record: %+v", got)
	}
	if database.WriteIdx() != 10 {
		t.Errorf("Write index must not move backwards, got %d", database.WriteIdx())
	}
}

func testKeyExpiry(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureExpire|db.FeatureGarbageCollect)

	database.Put("ttl", []byte("v"), 2000, 1, 1000)
	database.Put("keep", []byte("v"), 0, 2, 1000)

	if _, ok := database.Get("ttl", 1999); !ok {
		t.Errorf("Key should be visible before its expiry")
	}
	if _, ok := database.Get("ttl", 2000); ok {
		t.Errorf("Key should be invisible at its expiry time")
	}

	// expired but not collected: the key does not exist, its version is not reused
	rec, ok := database.CompareAndSwap("ttl", 0, []byte("new"), 3000, 3, 2500)
	if !ok || rec.Version != 2 {
		t.Errorf("CAS(expected=0) on expired key should create version 2, got %+v ok=%v", rec, ok)
	}

	if removed := database.GarbageCollect(2999); removed != 0 {
		t.Errorf("Nothing should be collected at 2999, removed %d", removed)
	}
	if removed := database.GarbageCollect(3000); removed != 1 {
		t.Errorf("Expected 1 collected key at 3000, removed %d", removed)
	}
	if database.Len() != 1 {
		t.Errorf("Expected only 'keep' to remain, have %d records", database.Len())
	}
	if database.Clock() != 3000 {
		t.Errorf("Expected clock 3000, got %d", database.Clock())
	}

	// overwriting without ttl removes the expiry
	database.Put("keep", []byte("v2"), 4000, 4, 3000)
	database.Put("keep", []byte("v3"), 0, 5, 3000)
	database.GarbageCollect(5000)
	if _, ok := database.Get("keep", 5000); !ok {
		t.Errorf("Key without ttl must not be collected")
	}
}

func testManyExpiringKeys(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureExpire|db.FeatureGarbageCollect)

	const numKeys = 1000
	for i := 0; i < numKeys; i++ {
		database.Put(fmt.Sprintf("key-%d", i), []byte("v"), uint64(1000+i), uint64(i+1), 0)
	}

	removed := database.GarbageCollect(1000 + numKeys/2 - 1)
	if removed != numKeys/2 {
		t.Errorf("Expected %d collected keys, got %d", numKeys/2, removed)
	}
	if database.Len() != numKeys/2 {
		t.Errorf("Expected %d remaining keys, got %d", numKeys/2, database.Len())
	}
	for i := numKeys / 2; i < numKeys; i++ {
		if _, ok := database.Get(fmt.Sprintf("key-%d", i), 1000+numKeys/2-1); !ok {
			t.Fatalf("key-%d should still exist", i)
		}
	}
}

func testSaveLoad(t *testing.T, factory DBFactory) {
	source := factory()
	defer source.Close()

	requireFeature(t, source, db.FeatureSave|db.FeatureLoad)

	source.Put("a", []byte("1"), 0, 1, 1000)
	source.Put("a", []byte("2"), 0, 2, 1000)
	source.Put("b", []byte("x"), 5000, 3, 1000)
	source.Put("gone", []byte("x"), 1100, 4, 1000)
	source.Put("c", []byte{}, 0, 5, 1200)

	var buf bytes.Buffer
	if err := source.Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	target := factory()
	defer target.Close()
	target.Put("stale", []byte("x"), 0, 1, 0)

	if err := target.Load(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if target.WriteIdx() != 5 || target.Clock() != 1200 {
		t.Errorf("Expected write index 5 and clock 1200, got %d and %d", target.WriteIdx(), target.Clock())
	}
	if _, ok := target.Get("stale", 1200); ok {
		t.Errorf("Load must replace the previous content")
	}
	if _, ok := target.Get("gone", 1200); ok {
		t.Errorf("Expired records must not be restored")
	}

	for _, key := range []string{"a", "b", "c"} {
		want, _ := source.Get(key, 1200)
		got, ok := target.Get(key, 1200)
		if !ok {
			t.Errorf("Key %s missing after Load", key)
			continue
		}
		if !bytes.Equal(want.Value, got.Value) || want.Version != got.Version || want.ExpireAt != got.ExpireAt || want.Index != got.Index {
			t.Errorf("Key %s: expected %+v, got %+v", key, want, got)
		}
	}

	// removed keys keep their last version across Save and Load
	if rec := target.Put("gone", []byte("y"), 0, 6, 1200); rec.Version != 2 {
		t.Errorf("Re-created expired key after Load: expected version 2, got %d", rec.Version)
	}

	// the expiry of loaded records is tracked again
	if removed := target.GarbageCollect(5000); removed != 1 {
		t.Errorf("Expected the restored ttl record to be collected, removed %d", removed)
	}

	if err := target.Load(bytes.NewReader([]byte("garbage"))); err == nil {
		t.Errorf("Load of invalid data should fail")
	}
}

func testDeterministicSave(t *testing.T, factory DBFactory) {
	apply := func(database db.KVDB) []byte {
		for i := 0; i < 200; i++ {
			key := fmt.Sprintf("key-%d", i%37)
			database.Put(key, []byte(fmt.Sprint(i)), 0, uint64(i+1), uint64(1000+i))
		}
		database.Delete("key-3", 1000, 2000)
		var buf bytes.Buffer
		if err := database.Save(&buf); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		return buf.Bytes()
	}

	first, second := factory(), factory()
	defer first.Close()
	defer second.Close()

	requireFeature(t, first, db.FeatureSave)

	if !bytes.Equal(apply(first), apply(second)) {
		t.Errorf("Equal states must produce equal images")
	}
}

// A lock taken, expired and taken again by someone else must not be removable
// with the version of the first incarnation.
func testVersionsNeverRepeat(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeatureCompareAndSwap|db.FeatureCompareAndDelete|db.FeatureExpire|db.FeatureGarbageCollect)

	first, ok := database.CompareAndSwap("lock", 0, []byte("A"), 1100, 1, 1000)
	if !ok {
		t.Fatalf("first CAS(expected=0) failed")
	}

	// expired, not yet collected
	second, ok := database.CompareAndSwap("lock", 0, []byte("B"), 5000, 2, 1200)
	if !ok || second.Version <= first.Version {
		t.Fatalf("second owner got version %d after %d, ok=%v", second.Version, first.Version, ok)
	}
	if _, ok := database.CompareAndDelete("lock", first.Version, 3, 1300); ok {
		t.Fatalf("stale CompareAndDelete removed the lock of the second owner")
	}

	// expired and collected
	database.Put("lock", []byte("C"), 1400, 4, 1300)
	database.GarbageCollect(1500)
	third, ok := database.CompareAndSwap("lock", 0, []byte("D"), 0, 5, 1500)
	if !ok || third.Version != second.Version+2 {
		t.Fatalf("version after collect = %d, want %d", third.Version, second.Version+2)
	}

	// deleted
	if _, ok := database.CompareAndDelete("lock", third.Version, 6, 1500); !ok {
		t.Fatalf("CompareAndDelete with the current version failed")
	}
	fourth, ok := database.CompareAndSwap("lock", 0, []byte("E"), 0, 7, 1500)
	if !ok || fourth.Version != third.Version+1 {
		t.Fatalf("version after delete = %d, want %d", fourth.Version, third.Version+1)
	}
	if _, ok := database.CompareAndSwap("lock", third.Version, []byte("F"), 0, 8, 1500); ok {
		t.Errorf("CAS with the version of a deleted incarnation succeeded")
	}

	// replaying the delete does not remove the new incarnation
	if database.Delete("lock", 6, 1500) {
		t.Errorf("replayed Delete removed the re-created key")
	}
}

func testConcurrentReads(t *testing.T, database db.KVDB) {
	defer database.Close()

	requireFeature(t, database, db.FeaturePut|db.FeatureGet)

	const writes = 2000
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var lastVersion uint64
			for {
				select {
				case <-stop:
					return
				default:
				}
				if rec, ok := database.Get("counter", 0); ok {
					if rec.Version < lastVersion {
						t.Errorf("Version went backwards: %d < %d", rec.Version, lastVersion)
						return
					}
					lastVersion = rec.Version
				}
			}
		}()
	}

	for i := 1; i <= writes; i++ {
		database.Put("counter", []byte(fmt.Sprint(i)), 0, uint64(i), 0)
	}
	close(stop)
	wg.Wait()

	rec, _ := database.Get("counter", 0)
	if rec.Version != writes {
		t.Errorf("Expected version %d, got %d", writes, rec.Version)
	}
}
