package util

import (
	"reflect"
	"testing"
)

func TestNewMapHeap(t *testing.T) {
	mh := NewMapHeap[string]()
	if mh.Len() != 0 {
		t.Errorf("New heap should be empty, but has length %d", mh.Len())
	}
	if _, ok := mh.Peek(); ok {
		t.Error("Peek on empty heap should return false")
	}
}

func TestAddAndUpdateItem(t *testing.T) {
	mh := NewMapHeap[string]()
	mh.AddItem("a", 100)
	mh.AddItem("b", 200)
	mh.AddItem("c", 50)

	if mh.Len() != 3 {
		t.Fatalf("Heap should have 3 items, but has %d", mh.Len())
	}
	it, _ := mh.Peek()
	if it.Key != "c" || it.Priority != 50 {
		t.Errorf("Expected min item to be (c,50), got %v", it)
	}

	// moving c behind the others
	mh.AddItem("c", 300)
	it, _ = mh.Peek()
	if it.Key != "a" {
		t.Errorf("Expected min item a after update, got %v", it)
	}
	if mh.Len() != 3 {
		t.Errorf("Update must not add an item, len %d", mh.Len())
	}
}

func TestRemoveByKey(t *testing.T) {
	mh := NewMapHeap[string]()
	mh.AddItem("a", 1)
	mh.AddItem("b", 2)

	prio, ok := mh.RemoveByKey("a")
	if !ok || prio != 1 {
		t.Errorf("RemoveByKey(a) = (%d, %v), want (1, true)", prio, ok)
	}
	if mh.Contains("a") {
		t.Error("a should be removed")
	}
	if _, ok := mh.RemoveByKey("missing"); ok {
		t.Error("RemoveByKey on missing key should return false")
	}
	if it, ok := mh.GetByKey("b"); !ok || it.Priority != 2 {
		t.Errorf("GetByKey(b) = %v, %v", it, ok)
	}
}

// TestPopUntil checks priority order and the key tie-break
func TestPopUntil(t *testing.T) {
	mh := NewMapHeap[string]()
	mh.AddItem("z", 10)
	mh.AddItem("y", 10)
	mh.AddItem("x", 30)
	mh.AddItem("w", 5)

	got := mh.PopUntil(10)
	want := []string{"w", "y", "z"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("PopUntil(10) = %v, want %v", got, want)
	}
	if mh.Len() != 1 || !mh.Contains("x") {
		t.Errorf("Only x should remain, len %d", mh.Len())
	}
	if got := mh.PopUntil(29); got != nil {
		t.Errorf("PopUntil(29) = %v, want nil", got)
	}
}
