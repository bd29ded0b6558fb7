// Package util
//
// This file provides a priority queue with key based access.
//
// The queue combines a binary heap with a hash map. Priority operations (push,
// pop, update) are O(log n), lookups by key are O(1). The storage engine uses it
// to track record expiry: the key is the record key, the priority its expiry
// timestamp.
//
// Items with equal priority are ordered by key, so draining the queue is
// deterministic for a given content. The queue is not thread-safe.
//
// Example usage:
//
//	q := NewMapHeap[string]()
//	q.AddItem("a", 100)
//	q.AddItem("b", 50)
//	expired := q.PopUntil(60) // ["b"]
package util

import (
	"cmp"
	"container/heap"
	"fmt"
)

// Item is an entry of the MapHeap
type Item[K cmp.Ordered] struct {
	Key      K
	Priority uint64
	index    int
}

func (i *Item[K]) String() string {
	return fmt.Sprintf("{Key: %v, Priority: %d}", i.Key, i.Priority)
}

// MapHeap is a min-heap by priority with O(1) access by key
type MapHeap[K cmp.Ordered] struct {
	items    []*Item[K]
	itemsMap map[K]*Item[K]
}

// NewMapHeap creates a new, empty queue
func NewMapHeap[K cmp.Ordered]() *MapHeap[K] {
	return &MapHeap[K]{
		items:    make([]*Item[K], 0),
		itemsMap: make(map[K]*Item[K]),
	}
}

// Len returns the number of items in the queue (part of heap.Interface)
func (q *MapHeap[K]) Len() int { return len(q.items) }

// Less orders by priority, then by key (part of heap.Interface)
func (q *MapHeap[K]) Less(i, j int) bool {
	if q.items[i].Priority != q.items[j].Priority {
		return q.items[i].Priority < q.items[j].Priority
	}
	return q.items[i].Key < q.items[j].Key
}

// Swap exchanges items at positions i and j (part of heap.Interface)
func (q *MapHeap[K]) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

// Push adds an item to the heap (part of heap.Interface, use AddItem instead)
func (q *MapHeap[K]) Push(x any) {
	it := x.(*Item[K])
	it.index = len(q.items)
	q.items = append(q.items, it)
	q.itemsMap[it.Key] = it
}

// Pop removes and returns the minimum item (part of heap.Interface)
func (q *MapHeap[K]) Pop() any {
	old := q.items
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	q.items = old[:n-1]
	delete(q.itemsMap, it.Key)
	return it
}

// AddItem adds a new item or updates the priority of an existing one
func (q *MapHeap[K]) AddItem(key K, priority uint64) {
	if it, exists := q.itemsMap[key]; exists {
		it.Priority = priority
		heap.Fix(q, it.index)
		return
	}
	heap.Push(q, &Item[K]{Key: key, Priority: priority})
}

// RemoveByKey removes an item by its key and returns its priority
func (q *MapHeap[K]) RemoveByKey(key K) (uint64, bool) {
	it, exists := q.itemsMap[key]
	if !exists {
		return 0, false
	}
	heap.Remove(q, it.index)
	return it.Priority, true
}

// Peek returns the minimum item without removing it
func (q *MapHeap[K]) Peek() (*Item[K], bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	return q.items[0], true
}

// PopUntil removes all items with a priority <= limit and returns their keys
// in priority order
func (q *MapHeap[K]) PopUntil(limit uint64) []K {
	var keys []K
	for len(q.items) > 0 && q.items[0].Priority <= limit {
		keys = append(keys, heap.Pop(q).(*Item[K]).Key)
	}
	return keys
}

// Contains checks if a key exists in the queue
func (q *MapHeap[K]) Contains(key K) bool {
	_, exists := q.itemsMap[key]
	return exists
}

// GetByKey retrieves an item by its key without removing it
func (q *MapHeap[K]) GetByKey(key K) (*Item[K], bool) {
	it, exists := q.itemsMap[key]
	return it, exists
}
