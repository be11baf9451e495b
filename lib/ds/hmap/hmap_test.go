package hmap

import (
	"fmt"
	"testing"
)

// testEntry is the minimal embedding struct used by the tests
type testEntry struct {
	key  string
	node Node[*testEntry]
}

func newTestEntry(key string) *testEntry {
	e := &testEntry{key: key}
	e.node.HCode = Hash([]byte(key))
	e.node.Ref = e
	return e
}

func testEq(node, key *Node[*testEntry]) bool {
	return node.Ref.key == key.Ref.key
}

// lookupKey builds a throwaway key node for Lookup/Delete
func lookupKey(key string) *Node[*testEntry] {
	return &newTestEntry(key).node
}

// TestInsertLookupDelete tests the basic map contract against a reference map
func TestInsertLookupDelete(t *testing.T) {
	var m Map[*testEntry]
	ref := map[string]*testEntry{}

	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("key-%d", i)
		e := newTestEntry(key)
		m.Insert(&e.node)
		ref[key] = e

		if m.Size() != len(ref) {
			t.Fatalf("size mismatch after insert %d: map=%d ref=%d", i, m.Size(), len(ref))
		}
	}

	// every inserted key must be findable, including mid-migration
	for key, e := range ref {
		found := m.Lookup(lookupKey(key), testEq)
		if found == nil {
			t.Fatalf("key %q not found", key)
		}
		if found.Ref != e {
			t.Fatalf("key %q resolved to the wrong entry", key)
		}
	}

	// delete every other key
	for i := 0; i < 1000; i += 2 {
		key := fmt.Sprintf("key-%d", i)
		node := m.Delete(lookupKey(key), testEq)
		if node == nil {
			t.Fatalf("delete of %q returned nil", key)
		}
		delete(ref, key)
	}
	if m.Size() != len(ref) {
		t.Fatalf("size mismatch after deletes: map=%d ref=%d", m.Size(), len(ref))
	}

	// deleted keys are gone, kept keys remain
	for i := 0; i < 1000; i++ {
		key := fmt.Sprintf("key-%d", i)
		found := m.Lookup(lookupKey(key), testEq)
		if i%2 == 0 && found != nil {
			t.Fatalf("deleted key %q still present", key)
		}
		if i%2 == 1 && found == nil {
			t.Fatalf("key %q lost", key)
		}
	}
}

// TestDeleteMissing tests that deleting an absent key returns nil
func TestDeleteMissing(t *testing.T) {
	var m Map[*testEntry]
	m.Insert(&newTestEntry("a").node)

	if node := m.Delete(lookupKey("b"), testEq); node != nil {
		t.Errorf("delete of missing key returned %v", node.Ref.key)
	}
	if m.Size() != 1 {
		t.Errorf("size changed by failed delete: %d", m.Size())
	}
}

// TestLoadFactorBound tests the rehashing policy: the active table never
// exceeds the load factor at an operation boundary
func TestLoadFactorBound(t *testing.T) {
	var m Map[*testEntry]
	for i := 0; i < 10000; i++ {
		m.Insert(&newTestEntry(fmt.Sprintf("k%d", i)).node)

		if m.newer.tab != nil && m.older.tab == nil {
			if m.newer.size > maxLoadFactor*len(m.newer.tab) {
				t.Fatalf("load factor exceeded after insert %d: %d nodes in %d slots",
					i, m.newer.size, len(m.newer.tab))
			}
		}
	}
	if m.Size() != 10000 {
		t.Fatalf("expected 10000 entries, got %d", m.Size())
	}
}

// TestTableSizePowerOfTwo tests the mask/size relationship of the tables
func TestTableSizePowerOfTwo(t *testing.T) {
	var m Map[*testEntry]
	for i := 0; i < 5000; i++ {
		m.Insert(&newTestEntry(fmt.Sprintf("k%d", i)).node)
		n := uint64(len(m.newer.tab))
		if n&(n-1) != 0 {
			t.Fatalf("table size %d is not a power of two", n)
		}
		if m.newer.mask != n-1 {
			t.Fatalf("mask %d does not match table size %d", m.newer.mask, n)
		}
	}
}

// TestForEach tests full iteration and early stop
func TestForEach(t *testing.T) {
	var m Map[*testEntry]
	const n = 500
	for i := 0; i < n; i++ {
		m.Insert(&newTestEntry(fmt.Sprintf("k%d", i)).node)
	}

	seen := map[string]bool{}
	m.ForEach(func(node *Node[*testEntry]) bool {
		seen[node.Ref.key] = true
		return true
	})
	if len(seen) != n {
		t.Errorf("foreach visited %d of %d entries", len(seen), n)
	}

	count := 0
	m.ForEach(func(node *Node[*testEntry]) bool {
		count++
		return count < 10
	})
	if count != 10 {
		t.Errorf("early stop visited %d entries, expected 10", count)
	}
}

// TestClear tests that Clear empties the map
func TestClear(t *testing.T) {
	var m Map[*testEntry]
	for i := 0; i < 100; i++ {
		m.Insert(&newTestEntry(fmt.Sprintf("k%d", i)).node)
	}
	m.Clear()
	if m.Size() != 0 {
		t.Errorf("map not empty after clear: %d", m.Size())
	}
	if m.Lookup(lookupKey("k1"), testEq) != nil {
		t.Error("lookup found an entry after clear")
	}
}

// TestHashDeterministic tests that the string hash is stable
func TestHashDeterministic(t *testing.T) {
	if Hash([]byte("abc")) != Hash([]byte("abc")) {
		t.Error("hash is not deterministic")
	}
	if Hash([]byte("")) != 0x811C9DC5 {
		t.Errorf("empty-string hash changed: %#x", Hash([]byte("")))
	}
}
