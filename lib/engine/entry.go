// Package engine implements the in-memory database: the entry model, the
// key index, TTL scheduling and the command executor that maps parsed
// requests onto data-structure operations.
package engine

import (
	"github.com/sablekv/sable/lib/ds/hmap"
	"github.com/sablekv/sable/lib/ds/theap"
	"github.com/sablekv/sable/lib/ds/zset"
)

// Value types of an Entry.
const (
	typeInit = 0
	typeStr  = 1 // string value
	typeZSet = 2 // sorted set value
)

// noTTL is the heap-index sentinel for entries without an expiration.
const noTTL = -1

// Entry is one database row: a key plus either a string or a sorted set,
// and an optional scheduled expiration. The hash node is embedded so the
// entry and its index membership are a single allocation; heapIdx tracks
// the entry's position in the TTL heap and is kept current by the heap
// itself through SetHeapIndex.
type Entry struct {
	key  string
	node hmap.Node[*Entry]

	heapIdx int

	typ uint8
	str []byte
	set zset.ZSet
}

// SetHeapIndex records the entry's current TTL heap position. Called by the
// heap on every move.
func (e *Entry) SetHeapIndex(i int) { e.heapIdx = i }

func newEntry(key string, hcode uint64, typ uint8) *Entry {
	e := &Entry{key: key, heapIdx: noTTL, typ: typ}
	e.node.HCode = hcode
	e.node.Ref = e
	return e
}

// entryEq compares stored entries against lookup keys by key string.
func entryEq(node, key *hmap.Node[*Entry]) bool {
	return node.Ref.key == key.Ref.key
}

// nodeSame is the identity predicate used when deleting by a known node.
func nodeSame(node, key *hmap.Node[*Entry]) bool {
	return node == key
}

// DB is the database: the key index, the TTL heap and the clock they share.
// It is owned by the event loop and must not be shared across goroutines.
type DB struct {
	index hmap.Map[*Entry]
	ttl   theap.Heap
	now   func() uint64
}

// New creates an empty database on the given monotonic millisecond clock.
func New(now func() uint64) *DB {
	return &DB{now: now}
}

// Len returns the number of live entries.
func (db *DB) Len() int {
	return db.index.Size()
}

// lookup finds the live entry for key, or nil.
func (db *DB) lookup(key []byte) *Entry {
	probe := Entry{key: string(key)}
	probe.node.HCode = hmap.Hash(key)
	probe.node.Ref = &probe
	found := db.index.Lookup(&probe.node, entryEq)
	if found == nil {
		return nil
	}
	return found.Ref
}

// detach removes the entry for key from the index and returns it, or nil.
func (db *DB) detach(key []byte) *Entry {
	probe := Entry{key: string(key)}
	probe.node.HCode = hmap.Hash(key)
	probe.node.Ref = &probe
	found := db.index.Delete(&probe.node, entryEq)
	if found == nil {
		return nil
	}
	return found.Ref
}

// destroyEntry releases everything an unlinked entry owns. The entry must
// already be out of the index.
func (db *DB) destroyEntry(ent *Entry) {
	if ent.typ == typeZSet {
		ent.set.Clear()
	}
	db.setTTL(ent, -1)
}

// setTTL schedules, reschedules or removes (ttlMs < 0) the entry's
// expiration. Removal of an absent TTL is a no-op, which makes entry
// destruction idempotent with respect to the heap.
func (db *DB) setTTL(ent *Entry, ttlMs int64) {
	if ttlMs < 0 {
		if ent.heapIdx != noTTL {
			db.ttl.Delete(ent.heapIdx)
			ent.heapIdx = noTTL
		}
		return
	}
	expireAt := db.now() + uint64(ttlMs)
	db.ttl.Upsert(ent.heapIdx, theap.Item{Val: expireAt, Ref: ent})
}

// NextExpiry returns the earliest scheduled expiration, if any. The event
// loop folds it into the poll timeout.
func (db *DB) NextExpiry() (uint64, bool) {
	top, ok := db.ttl.Top()
	if !ok {
		return 0, false
	}
	return top.Val, true
}

// ExpireOverdue retires entries whose deadline passed, at most limit per
// call so a large backlog cannot stall the loop. Returns the expired keys
// for logging.
func (db *DB) ExpireOverdue(limit int) []string {
	nowMs := db.now()
	var expired []string
	for len(expired) < limit {
		top, ok := db.ttl.Top()
		if !ok || top.Val >= nowMs {
			break
		}
		ent := top.Ref.(*Entry)
		db.index.Delete(&ent.node, nodeSame)
		expired = append(expired, ent.key)
		db.destroyEntry(ent)
	}
	return expired
}
