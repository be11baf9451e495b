// Package hmap
//
// This file provides the chained hash map behind both the key index of the
// database and the name index inside sorted sets.
//
// The map is intrusive: callers embed a Node in their own struct, precompute
// the 64-bit hash code on it, and hand the node to the map. The map never
// copies or owns node storage, it only links nodes into its slot chains, so
// a single allocation can participate in the map and in other containers at
// the same time.
//
// Resizing is incremental. When the load factor of the active table exceeds
// the threshold, a double-sized table is installed and the old one is kept
// aside; every subsequent public operation migrates a bounded number of
// nodes before doing its own work. Lookups and deletes consult both tables
// while a migration is in flight, so no operation ever pays for a full
// rehash at once.
package hmap

// Node is the intrusive chain link embedded in user structs.
type Node[T any] struct {
	next *Node[T]
	// HCode is the precomputed hash of the key. The map treats it as opaque
	// and derives slots from HCode & mask.
	HCode uint64
	// Ref points back at the struct embedding this node.
	Ref T
}

// EqFunc reports whether two nodes carry the same key. It is only invoked
// after the hash codes already match.
type EqFunc[T any] func(node, key *Node[T]) bool

const (
	maxLoadFactor = 8
	rehashingWork = 128
)

// htab is one fixed-size chained table. Slot count is a power of two.
type htab[T any] struct {
	tab  []*Node[T]
	mask uint64
	size int
}

func newHTab[T any](n int) htab[T] {
	return htab[T]{tab: make([]*Node[T], n), mask: uint64(n) - 1}
}

func (h *htab[T]) insert(node *Node[T]) {
	pos := node.HCode & h.mask
	node.next = h.tab[pos]
	h.tab[pos] = node
	h.size++
}

// lookup returns the address of the link pointing at the matching node, so
// that detach can unlink it without a second chain walk.
func (h *htab[T]) lookup(key *Node[T], eq EqFunc[T]) **Node[T] {
	if h.tab == nil {
		return nil
	}
	from := &h.tab[key.HCode&h.mask]
	for *from != nil {
		if (*from).HCode == key.HCode && eq(*from, key) {
			return from
		}
		from = &(*from).next
	}
	return nil
}

func (h *htab[T]) detach(from **Node[T]) *Node[T] {
	node := *from
	*from = node.next
	node.next = nil
	h.size--
	return node
}

// Map is the incremental-resize hash map. The zero value is ready to use.
type Map[T any] struct {
	newer      htab[T]
	older      htab[T]
	migratePos uint64
}

// Lookup finds the node matching key, consulting both tables during a
// migration. Returns nil if absent.
func (m *Map[T]) Lookup(key *Node[T], eq EqFunc[T]) *Node[T] {
	m.helpRehashing()
	if from := m.newer.lookup(key, eq); from != nil {
		return *from
	}
	if from := m.older.lookup(key, eq); from != nil {
		return *from
	}
	return nil
}

// Insert adds node to the map. The caller must have set node.HCode and must
// guarantee the key is not already present.
func (m *Map[T]) Insert(node *Node[T]) {
	if m.newer.tab == nil {
		m.newer = newHTab[T](4)
	}
	m.newer.insert(node)
	if m.older.tab == nil && m.newer.size > maxLoadFactor*len(m.newer.tab) {
		m.triggerRehashing()
	}
	m.helpRehashing()
}

// Delete removes and returns the node matching key, or nil.
func (m *Map[T]) Delete(key *Node[T], eq EqFunc[T]) *Node[T] {
	m.helpRehashing()
	if from := m.newer.lookup(key, eq); from != nil {
		return m.newer.detach(from)
	}
	if from := m.older.lookup(key, eq); from != nil {
		return m.older.detach(from)
	}
	return nil
}

// Clear drops both tables. Node storage stays with the caller.
func (m *Map[T]) Clear() {
	*m = Map[T]{}
}

// Size returns the number of nodes in the map.
func (m *Map[T]) Size() int {
	return m.newer.size + m.older.size
}

// ForEach visits every node until f returns false. Iteration order is
// unspecified.
func (m *Map[T]) ForEach(f func(*Node[T]) bool) {
	for _, t := range []*htab[T]{&m.newer, &m.older} {
		for _, node := range t.tab {
			for ; node != nil; node = node.next {
				if !f(node) {
					return
				}
			}
		}
	}
}

func (m *Map[T]) triggerRehashing() {
	m.older = m.newer
	m.newer = newHTab[T](2 * len(m.older.tab))
	m.migratePos = 0
}

// helpRehashing migrates up to rehashingWork nodes from the old table.
func (m *Map[T]) helpRehashing() {
	if m.older.tab == nil {
		return
	}
	work := 0
	for work < rehashingWork && m.older.size > 0 {
		from := &m.older.tab[m.migratePos]
		if *from == nil {
			m.migratePos++
			continue
		}
		m.newer.insert(m.older.detach(from))
		work++
	}
	if m.older.size == 0 {
		m.older = htab[T]{}
	}
}

// Hash is the string hash used for all keys, widened to 64 bits. It is an
// FNV-1a variant: it uses the FNV-1a offset basis and prime but adds each
// byte instead of xoring it. It is deterministic across runs so wire-level
// tests can rely on it.
func Hash(data []byte) uint64 {
	var h uint32 = 0x811C9DC5
	for _, c := range data {
		h = (h + uint32(c)) * 0x01000193
	}
	return uint64(h)
}
