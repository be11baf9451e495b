// Package theap
//
// This file provides the expiration min-heap that schedules TTLs.
//
// Each item pairs a millisecond timestamp with the owner it expires. Owners
// need to find their own item again later (a TTL can be replaced or removed
// at any time), so the heap reports every position change back to the owner
// through a small callback. That keeps the owner's recorded index accurate
// across sifts, swap-deletes and appends without any auxiliary lookup
// structure.
//
// Arbitrary deletion overwrites the target with the last element and pops,
// then restores the heap property at that position, so both insert and
// delete stay O(log n).
package theap

// Owner is notified whenever its item moves to a new position.
type Owner interface {
	SetHeapIndex(i int)
}

// Item is one scheduled expiration.
type Item struct {
	// Val is the expiration timestamp in milliseconds.
	Val uint64
	// Ref is the owning entity whose recorded index tracks this item.
	Ref Owner
}

// Heap is a binary min-heap over Item.Val. The zero value is an empty heap.
type Heap struct {
	items []Item
}

// Len returns the number of scheduled items.
func (h *Heap) Len() int { return len(h.items) }

// Top returns the earliest expiration without removing it.
func (h *Heap) Top() (Item, bool) {
	if len(h.items) == 0 {
		return Item{}, false
	}
	return h.items[0], true
}

// At returns the item at position pos.
func (h *Heap) At(pos int) Item { return h.items[pos] }

// Upsert overwrites the item at pos, or appends when pos is out of range
// (the insert case), then restores the heap property.
func (h *Heap) Upsert(pos int, item Item) {
	if pos < 0 || pos >= len(h.items) {
		pos = len(h.items)
		h.items = append(h.items, item)
	} else {
		h.items[pos] = item
	}
	h.Update(pos)
}

// Delete removes the item at pos by swapping in the last element.
func (h *Heap) Delete(pos int) {
	last := len(h.items) - 1
	h.items[pos] = h.items[last]
	h.items = h.items[:last]
	if pos < last {
		h.Update(pos)
	}
}

// Update restores the heap property at pos after its value changed: the item
// sifts up while smaller than its parent, otherwise down while larger than
// its smaller child.
func (h *Heap) Update(pos int) {
	if pos > 0 && h.items[parent(pos)].Val > h.items[pos].Val {
		h.up(pos)
	} else {
		h.down(pos)
	}
}

func parent(i int) int { return (i+1)/2 - 1 }
func left(i int) int   { return i*2 + 1 }
func right(i int) int  { return i*2 + 2 }

func (h *Heap) up(pos int) {
	t := h.items[pos]
	for pos > 0 && h.items[parent(pos)].Val > t.Val {
		h.place(pos, h.items[parent(pos)])
		pos = parent(pos)
	}
	h.place(pos, t)
}

func (h *Heap) down(pos int) {
	t := h.items[pos]
	for {
		// find the smallest among pos and its children
		minPos, minVal := -1, t.Val
		if l := left(pos); l < len(h.items) && h.items[l].Val < minVal {
			minPos, minVal = l, h.items[l].Val
		}
		if r := right(pos); r < len(h.items) && h.items[r].Val < minVal {
			minPos = r
		}
		if minPos == -1 {
			break
		}
		h.place(pos, h.items[minPos])
		pos = minPos
	}
	h.place(pos, t)
}

// place writes item at pos and tells the owner where it now lives.
func (h *Heap) place(pos int, item Item) {
	h.items[pos] = item
	item.Ref.SetHeapIndex(pos)
}
