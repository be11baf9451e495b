// Package list provides the intrusive circular doubly-linked list that
// orders connections by last activity. Nodes are embedded in their owners,
// so linking and detaching never allocate. A list head is a sentinel node
// whose next/prev point to itself when empty; appending before the head
// makes the head's next the oldest element and the head's prev the newest.
package list

// Node is the intrusive link embedded in user structs. A head is just a
// Node that owns no payload.
type Node[T any] struct {
	prev *Node[T]
	next *Node[T]
	// Ref points back at the struct embedding this node. Unused on heads.
	Ref T
}

// Init turns n into an empty list (or a detached, self-linked node).
func (n *Node[T]) Init() {
	n.prev = n
	n.next = n
}

// Empty reports whether the list headed by n has no elements.
func (n *Node[T]) Empty() bool {
	return n.next == n
}

// Front returns the oldest element of the list headed by n. Call only on a
// non-empty list.
func (n *Node[T]) Front() *Node[T] {
	return n.next
}

// InsertBefore links node immediately before target. Appending to a list is
// InsertBefore(head, node): the node becomes the newest element.
func InsertBefore[T any](target, node *Node[T]) {
	prev := target.prev
	prev.next = node
	node.prev = prev
	node.next = target
	target.prev = node
}

// Detach unlinks node from whatever list holds it and re-links it to itself.
func Detach[T any](node *Node[T]) {
	node.prev.next = node.next
	node.next.prev = node.prev
	node.Init()
}
