// Package zset
//
// This file provides the sorted set: a collection of (name, score) pairs
// indexed two ways at once. A hash map finds an element by name in O(1); a
// size-augmented AVL tree keeps the elements ordered by (score, name) for
// range seeks, rank queries and offset walks in O(log n).
//
// Each element is a single ZNode embedding both a tree node and a hash node,
// so membership in the two indexes is always identical and jumping from a
// name lookup to an ordered traversal costs nothing.
package zset

import (
	"bytes"

	"github.com/sablekv/sable/lib/ds/avl"
	"github.com/sablekv/sable/lib/ds/hmap"
)

// ZNode is one element of a sorted set.
type ZNode struct {
	Name  []byte
	Score float64

	tree  avl.Node[*ZNode]
	hnode hmap.Node[*ZNode]
}

func newZNode(name []byte, score float64) *ZNode {
	n := &ZNode{
		Name:  append([]byte(nil), name...),
		Score: score,
	}
	n.tree.Init(n)
	n.hnode.HCode = hmap.Hash(name)
	n.hnode.Ref = n
	return n
}

// ZSet is a sorted set. The zero value is an empty set.
type ZSet struct {
	root  *avl.Node[*ZNode]
	index hmap.Map[*ZNode]
}

// less orders tree nodes by (score, name): IEEE-754 < on score, then
// unsigned byte comparison over the shorter length, then length.
func (z *ZNode) less(score float64, name []byte) bool {
	if z.Score != score {
		return z.Score < score
	}
	n := len(z.Name)
	if len(name) < n {
		n = len(name)
	}
	if rv := bytes.Compare(z.Name[:n], name[:n]); rv != 0 {
		return rv < 0
	}
	return len(z.Name) < len(name)
}

// greater is the mirror of less with the target on the left.
func (z *ZNode) greater(score float64, name []byte) bool {
	if z.Score != score {
		return z.Score > score
	}
	n := len(z.Name)
	if len(name) < n {
		n = len(name)
	}
	if rv := bytes.Compare(z.Name[:n], name[:n]); rv != 0 {
		return rv > 0
	}
	return len(z.Name) > len(name)
}

func (s *ZSet) treeInsert(node *ZNode) {
	node.tree.Init(node)
	if s.root == nil {
		s.root = &node.tree
		return
	}
	cur := s.root
	for {
		if node.less(cur.Ref.Score, cur.Ref.Name) {
			if cur.Left() == nil {
				cur.SetLeft(&node.tree)
				break
			}
			cur = cur.Left()
		} else {
			if cur.Right() == nil {
				cur.SetRight(&node.tree)
				break
			}
			cur = cur.Right()
		}
	}
	s.root = avl.Fix(&node.tree)
}

// Insert adds the pair or updates the score of an existing name. Returns
// true when a new element was added, false on update.
func (s *ZSet) Insert(name []byte, score float64) bool {
	if node := s.Lookup(name); node != nil {
		s.update(node, score)
		return false
	}
	node := newZNode(name, score)
	s.index.Insert(&node.hnode)
	s.treeInsert(node)
	return true
}

// update re-keys node under a new score. Same score is a no-op; otherwise
// the node is detached from the tree and re-inserted in its new position.
func (s *ZSet) update(node *ZNode, score float64) {
	if node.Score == score {
		return
	}
	s.root = avl.Delete(&node.tree)
	node.Score = score
	s.treeInsert(node)
}

// nameEq compares a stored node against a lookup key by (length, bytes).
func nameEq(node, key *hmap.Node[*ZNode]) bool {
	return bytes.Equal(node.Ref.Name, key.Ref.Name)
}

// Lookup finds an element by name, or nil.
func (s *ZSet) Lookup(name []byte) *ZNode {
	if s.root == nil {
		return nil
	}
	key := ZNode{Name: name}
	key.hnode.HCode = hmap.Hash(name)
	key.hnode.Ref = &key
	if found := s.index.Lookup(&key.hnode, nameEq); found != nil {
		return found.Ref
	}
	return nil
}

// Delete removes node from both indexes.
func (s *ZSet) Delete(node *ZNode) {
	key := ZNode{Name: node.Name}
	key.hnode.HCode = node.hnode.HCode
	key.hnode.Ref = &key
	s.index.Delete(&key.hnode, nameEq)
	s.root = avl.Delete(&node.tree)
}

// SeekGE returns the smallest element that is >= (score, name), or nil when
// every element is smaller.
func (s *ZSet) SeekGE(score float64, name []byte) *ZNode {
	var found *avl.Node[*ZNode]
	for node := s.root; node != nil; {
		if node.Ref.less(score, name) {
			node = node.Right()
		} else {
			found = node
			node = node.Left()
		}
	}
	if found == nil {
		return nil
	}
	return found.Ref
}

// SeekLE returns the largest element that is <= (score, name), or nil when
// every element is greater.
func (s *ZSet) SeekLE(score float64, name []byte) *ZNode {
	var found *avl.Node[*ZNode]
	for node := s.root; node != nil; {
		if node.Ref.greater(score, name) {
			node = node.Left()
		} else {
			found = node
			node = node.Right()
		}
	}
	if found == nil {
		return nil
	}
	return found.Ref
}

// Count returns the number of elements within the closed (score, name)
// range, 0 when either endpoint misses or the range is inverted.
func (s *ZSet) Count(loScore float64, loName []byte, hiScore float64, hiName []byte) int64 {
	lo := s.SeekGE(loScore, loName)
	hi := s.SeekLE(hiScore, hiName)
	if lo == nil || hi == nil {
		return 0
	}
	count := avl.Rank(&hi.tree) - avl.Rank(&lo.tree) + 1
	if count < 0 {
		return 0
	}
	return count
}

// Offset returns the element offset in-order positions away from node, or
// nil when the walk leaves the set.
func Offset(node *ZNode, offset int64) *ZNode {
	if node == nil {
		return nil
	}
	tnode := avl.Offset(&node.tree, offset)
	if tnode == nil {
		return nil
	}
	return tnode.Ref
}

// Rank returns the 0-based position of node in (score, name) order.
func Rank(node *ZNode) int64 {
	return avl.Rank(&node.tree)
}

// Len returns the number of elements.
func (s *ZSet) Len() int {
	return int(avl.Count(s.root))
}

// Clear drops every element.
func (s *ZSet) Clear() {
	s.index.Clear()
	s.root = nil
}
