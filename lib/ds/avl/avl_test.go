package avl

import (
	"math/rand"
	"sort"
	"testing"
)

// intNode wraps a value for the tests; duplicates are allowed and go right
type intNode struct {
	val  int
	node Node[*intNode]
}

// container holds the root pointer of a test tree
type container struct {
	root *Node[*intNode]
}

func (c *container) insert(val int) {
	n := &intNode{val: val}
	n.node.Init(n)

	if c.root == nil {
		c.root = &n.node
		return
	}
	cur := c.root
	for {
		if val < cur.Ref.val {
			if cur.left == nil {
				cur.SetLeft(&n.node)
				break
			}
			cur = cur.left
		} else {
			if cur.right == nil {
				cur.SetRight(&n.node)
				break
			}
			cur = cur.right
		}
	}
	c.root = Fix(&n.node)
}

func (c *container) find(val int) *Node[*intNode] {
	cur := c.root
	for cur != nil {
		if val == cur.Ref.val {
			return cur
		}
		if val < cur.Ref.val {
			cur = cur.left
		} else {
			cur = cur.right
		}
	}
	return nil
}

func (c *container) del(val int) bool {
	node := c.find(val)
	if node == nil {
		return false
	}
	c.root = Delete(node)
	return true
}

// verify checks every structural invariant of the subtree rooted at node
func verify(t *testing.T, parent, node *Node[*intNode]) {
	t.Helper()
	if node == nil {
		return
	}
	if node.parent != parent {
		t.Fatal("parent pointer is inconsistent")
	}
	verify(t, node, node.left)
	verify(t, node, node.right)

	if node.count != 1+Count(node.left)+Count(node.right) {
		t.Fatalf("count cache wrong at %d", node.Ref.val)
	}

	l, r := Height(node.left), Height(node.right)
	if node.height != 1+max(l, r) {
		t.Fatalf("height cache wrong at %d", node.Ref.val)
	}
	diff := int(l) - int(r)
	if diff < -1 || diff > 1 {
		t.Fatalf("balance violated at %d: left=%d right=%d", node.Ref.val, l, r)
	}

	if node.left != nil && node.left.Ref.val > node.Ref.val {
		t.Fatalf("order violated left of %d", node.Ref.val)
	}
	if node.right != nil && node.right.Ref.val < node.Ref.val {
		t.Fatalf("order violated right of %d", node.Ref.val)
	}
}

func extract(node *Node[*intNode], out *[]int) {
	if node == nil {
		return
	}
	extract(node.left, out)
	*out = append(*out, node.Ref.val)
	extract(node.right, out)
}

// verifyAgainst checks the whole tree and its in-order sequence
func verifyAgainst(t *testing.T, c *container, ref []int) {
	t.Helper()
	verify(t, nil, c.root)
	if int(Count(c.root)) != len(ref) {
		t.Fatalf("tree has %d nodes, reference has %d", Count(c.root), len(ref))
	}
	var got []int
	extract(c.root, &got)
	sorted := append([]int(nil), ref...)
	sort.Ints(sorted)
	for i := range sorted {
		if got[i] != sorted[i] {
			t.Fatalf("in-order position %d: got %d, want %d", i, got[i], sorted[i])
		}
	}
}

// TestInsertSequential tests ascending inserts (worst case for balance)
func TestInsertSequential(t *testing.T) {
	c := &container{}
	var ref []int
	for i := 0; i < 300; i++ {
		c.insert(i)
		ref = append(ref, i)
		verifyAgainst(t, c, ref)
	}
}

// TestInsertDuplicates tests that equal keys are kept, not replaced
func TestInsertDuplicates(t *testing.T) {
	c := &container{}
	var ref []int
	for i := 0; i < 100; i++ {
		c.insert(i % 10)
		ref = append(ref, i%10)
	}
	verifyAgainst(t, c, ref)
}

// TestExhaustive inserts at every position and deletes at every position for
// sizes 0..200
func TestExhaustive(t *testing.T) {
	for size := 0; size < 200; size++ {
		// deletion at every position
		for del := 0; del < size; del++ {
			c := &container{}
			var ref []int
			for i := 0; i < size; i++ {
				c.insert(i)
				ref = append(ref, i)
			}
			if !c.del(del) {
				t.Fatalf("size %d: value %d not found", size, del)
			}
			ref = append(ref[:del], ref[del+1:]...)
			verifyAgainst(t, c, ref)
		}
		// insertion of every value into an even-only tree
		c := &container{}
		var ref []int
		for i := 0; i < size; i++ {
			c.insert(i * 2)
			ref = append(ref, i*2)
		}
		for v := 0; v <= size*2; v++ {
			c2 := &container{}
			for _, x := range ref {
				c2.insert(x)
			}
			c2.insert(v)
			verifyAgainst(t, c2, append(append([]int(nil), ref...), v))
		}
	}
}

// TestRandomOps runs a long random insert/delete sequence
func TestRandomOps(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	c := &container{}
	var ref []int

	for i := 0; i < 3000; i++ {
		if rng.Intn(2) == 0 || len(ref) == 0 {
			v := rng.Intn(500)
			c.insert(v)
			ref = append(ref, v)
		} else {
			v := ref[rng.Intn(len(ref))]
			if !c.del(v) {
				t.Fatalf("op %d: value %d not found", i, v)
			}
			for j, x := range ref {
				if x == v {
					ref = append(ref[:j], ref[j+1:]...)
					break
				}
			}
		}
		if i%97 == 0 {
			verifyAgainst(t, c, ref)
		}
	}
	verifyAgainst(t, c, ref)
}

// TestOffsetRank tests rank/offset navigation at every pair of positions
func TestOffsetRank(t *testing.T) {
	for size := 1; size <= 64; size++ {
		c := &container{}
		for i := 0; i < size; i++ {
			c.insert(i)
		}
		var nodes []*Node[*intNode]
		var collect func(n *Node[*intNode])
		collect = func(n *Node[*intNode]) {
			if n == nil {
				return
			}
			collect(n.left)
			nodes = append(nodes, n)
			collect(n.right)
		}
		collect(c.root)

		for i, n := range nodes {
			if r := Rank(n); r != int64(i) {
				t.Fatalf("size %d: rank of position %d is %d", size, i, r)
			}
			for j := range nodes {
				got := Offset(n, int64(j-i))
				if got != nodes[j] {
					t.Fatalf("size %d: offset(%d, %d) landed wrong", size, i, j-i)
				}
			}
			// stepping outside the tree yields nil
			if Offset(n, int64(size-i)) != nil {
				t.Fatalf("size %d: offset past the end should be nil", size)
			}
			if Offset(n, int64(-i-1)) != nil {
				t.Fatalf("size %d: offset before the start should be nil", size)
			}
		}
	}
}

// TestRankOffsetRoundTrip tests rank(offset(root, k)) == k
func TestRankOffsetRoundTrip(t *testing.T) {
	c := &container{}
	for i := 0; i < 200; i++ {
		c.insert(i)
	}
	rootRank := Rank(c.root)
	for k := int64(0); k < 200; k++ {
		n := Offset(c.root, k-rootRank)
		if n == nil {
			t.Fatalf("offset to position %d is nil", k)
		}
		if Rank(n) != k {
			t.Fatalf("rank(offset(%d)) == %d", k, Rank(n))
		}
	}
}
