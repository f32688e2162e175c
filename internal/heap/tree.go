// SPDX-License-Identifier: Apache-2.0

package heap

// sizeTree is an AVL tree of free blocks keyed by block size. Equal sizes are
// allowed on either side, so removal matches nodes by address.
type sizeTree struct {
	root uintptr
}

func height(n uintptr) int {
	if n == 0 {
		return 0
	}
	return at(n).tree().height
}

func balance(n uintptr) int {
	if n == 0 {
		return 0
	}
	l := at(n).tree()
	return height(l.left) - height(l.right)
}

func updateHeight(n uintptr) {
	l := at(n).tree()
	l.height = 1 + max(height(l.left), height(l.right))
}

func rotateRight(pivot uintptr) uintptr {
	p := at(pivot).tree()
	newRoot := p.left
	if newRoot == 0 {
		return pivot
	}
	r := at(newRoot).tree()
	p.left = r.right
	r.right = pivot
	updateHeight(pivot)
	updateHeight(newRoot)
	return newRoot
}

func rotateLeft(pivot uintptr) uintptr {
	p := at(pivot).tree()
	newRoot := p.right
	if newRoot == 0 {
		return pivot
	}
	r := at(newRoot).tree()
	p.right = r.left
	r.left = pivot
	updateHeight(pivot)
	updateHeight(newRoot)
	return newRoot
}

// rebalance restores the height invariant at n and returns the new subtree
// root. It decides rotations from the children's balance, which stays correct
// when neighbours share n's size.
func rebalance(n uintptr) uintptr {
	updateHeight(n)
	l := at(n).tree()
	switch bf := height(l.left) - height(l.right); {
	case bf > 1:
		if balance(l.left) < 0 {
			l.left = rotateLeft(l.left)
		}
		return rotateRight(n)
	case bf < -1:
		if balance(l.right) > 0 {
			l.right = rotateRight(l.right)
		}
		return rotateLeft(n)
	}
	return n
}

func insertNode(node, n uintptr) uintptr {
	if node == n {
		panic("heap: block inserted into the size tree twice")
	}
	if node == 0 {
		*at(n).tree() = links{height: 1}
		return n
	}
	l := at(node).tree()
	if at(n).size() < at(node).size() {
		l.left = insertNode(l.left, n)
	} else {
		l.right = insertNode(l.right, n)
	}
	return rebalance(node)
}

func minNode(n uintptr) uintptr {
	for at(n).tree().left != 0 {
		n = at(n).tree().left
	}
	return n
}

func removeNode(root, key uintptr) uintptr {
	if root == 0 {
		return 0
	}
	l := at(root).tree()
	switch size, rsize := at(key).size(), at(root).size(); {
	case size < rsize:
		l.left = removeNode(l.left, key)
	case size > rsize:
		l.right = removeNode(l.right, key)
	case root != key:
		// same size, different block: it may hang on either side
		if l.left != 0 {
			l.left = removeNode(l.left, key)
		}
		if l.right != 0 {
			l.right = removeNode(l.right, key)
		}
	case l.left == 0:
		return l.right
	case l.right == 0:
		return l.left
	default:
		succ := minNode(l.right)
		right := removeNode(l.right, succ)
		s := at(succ).tree()
		s.left, s.right, s.height = l.left, right, l.height
		root = succ
	}
	return rebalance(root)
}

func (t *sizeTree) insert(b *block) {
	t.root = insertNode(t.root, b.addr())
}

func (t *sizeTree) remove(b *block) {
	t.root = removeNode(t.root, b.addr())
}

// bestFit returns the smallest free block of at least size bytes, or nil.
func (t *sizeTree) bestFit(size uintptr) *block {
	var best uintptr
	for cur := t.root; cur != 0; {
		b := at(cur)
		if size <= b.size() {
			best = cur
			cur = b.tree().left
		} else {
			cur = b.tree().right
		}
	}
	if best == 0 {
		return nil
	}
	return at(best)
}

// largest returns the biggest free block, or nil when the tree is empty.
func (t *sizeTree) largest() *block {
	if t.root == 0 {
		return nil
	}
	n := t.root
	for at(n).tree().right != 0 {
		n = at(n).tree().right
	}
	return at(n)
}

// walk visits the tree in order, stopping early when fn returns false.
func (t *sizeTree) walk(fn func(b *block, depth int) bool) {
	var visit func(n uintptr, depth int) bool
	visit = func(n uintptr, depth int) bool {
		if n == 0 {
			return true
		}
		l := at(n).tree()
		return visit(l.left, depth+1) && fn(at(n), depth) && visit(l.right, depth+1)
	}
	visit(t.root, 0)
}
