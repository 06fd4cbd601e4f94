package avl

import (
	"fmt"
)

type (
	Key[K any] interface {
		Compare(K) int
	}

	// Tree is a persistent AVL tree: Put and Delete never modify the receiver,
	// they return a new tree sharing all untouched nodes with the old one.
	// Trees are therefore safe to read from many goroutines and cheap to keep
	// as snapshots.
	//
	// The shape of the tree depends on the order of updates, so anything
	// derived from the tree must only depend on the in-order sequence (see Ascend).
	Tree[K Key[K], V any] struct {
		root *Node[K, V]
		size int
	}

	Node[K Key[K], V any] struct {
		key    K
		value  V
		left   *Node[K, V]
		right  *Node[K, V]
		height int
	}
)

// New returns an empty tree.
func New[K Key[K], V any]() *Tree[K, V] {
	return &Tree[K, V]{}
}

func (t *Tree[K, V]) Len() int {
	return t.size
}

func (t *Tree[K, V]) Get(key K) (V, bool) {
	n := t.root
	for n != nil {
		switch c := key.Compare(n.key); {
		case c < 0:
			n = n.left
		case c > 0:
			n = n.right
		default:
			return n.value, true
		}
	}
	var zero V
	return zero, false
}

// Put returns a tree where key maps to value.
func (t *Tree[K, V]) Put(key K, value V) *Tree[K, V] {
	root, added := t.put(t.root, key, value)
	size := t.size
	if added {
		size++
	}
	return &Tree[K, V]{root: root, size: size}
}

// Delete returns a tree without key. Deleting a missing key returns t.
func (t *Tree[K, V]) Delete(key K) *Tree[K, V] {
	root, removed := t.remove(t.root, key)
	if !removed {
		return t
	}
	return &Tree[K, V]{root: root, size: t.size - 1}
}

// Ascend calls fn for every node in key order until fn returns false.
func (t *Tree[K, V]) Ascend(fn func(key K, value V) bool) {
	ascend(t.root, fn)
}

func ascend[K Key[K], V any](n *Node[K, V], fn func(K, V) bool) bool {
	if n == nil {
		return true
	}
	if !ascend(n.left, fn) {
		return false
	}
	if !fn(n.key, n.value) {
		return false
	}
	return ascend(n.right, fn)
}

func (t *Tree[K, V]) put(n *Node[K, V], key K, value V) (*Node[K, V], bool) {
	if n == nil {
		return t.newNode(key, value, nil, nil), true
	}
	var added bool
	switch c := key.Compare(n.key); {
	case c < 0:
		var left *Node[K, V]
		left, added = t.put(n.left, key, value)
		n = t.newNode(n.key, n.value, left, n.right)
	case c > 0:
		var right *Node[K, V]
		right, added = t.put(n.right, key, value)
		n = t.newNode(n.key, n.value, n.left, right)
	default:
		return t.newNode(key, value, n.left, n.right), false
	}
	return t.rebalance(n), added
}

func (t *Tree[K, V]) remove(n *Node[K, V], key K) (*Node[K, V], bool) {
	if n == nil {
		return nil, false
	}
	switch c := key.Compare(n.key); {
	case c < 0:
		left, removed := t.remove(n.left, key)
		if !removed {
			return n, false
		}
		return t.rebalance(t.newNode(n.key, n.value, left, n.right)), true
	case c > 0:
		right, removed := t.remove(n.right, key)
		if !removed {
			return n, false
		}
		return t.rebalance(t.newNode(n.key, n.value, n.left, right)), true
	}
	if n.left == nil {
		return n.right, true
	}
	if n.right == nil {
		return n.left, true
	}
	// replace with the smallest node of the right subtree
	succ := n.right
	for succ.left != nil {
		succ = succ.left
	}
	right, _ := t.remove(n.right, succ.key)
	return t.rebalance(t.newNode(succ.key, succ.value, n.left, right)), true
}

func (t *Tree[K, V]) rebalance(n *Node[K, V]) *Node[K, V] {
	switch b := n.balance(); {
	case b > 1:
		if n.left.balance() < 0 {
			n = t.newNode(n.key, n.value, t.rotateLeft(n.left), n.right)
		}
		return t.rotateRight(n)
	case b < -1:
		if n.right.balance() > 0 {
			n = t.newNode(n.key, n.value, n.left, t.rotateRight(n.right))
		}
		return t.rotateLeft(n)
	}
	return n
}

func (t *Tree[K, V]) rotateRight(n *Node[K, V]) *Node[K, V] {
	l := n.left
	return t.newNode(l.key, l.value, l.left, t.newNode(n.key, n.value, l.right, n.right))
}

func (t *Tree[K, V]) rotateLeft(n *Node[K, V]) *Node[K, V] {
	r := n.right
	return t.newNode(r.key, r.value, t.newNode(n.key, n.value, n.left, r.left), r.right)
}

func (t *Tree[K, V]) newNode(key K, value V, left, right *Node[K, V]) *Node[K, V] {
	n := &Node[K, V]{key: key, value: value, left: left, right: right}
	n.height = 1 + max(left.getHeight(), right.getHeight())
	return n
}

func (n *Node[K, V]) getHeight() int {
	if n == nil {
		return 0
	}
	return n.height
}

func (n *Node[K, V]) balance() int {
	return n.left.getHeight() - n.right.getHeight()
}

func (n *Node[K, V]) String() string {
	return fmt.Sprintf("%v=%v", n.key, n.value)
}
