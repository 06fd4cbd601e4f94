package avl

import (
	"fmt"
	"strings"
)

// String returns a string of the AVL Tree.
// Should not be used to print out large trees.
func (t *Tree[K, V]) String() string {
	if t == nil || t.root == nil {
		return "────┤ empty"
	}
	var sb strings.Builder
	output(&sb, t.root, "", false, true)
	return sb.String()
}

func output[K Key[K], V any](sb *strings.Builder, node *Node[K, V], prefix string, tail bool, isRoot bool) {
	if node.right != nil {
		output(sb, node.right, rightNodePrefix(prefix, tail), false, false)
	}
	fmt.Fprintf(sb, "%s─┤ %v\n", linePrefix(prefix, isRoot, tail), node)
	if node.left != nil {
		output(sb, node.left, leftNodePrefix(prefix, tail, isRoot), true, false)
	}
}

func linePrefix(prefix string, isRoot bool, tail bool) string {
	if isRoot {
		return prefix + "───"
	} else if tail {
		return prefix + "└──"
	}
	return prefix + "┌──"
}

func rightNodePrefix(prefix string, tail bool) string {
	if tail {
		return prefix + "│\t"
	}
	return prefix + "\t"
}

func leftNodePrefix(prefix string, tail bool, isRoot bool) string {
	if tail || isRoot {
		return prefix + "\t"
	}
	return prefix + "│\t"
}
