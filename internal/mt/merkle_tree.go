package mt

import (
	gocrypto "crypto"
	"errors"

	"github.com/alphabill-org/ledgercore/internal/crypto"
)

var ErrIndexOutOfBounds = errors.New("merkle tree data index out of bounds")

// Leaf and inner node hashes are domain separated so that an inner node can
// never be presented as a leaf.
const (
	leafPrefix  = 0x00
	innerPrefix = 0x01
)

type (
	// MerkleTree is an immutable canonical Merkle tree over an ordered list of leaf hashes.
	MerkleTree struct {
		root       *node
		dataLength int // number of leaves
	}

	// PathItem helper struct for proof extraction, contains Hash and Direction from parent node
	PathItem struct {
		Hash          crypto.Hash
		DirectionLeft bool // true - left from parent, false - right from parent
	}

	node struct {
		left  *node
		right *node
		hash  crypto.Hash
	}
)

// New creates a new canonical Merkle Tree.
func New(hashAlgorithm gocrypto.Hash, leaves []crypto.Hash) *MerkleTree {
	if len(leaves) == 0 {
		return &MerkleTree{}
	}
	return &MerkleTree{root: createMerkleTree(hashAlgorithm, leaves), dataLength: len(leaves)}
}

// Root returns the root hash of the tree over leaves.
func Root(hashAlgorithm gocrypto.Hash, leaves []crypto.Hash) crypto.Hash {
	return New(hashAlgorithm, leaves).GetRootHash()
}

// GetRootHash returns the root Hash of the Merkle Tree, zero hash for an empty tree.
func (s *MerkleTree) GetRootHash() crypto.Hash {
	if s.root == nil {
		return crypto.ZeroHash
	}
	return s.root.hash
}

// GetMerklePath extracts the merkle path from the given leaf to root.
func (s *MerkleTree) GetMerklePath(leafIdx int) ([]*PathItem, error) {
	if leafIdx < 0 || leafIdx >= s.dataLength {
		return nil, ErrIndexOutOfBounds
	}

	var z []*PathItem
	curr := s.root
	b := 0
	m := s.dataLength

	// iteratively descending the tree
	for m > 1 {
		n := hibit(m - 1)
		if leafIdx < b+n { // target in the left sub-tree
			z = append([]*PathItem{{Hash: curr.right.hash, DirectionLeft: true}}, z...)
			curr = curr.left
			m = n
		} else { // target in the right sub-tree
			z = append([]*PathItem{{Hash: curr.left.hash, DirectionLeft: false}}, z...)
			curr = curr.right
			b = b + n
			m = m - n
		}
	}
	return z, nil
}

// EvalMerklePath returns root hash calculated from the given leaf and path items
func EvalMerklePath(merklePath []*PathItem, leaf crypto.Hash, hashAlgorithm gocrypto.Hash) crypto.Hash {
	h := hashLeaf(hashAlgorithm, leaf)
	for _, item := range merklePath {
		if item.DirectionLeft {
			h = hashInner(hashAlgorithm, h, item.Hash)
		} else {
			h = hashInner(hashAlgorithm, item.Hash, h)
		}
	}
	return h
}

func createMerkleTree(hashAlgorithm gocrypto.Hash, leaves []crypto.Hash) *node {
	if len(leaves) == 1 {
		return &node{hash: hashLeaf(hashAlgorithm, leaves[0])}
	}
	n := hibit(len(leaves) - 1)
	left := createMerkleTree(hashAlgorithm, leaves[:n])
	right := createMerkleTree(hashAlgorithm, leaves[n:])
	return &node{left: left, right: right, hash: hashInner(hashAlgorithm, left.hash, right.hash)}
}

func hashLeaf(alg gocrypto.Hash, leaf crypto.Hash) crypto.Hash {
	return crypto.Sum(alg, []byte{leafPrefix}, leaf[:])
}

func hashInner(alg gocrypto.Hash, left, right crypto.Hash) crypto.Hash {
	return crypto.Sum(alg, []byte{innerPrefix}, left[:], right[:])
}

// hibit floating-point-free equivalent of 2**math.floor(math.log(m, 2)),
// could be preferred for larger values of m to avoid rounding errors
func hibit(n int) int {
	if n < 0 {
		panic("hibit function input cannot be negative (merkle tree input data length cannot be zero)")
	}
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n - (n >> 1)
}
