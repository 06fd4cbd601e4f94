package chain

import (
	"cmp"
	gocrypto "crypto"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/holiman/uint256"

	"github.com/alphabill-org/ledgercore/internal/crypto"
	"github.com/alphabill-org/ledgercore/internal/keyvaluedb"
	"github.com/alphabill-org/ledgercore/internal/types"
	"github.com/alphabill-org/ledgercore/internal/util"
)

const blockPrefix = "block_"

func blockKey(hash crypto.Hash) []byte {
	return append([]byte(blockPrefix), hash[:]...)
}

// Store is the tree of all known blocks, the arena of nodes keyed by block
// hash. The tip is the fork choice over Valid blocks; the canonical chain
// readers see is published by the consensus engine together with its state.
type Store struct {
	hashAlgorithm gocrypto.Hash
	db            keyvaluedb.KeyValueDB
	nodes         map[crypto.Hash]*node
	genesis       *node
	tip           *node
	lock          sync.RWMutex
}

// New creates the block tree. On first start the genesis block is persisted,
// otherwise the tree is loaded from db and must have the same genesis.
func New(hashAlgorithm gocrypto.Hash, genesis *types.Block, db keyvaluedb.KeyValueDB) (*Store, error) {
	if genesis == nil || genesis.Header == nil {
		return nil, errGenesisIsNil
	}
	if db == nil {
		return nil, errStorageIsNil
	}
	s := &Store{hashAlgorithm: hashAlgorithm, db: db, nodes: make(map[crypto.Hash]*node)}
	gh := genesis.Hash(hashAlgorithm)

	records, err := readBlocksFromDB(db)
	if err != nil {
		return nil, fmt.Errorf("reading blocks from db: %w", err)
	}
	if len(records) == 0 {
		g := &node{block: genesis, hash: gh, weight: uint256.NewInt(0), status: Valid}
		if err := db.Write(blockKey(gh), g.record()); err != nil {
			return nil, fmt.Errorf("persist genesis block: %w", err)
		}
		records = append(records, g.record())
	}
	if err := s.link(records); err != nil {
		return nil, err
	}
	if s.genesis.hash != gh {
		return nil, fmt.Errorf("stored genesis %s does not match genesis %s", s.genesis.hash, gh)
	}
	s.recomputeTip()
	return s, nil
}

func readBlocksFromDB(db keyvaluedb.KeyValueDB) ([]*blockRecord, error) {
	var records []*blockRecord
	err := keyvaluedb.IteratePrefix(db, []byte(blockPrefix), func(key []byte, it keyvaluedb.Iterator) error {
		rec := &blockRecord{}
		if err := it.Value(rec); err != nil {
			return fmt.Errorf("read block %X: %w", key, err)
		}
		if rec.Block == nil || rec.Block.Header == nil {
			return fmt.Errorf("read block %X: block header missing", key)
		}
		records = append(records, rec)
		return nil
	})
	return records, err
}

// link builds the tree from records in any order; parents are linked before children.
func (s *Store) link(records []*blockRecord) error {
	slices.SortStableFunc(records, func(a, b *blockRecord) int {
		return cmp.Compare(a.Block.Header.Height, b.Block.Header.Height)
	})
	for i, rec := range records {
		n := &node{
			block:  rec.Block,
			hash:   rec.Block.Hash(s.hashAlgorithm),
			weight: util.BytesToUint256(rec.Weight),
			status: rec.Status,
		}
		if i == 0 {
			if n.height() != 0 {
				return fmt.Errorf("genesis block missing, lowest stored block has height %d", n.height())
			}
			s.genesis = n
		} else {
			parent, ok := s.nodes[rec.Block.Header.ParentHash]
			if !ok {
				return fmt.Errorf("stored block %s: parent %s not found", n.hash, rec.Block.Header.ParentHash)
			}
			n.parent = parent.hash
			parent.children = append(parent.children, n.hash)
		}
		s.nodes[n.hash] = n
	}
	return nil
}

// Insert adds a block with Pending status under its parent. The cumulative
// weight is the parent's weight plus blockWeight, which must be at least one.
// A block under an invalid parent is stored as Invalid.
func (s *Store) Insert(b *types.Block, blockWeight *uint256.Int) (*Node, error) {
	if b == nil || b.Header == nil {
		return nil, errors.New("block header is nil")
	}
	if blockWeight == nil || blockWeight.IsZero() {
		return nil, errors.New("block weight must be at least one")
	}
	hash := b.Hash(s.hashAlgorithm)

	s.lock.Lock()
	defer s.lock.Unlock()

	if _, found := s.nodes[hash]; found {
		return nil, &RejectedHeaderError{Code: DuplicateHeader, Hash: hash}
	}
	parent, found := s.nodes[b.Header.ParentHash]
	if !found {
		return nil, &RejectedHeaderError{Code: UnknownParent, Hash: hash}
	}
	if b.Header.Height != parent.height()+1 {
		return nil, fmt.Errorf("block %s: height %d does not follow parent height %d", hash, b.Header.Height, parent.height())
	}
	weight := new(uint256.Int).Add(parent.weight, blockWeight)
	if weight.Lt(parent.weight) {
		return nil, fmt.Errorf("block %s: cumulative weight overflows", hash)
	}
	n := &node{block: b, hash: hash, parent: parent.hash, weight: weight, status: Pending}
	if parent.status == Invalid {
		n.status = Invalid
	}
	if err := s.db.Write(blockKey(hash), n.record()); err != nil {
		return nil, fmt.Errorf("persist block %s: %w", hash, err)
	}
	parent.children = append(parent.children, hash)
	s.nodes[hash] = n
	return n.view(), nil
}

func (s *Store) Get(hash crypto.Hash) (*Node, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if n, ok := s.nodes[hash]; ok {
		return n.view(), true
	}
	return nil, false
}

func (s *Store) Contains(hash crypto.Hash) bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	_, ok := s.nodes[hash]
	return ok
}

// Block returns the full block with given hash.
func (s *Store) Block(hash crypto.Hash) (*types.Block, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if n, ok := s.nodes[hash]; ok {
		return n.block, true
	}
	return nil, false
}

func (s *Store) WeightOf(hash crypto.Hash) (*uint256.Int, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	n, ok := s.nodes[hash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	return new(uint256.Int).Set(n.weight), nil
}

func (s *Store) Status(hash crypto.Hash) (Status, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if n, ok := s.nodes[hash]; ok {
		return n.status, true
	}
	return Invalid, false
}

func (s *Store) Genesis() *Node {
	return s.genesis.view()
}

func (s *Store) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.nodes)
}

// BestTip is the Valid block with the greatest cumulative weight, ties go to
// the smaller block hash.
func (s *Store) BestTip() *Node {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.tip.view()
}

// BestCandidate is like BestTip but also considers Pending blocks, ie it is
// the tip fork choice would select if every pending block turned out valid.
func (s *Store) BestCandidate() *Node {
	s.lock.RLock()
	defer s.lock.RUnlock()
	var best *node
	for _, n := range s.nodes {
		if n.status != Invalid && n.heavier(best) {
			best = n
		}
	}
	return best.view()
}

// MarkValid sets the status of a Pending block whose parent is Valid.
func (s *Store) MarkValid(hash crypto.Hash) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	n, ok := s.nodes[hash]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	if n.status == Valid {
		return nil
	}
	if n.status == Invalid {
		return fmt.Errorf("block %s is invalid", hash)
	}
	if parent := s.nodes[n.parent]; parent.status != Valid {
		return fmt.Errorf("block %s: parent %s is %s", hash, parent.hash, parent.status)
	}
	n.status = Valid
	if err := s.db.Write(blockKey(hash), n.record()); err != nil {
		n.status = Pending
		return fmt.Errorf("persist block %s status: %w", hash, err)
	}
	if n.heavier(s.tip) {
		s.tip = n
	}
	return nil
}

// MarkInvalid marks the block and its whole subtree Invalid and recomputes
// the best tip. Returns hashes of all blocks marked.
func (s *Store) MarkInvalid(hash crypto.Hash) ([]crypto.Hash, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	n, ok := s.nodes[hash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	if n == s.genesis {
		return nil, errors.New("genesis block cannot be invalidated")
	}

	dbTx, err := s.db.StartTx()
	if err != nil {
		return nil, fmt.Errorf("starting db tx: %w", err)
	}
	var marked []*node
	for queue := []*node{n}; len(queue) > 0; queue = queue[1:] {
		cur := queue[0]
		for _, c := range cur.children {
			queue = append(queue, s.nodes[c])
		}
		if cur.status == Invalid {
			continue
		}
		rec := cur.record()
		rec.Status = Invalid
		if err := dbTx.Write(blockKey(cur.hash), rec); err != nil {
			return nil, errors.Join(fmt.Errorf("persist block %s status: %w", cur.hash, err), dbTx.Rollback())
		}
		marked = append(marked, cur)
	}
	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("committing block statuses: %w", err)
	}

	hashes := make([]crypto.Hash, len(marked))
	tipMarked := false
	for i, m := range marked {
		m.status = Invalid
		hashes[i] = m.hash
		tipMarked = tipMarked || m == s.tip
	}
	if tipMarked {
		s.recomputeTip()
	}
	return hashes, nil
}

// CommonAncestor returns the most recent block both a and b descend from
// (a block counts as its own descendant).
func (s *Store) CommonAncestor(a, b crypto.Hash) (*Node, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	na, ok := s.nodes[a]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, a)
	}
	nb, ok := s.nodes[b]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, b)
	}
	for na.height() > nb.height() {
		na = s.nodes[na.parent]
	}
	for nb.height() > na.height() {
		nb = s.nodes[nb.parent]
	}
	for na != nb {
		na, nb = s.nodes[na.parent], s.nodes[nb.parent]
	}
	return na.view(), nil
}

// PathFromTo returns the blocks after ancestor up to and including to,
// ordered by height. The path is empty when ancestor equals to.
func (s *Store) PathFromTo(ancestor, to crypto.Hash) ([]*Node, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	anc, ok := s.nodes[ancestor]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ancestor)
	}
	n, ok := s.nodes[to]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, to)
	}
	if n.height() < anc.height() {
		return nil, fmt.Errorf("%w: %s of %s", ErrNotDescendant, to, ancestor)
	}
	path := make([]*Node, n.height()-anc.height())
	for i := len(path) - 1; i >= 0; i-- {
		path[i] = n.view()
		n = s.nodes[n.parent]
	}
	if n != anc {
		return nil, fmt.Errorf("%w: %s of %s", ErrNotDescendant, to, ancestor)
	}
	return path, nil
}

// Children returns hashes of the known direct descendants of the block.
func (s *Store) Children(hash crypto.Hash) []crypto.Hash {
	s.lock.RLock()
	defer s.lock.RUnlock()
	n, ok := s.nodes[hash]
	if !ok {
		return nil
	}
	return slices.Clone(n.children)
}

func (s *Store) recomputeTip() {
	var best *node
	for _, n := range s.nodes {
		if n.status == Valid && n.heavier(best) {
			best = n
		}
	}
	s.tip = best
}
