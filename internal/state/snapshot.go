package state

import (
	"bytes"
	gocrypto "crypto"
	"encoding/binary"
	"sync"

	"github.com/alphabill-org/ledgercore/internal/crypto"
	"github.com/alphabill-org/ledgercore/internal/mt"
	"github.com/alphabill-org/ledgercore/internal/tree/avl"
	"github.com/alphabill-org/ledgercore/internal/types"
)

type (
	// Account is the state of a single address. Nonce is the number of
	// transactions applied from the account, so the next expected
	// transaction nonce is Nonce+1.
	Account struct {
		_       struct{} `cbor:",toarray"`
		Balance uint64
		Nonce   uint64
	}

	addrKey types.Address

	accountsTree = avl.Tree[addrKey, Account]

	// journal is the stack of applied transaction ids, used to enforce
	// last-applied-first-reverted order.
	journal struct {
		txID  crypto.Hash
		prev  *journal
		depth int
	}

	// Snapshot is an immutable account set. Snapshots are never modified,
	// Ledger.Apply and Ledger.Revert return new ones, so a snapshot can be
	// read concurrently and kept around as long as needed.
	//
	// Accounts with zero balance and zero nonce are never stored, which makes
	// the set (and its Root) independent of the order of updates.
	Snapshot struct {
		hashAlgorithm gocrypto.Hash
		accounts      *accountsTree
		journal       *journal

		rootOnce sync.Once
		root     crypto.Hash
	}
)

func (k addrKey) Compare(o addrKey) int {
	return bytes.Compare(k[:], o[:])
}

func (a Account) isEmpty() bool {
	return a.Balance == 0 && a.Nonce == 0
}

func newSnapshot(hashAlgorithm gocrypto.Hash, accounts *accountsTree, j *journal) *Snapshot {
	return &Snapshot{hashAlgorithm: hashAlgorithm, accounts: accounts, journal: j}
}

// EmptySnapshot returns a snapshot without accounts.
func EmptySnapshot(hashAlgorithm gocrypto.Hash) *Snapshot {
	return newSnapshot(hashAlgorithm, avl.New[addrKey, Account](), nil)
}

func (s *Snapshot) HashAlgorithm() gocrypto.Hash {
	return s.hashAlgorithm
}

// Account returns the account state, ok is false for an unknown address.
func (s *Snapshot) Account(addr types.Address) (Account, bool) {
	return s.accounts.Get(addrKey(addr))
}

// BalanceOf returns the balance of addr, zero for unknown address.
func (s *Snapshot) BalanceOf(addr types.Address) uint64 {
	acc, _ := s.Account(addr)
	return acc.Balance
}

// NextNonce returns the nonce the next transaction from addr must carry.
func (s *Snapshot) NextNonce(addr types.Address) uint64 {
	acc, _ := s.Account(addr)
	return acc.Nonce + 1
}

// Len returns the number of accounts.
func (s *Snapshot) Len() int {
	return s.accounts.Len()
}

// Accounts calls fn for every account in address order until fn returns false.
func (s *Snapshot) Accounts(fn func(addr types.Address, acc Account) bool) {
	s.accounts.Ascend(func(k addrKey, v Account) bool {
		return fn(types.Address(k), v)
	})
}

// LastApplied returns the id of the most recently applied transaction.
func (s *Snapshot) LastApplied() (crypto.Hash, bool) {
	if s.journal == nil {
		return crypto.ZeroHash, false
	}
	return s.journal.txID, true
}

// Root is the commitment to the account set: Merkle root over account
// leaves in address order.
func (s *Snapshot) Root() crypto.Hash {
	s.rootOnce.Do(func() {
		leaves := make([]crypto.Hash, 0, s.accounts.Len())
		var buf [16]byte
		s.accounts.Ascend(func(k addrKey, v Account) bool {
			binary.BigEndian.PutUint64(buf[:8], v.Balance)
			binary.BigEndian.PutUint64(buf[8:], v.Nonce)
			leaves = append(leaves, crypto.Sum(s.hashAlgorithm, k[:], buf[:]))
			return true
		})
		s.root = mt.Root(s.hashAlgorithm, leaves)
	})
	return s.root
}

// Equal compares account sets of two snapshots.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if s == nil || other == nil {
		return s == other
	}
	return s.Len() == other.Len() && s.Root() == other.Root()
}

// Detach returns a snapshot with the same accounts but without the applied
// transaction history. Used for checkpoints and for snapshots kept in caches.
func (s *Snapshot) Detach() *Snapshot {
	d := newSnapshot(s.hashAlgorithm, s.accounts, nil)
	return d
}

// push adds txID on top of j. A journal grown to twice the limit is cut to
// the limit newest entries, so a snapshot keeps at most 2*limit ids alive.
func (j *journal) push(txID crypto.Hash, limit int) *journal {
	n := &journal{txID: txID, prev: j, depth: 1}
	if j != nil {
		n.depth = j.depth + 1
	}
	if n.depth > 2*limit {
		return n.truncate(limit)
	}
	return n
}

func (j *journal) truncate(limit int) *journal {
	ids := make([]crypto.Hash, 0, limit)
	for cur := j; cur != nil && len(ids) < limit; cur = cur.prev {
		ids = append(ids, cur.txID)
	}
	var res *journal
	for i := len(ids) - 1; i >= 0; i-- {
		res = &journal{txID: ids[i], prev: res, depth: len(ids) - i}
	}
	return res
}

func (j *journal) len() int {
	if j == nil {
		return 0
	}
	return j.depth
}

// Revertible is the number of most recent transactions Ledger.Revert can
// still undo on this snapshot.
func (s *Snapshot) Revertible() int {
	return s.journal.len()
}

func (s *Snapshot) with(accounts *accountsTree, j *journal) *Snapshot {
	return newSnapshot(s.hashAlgorithm, accounts, j)
}

func putAccount(t *accountsTree, addr types.Address, acc Account) *accountsTree {
	if acc.isEmpty() {
		return t.Delete(addrKey(addr))
	}
	return t.Put(addrKey(addr), acc)
}
