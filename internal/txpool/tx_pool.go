package txpool

import (
	"container/heap"
	gocrypto "crypto"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alphabill-org/ledgercore/internal/crypto"
	"github.com/alphabill-org/ledgercore/internal/logger"
	"github.com/alphabill-org/ledgercore/internal/metrics"
	"github.com/alphabill-org/ledgercore/internal/state"
	"github.com/alphabill-org/ledgercore/internal/types"
)

var (
	ErrTxPoolFull     = errors.New("tx pool is full")
	ErrInvalidMaxSize = errors.New("invalid tx pool maximum size")
	ErrTxIsNil        = errors.New("tx is nil")
	ErrTxInPool       = errors.New("tx already in tx pool")
	ErrFeeTooLow      = errors.New("replacement fee must be greater than the pooled transaction fee")
)

var log = logger.CreateForPackage()

var (
	mAccepted = metrics.GetOrRegisterCounter("txpool/accepted")
	mRejected = metrics.GetOrRegisterCounter("txpool/rejected")
	mReplaced = metrics.GetOrRegisterCounter("txpool/replaced")
	mEvicted  = metrics.GetOrRegisterCounter("txpool/evicted")
	mSize     = metrics.GetOrRegisterGauge("txpool/size")
)

type (
	// TxPool holds unconfirmed transactions. For every sender it keeps a run of
	// consecutive nonces starting at the next nonce expected by the canonical
	// snapshot, at most one transaction per nonce.
	TxPool struct {
		mutex         sync.RWMutex
		conf          *configuration
		ledger        *state.Ledger
		hashAlgorithm gocrypto.Hash
		transactions  map[crypto.Hash]*entry
		senders       map[types.Address]senderQueue
	}

	entry struct {
		tx     *types.Transaction
		id     crypto.Hash
		sender types.Address
		debit  uint64
		size   int
		added  time.Time
	}

	// senderQueue indexes pooled transactions of one sender by nonce.
	senderQueue map[uint64]*entry
)

// New creates a new instance of the tx pool. Ledger is used for the state
// independent transaction checks.
func New(ledger *state.Ledger, opts ...Option) (*TxPool, error) {
	if ledger == nil {
		return nil, errors.New("ledger is nil")
	}
	conf, err := loadConfiguration(opts)
	if err != nil {
		return nil, err
	}
	return &TxPool{
		conf:          conf,
		ledger:        ledger,
		hashAlgorithm: ledger.HashAlgorithm(),
		transactions:  make(map[crypto.Hash]*entry),
		senders:       make(map[types.Address]senderQueue),
	}, nil
}

// Submit validates tx against snapshot at and adds it to the pool. A
// transaction with the same sender and nonce as a pooled one replaces it only
// when it pays a strictly greater fee.
func (p *TxPool) Submit(tx *types.Transaction, at *state.Snapshot, now time.Time) (crypto.Hash, error) {
	id, err := p.submit(tx, at, now)
	if err != nil {
		mRejected.Inc(1)
		log.Debug("tx %s rejected: %v", id.Short(), err)
		return id, err
	}
	mAccepted.Inc(1)
	return id, nil
}

func (p *TxPool) submit(tx *types.Transaction, at *state.Snapshot, now time.Time) (crypto.Hash, error) {
	if tx == nil {
		return crypto.ZeroHash, ErrTxIsNil
	}
	id := tx.Hash(p.hashAlgorithm)
	if size := tx.Size(); size > p.conf.maxTxSize {
		return id, &types.StructuralError{Code: types.TooLarge, Msg: fmt.Sprintf("tx size %d exceeds limit %d", size, p.conf.maxTxSize)}
	}
	if err := p.ledger.VerifyTx(tx); err != nil {
		return id, err
	}
	debit, err := tx.SumInputs()
	if err != nil {
		return id, err
	}
	e := &entry{tx: tx, id: id, sender: tx.SenderAddress(p.hashAlgorithm), debit: debit, size: tx.Size(), added: now}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	if _, found := p.transactions[id]; found {
		return id, ErrTxInPool
	}
	acc, ok := at.Account(e.sender)
	if !ok {
		return id, state.NewApplyError(state.UnknownInput, id, "sender account %s does not exist", e.sender)
	}
	expected := acc.Nonce + 1
	queue := p.senders[e.sender]
	if tx.Nonce < expected {
		return id, state.NewApplyError(state.DoubleSpend, id, "nonce %d already used, next is %d", tx.Nonce, expected)
	}
	replaced := queue[tx.Nonce]
	if replaced == nil && tx.Nonce != expected && queue[tx.Nonce-1] == nil {
		return id, state.NewApplyError(state.BadNonce, id, "nonce %d leaves a gap, next is %d", tx.Nonce, expected+uint64(len(queue)))
	}
	if replaced != nil && tx.Fee <= replaced.tx.Fee {
		return id, fmt.Errorf("%w: pooled fee %d, new fee %d", ErrFeeTooLow, replaced.tx.Fee, tx.Fee)
	}
	// every pooled transaction of the sender must be payable from the current balance
	var spending uint64
	for _, pe := range queue {
		if pe != replaced {
			spending += pe.debit
		}
	}
	if spending+debit < spending || spending+debit > acc.Balance {
		return id, state.NewApplyError(state.InsufficientFunds, id, "balance %d, pooled spending %d, spending %d", acc.Balance, spending, debit)
	}

	if replaced != nil {
		p.removeEntry(replaced)
		mReplaced.Inc(1)
		log.Debug("tx %s replaced by %s (fee %d > %d)", replaced.id.Short(), id.Short(), tx.Fee, replaced.tx.Fee)
	} else if len(p.transactions) >= p.conf.maxSize {
		victim := p.evictionCandidate(e.sender)
		if victim == nil || victim.tx.Fee >= tx.Fee {
			return id, ErrTxPoolFull
		}
		p.removeEntry(victim)
		mEvicted.Inc(1)
		log.Debug("tx %s evicted by higher fee tx %s", victim.id.Short(), id.Short())
	}
	p.addEntry(e)
	return id, nil
}

// evictionCandidate returns the cheapest last-nonce entry of any other sender.
func (p *TxPool) evictionCandidate(exclude types.Address) *entry {
	var victim *entry
	for addr, q := range p.senders {
		if addr == exclude {
			continue
		}
		last := q.last()
		if victim == nil || last.tx.Fee < victim.tx.Fee || (last.tx.Fee == victim.tx.Fee && victim.id.Less(last.id)) {
			victim = last
		}
	}
	return victim
}

func (q senderQueue) last() *entry {
	var last *entry
	for _, e := range q {
		if last == nil || e.tx.Nonce > last.tx.Nonce {
			last = e
		}
	}
	return last
}

func (p *TxPool) addEntry(e *entry) {
	p.transactions[e.id] = e
	q := p.senders[e.sender]
	if q == nil {
		q = make(senderQueue)
		p.senders[e.sender] = q
	}
	q[e.tx.Nonce] = e
	mSize.Update(int64(len(p.transactions)))
}

func (p *TxPool) removeEntry(e *entry) {
	delete(p.transactions, e.id)
	if q := p.senders[e.sender]; q != nil && q[e.tx.Nonce] == e {
		delete(q, e.tx.Nonce)
		if len(q) == 0 {
			delete(p.senders, e.sender)
		}
	}
	mSize.Update(int64(len(p.transactions)))
}

// SelectForBlock picks transactions greedily by fee, highest first. Per
// sender the transactions are taken in nonce order starting from the nonce
// expected by snapshot at, and only while the sender balance covers them.
// Equal fees are ordered by the smaller transaction id. Limits less than
// one are not enforced. The pool is not modified.
func (p *TxPool) SelectForBlock(at *state.Snapshot, maxCount, maxTotalSize int) []*types.Transaction {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	type cursor struct {
		next    uint64
		balance uint64
	}
	cursors := make(map[types.Address]*cursor, len(p.senders))
	h := &feeHeap{}
	for addr, q := range p.senders {
		acc, ok := at.Account(addr)
		if !ok {
			continue
		}
		c := &cursor{next: acc.Nonce + 1, balance: acc.Balance}
		cursors[addr] = c
		if e := q[c.next]; e != nil {
			*h = append(*h, e)
		}
	}
	heap.Init(h)

	var selected []*types.Transaction
	totalSize := 0
	for h.Len() > 0 && (maxCount < 1 || len(selected) < maxCount) {
		e := heap.Pop(h).(*entry)
		c := cursors[e.sender]
		if e.debit > c.balance {
			continue
		}
		if maxTotalSize > 0 && totalSize+e.size > maxTotalSize {
			continue
		}
		selected = append(selected, e.tx)
		totalSize += e.size
		c.balance -= e.debit
		c.next++
		if nx := p.senders[e.sender][c.next]; nx != nil {
			heap.Push(h, nx)
		}
	}
	return selected
}

// Remove drops the transactions with given ids, ie those included in a canonical block.
func (p *TxPool) Remove(ids ...crypto.Hash) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	for _, id := range ids {
		if e, ok := p.transactions[id]; ok {
			p.removeEntry(e)
		}
	}
}

// Reinstate resubmits transactions of blocks which left the canonical chain.
// Transactions are validated against the new canonical snapshot and the ones
// no longer valid are dropped. Returns the number of transactions accepted.
func (p *TxPool) Reinstate(txs []*types.Transaction, at *state.Snapshot, now time.Time) int {
	accepted := 0
	for _, tx := range txs {
		id, err := p.submit(tx, at, now)
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, ErrTxInPool):
		default:
			log.Debug("orphaned tx %s dropped: %v", id.Short(), err)
		}
	}
	return accepted
}

// Reconcile drops transactions made invalid by a canonical change: nonces
// already used by at, transactions left behind a nonce gap and the ones the
// sender balance no longer covers. Returns the number of dropped transactions.
func (p *TxPool) Reconcile(at *state.Snapshot) int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	dropped := 0
	for addr, q := range p.senders {
		acc, _ := at.Account(addr)
		nonce := acc.Nonce + 1
		balance := acc.Balance
		keep := make(map[*entry]struct{}, len(q))
		for e := q[nonce]; e != nil && e.debit <= balance; e = q[nonce] {
			keep[e] = struct{}{}
			balance -= e.debit
			nonce++
		}
		for _, e := range q {
			if _, ok := keep[e]; !ok {
				p.removeEntry(e)
				dropped++
			}
		}
	}
	return dropped
}

// EvictExpired drops transactions older than the configured time to live,
// together with the higher nonce transactions of the same sender which
// depend on them. Returns the number of evicted transactions.
func (p *TxPool) EvictExpired(now time.Time) int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	evicted := 0
	for _, e := range p.transactions {
		if _, ok := p.transactions[e.id]; !ok || now.Sub(e.added) < p.conf.ttl {
			continue
		}
		q := p.senders[e.sender]
		for n := e.tx.Nonce; q[n] != nil; n++ {
			p.removeEntry(q[n])
			evicted++
		}
	}
	if evicted > 0 {
		mEvicted.Inc(int64(evicted))
		log.Debug("evicted %d expired transactions", evicted)
	}
	return evicted
}

func (p *TxPool) Get(id crypto.Hash) (*types.Transaction, bool) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	if e, ok := p.transactions[id]; ok {
		return e.tx, true
	}
	return nil, false
}

func (p *TxPool) Contains(id crypto.Hash) bool {
	_, ok := p.Get(id)
	return ok
}

func (p *TxPool) Len() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return len(p.transactions)
}

// feeHeap orders entries by fee, highest first, then by smaller id.
type feeHeap []*entry

func (h feeHeap) Len() int { return len(h) }
func (h feeHeap) Less(i, j int) bool {
	if h[i].tx.Fee != h[j].tx.Fee {
		return h[i].tx.Fee > h[j].tx.Fee
	}
	return h[i].id.Less(h[j].id)
}
func (h feeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *feeHeap) Push(x any)   { *h = append(*h, x.(*entry)) }
func (h *feeHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
