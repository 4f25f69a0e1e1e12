package core

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ledgerforge/forgechain/core/txerr"
)

const maxMempoolSize = 10_000

// Mempool is a thread-safe pending-transaction pool (§4.6's "pending
// pool"). Structural checks (duplicate, expiration, capacity) happen here;
// authority and per-operation evaluation happen in the vm package via the
// optional Validate hook, since those require the live Chain.
type Mempool struct {
	mu  sync.RWMutex
	txs map[string]*Transaction
	ord []string // insertion order, for deterministic pending iteration

	// Validate, if set, is called before a transaction is admitted; it
	// should run the same authority+evaluate checks the executor runs for
	// block inclusion, just without committing anything.
	Validate func(tx *Transaction) error
}

// NewMempool creates an empty mempool.
func NewMempool() *Mempool {
	return &Mempool{txs: make(map[string]*Transaction)}
}

// Add structurally validates and inserts a transaction.
func (m *Mempool) Add(tx *Transaction, headTime int64) error {
	if tx.Expiration < headTime {
		return fmt.Errorf("%w: transaction expiration %d before head time %d", txerr.ErrExpired, tx.Expiration, headTime)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.txs) >= maxMempoolSize {
		return errors.New("core: mempool full")
	}
	if _, exists := m.txs[tx.ID]; exists {
		return fmt.Errorf("%w: transaction %s already in pool", txerr.ErrDuplicate, tx.ID)
	}
	if m.Validate != nil {
		if err := m.Validate(tx); err != nil {
			return err
		}
	}
	m.txs[tx.ID] = tx
	m.ord = append(m.ord, tx.ID)
	return nil
}

// Get returns a transaction by ID.
func (m *Mempool) Get(id string) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[id]
	return tx, ok
}

// Pending returns up to n pending transactions in insertion order, or all
// of them if n <= 0.
func (m *Mempool) Pending(n int) []*Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Transaction, 0, len(m.ord))
	for _, id := range m.ord {
		if tx, ok := m.txs[id]; ok {
			result = append(result, tx)
			if n > 0 && len(result) >= n {
				break
			}
		}
	}
	return result
}

// Drain removes and returns every pending transaction, for the "pending
// pool emptied into a dedicated undo session" step of block apply (§4.6).
func (m *Mempool) Drain() []*Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]*Transaction, 0, len(m.ord))
	for _, id := range m.ord {
		if tx, ok := m.txs[id]; ok {
			result = append(result, tx)
		}
	}
	m.txs = make(map[string]*Transaction)
	m.ord = nil
	return result
}

// Remove deletes transactions by ID (called after block commit, for the
// subset now included on-chain).
func (m *Mempool) Remove(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := make(map[string]bool, len(ids))
	for _, id := range ids {
		delete(m.txs, id)
		removed[id] = true
	}
	filtered := m.ord[:0]
	for _, id := range m.ord {
		if !removed[id] {
			filtered = append(filtered, id)
		}
	}
	m.ord = filtered
}

// Size returns the current number of pending transactions.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.txs)
}

// Now is a var so tests can fake the clock without touching the system one.
var Now = func() int64 { return time.Now().Unix() }
