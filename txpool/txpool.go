// Package txpool holds pending transactions for the payload builder. Blob
// transactions are admitted only with a well-formed sidecar.
package txpool

import (
	"errors"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/loadnetwork/load-el/core"
	"github.com/loadnetwork/load-el/log"
)

// Pool constants.
const (
	// PriceBump is the minimum tip bump percentage for a same-nonce
	// replacement.
	PriceBump = 10

	// MaxPoolSize is the maximum number of transactions the pool holds.
	MaxPoolSize = 4096

	// MaxPerSender is the maximum number of transactions per sender.
	MaxPerSender = 64

	// MaxTxSize caps the encoded size of a transaction without its sidecar.
	MaxTxSize = 128 * 1024

	// MaxNonceGap is how far ahead of the next expected nonce a
	// transaction may be.
	MaxNonceGap = 64
)

// Error codes for transaction validation.
var (
	ErrAlreadyKnown           = errors.New("already known")
	ErrNonceTooLow            = errors.New("nonce too low")
	ErrNonceTooHigh           = errors.New("nonce too high")
	ErrGasLimit               = errors.New("exceeds block gas limit")
	ErrIntrinsicGas           = errors.New("intrinsic gas too low")
	ErrTxPoolFull             = errors.New("transaction pool is full")
	ErrOversizedData          = errors.New("oversized data")
	ErrReplacementUnderpriced = errors.New("replacement transaction underpriced")
	ErrSenderLimitExceeded    = errors.New("per-sender transaction limit exceeded")
	ErrFeeCapBelowTip         = errors.New("max fee per gas less than max priority fee per gas")
	ErrInvalidSender          = errors.New("invalid sender")
	ErrTxTypeNotSupported     = errors.New("transaction type not supported")
)

// Config holds TxPool configuration.
type Config struct {
	MaxSize       int    // Maximum number of transactions in pool
	MaxPerSender  int    // Maximum pending per sender
	BlockGasLimit uint64 // Current block gas limit
	MaxBlobsPerTx int    // Blob cap for one transaction
}

// DefaultConfig returns sensible defaults for the pool.
func DefaultConfig() Config {
	return Config{
		MaxSize:       MaxPoolSize,
		MaxPerSender:  MaxPerSender,
		BlockGasLimit: 30_000_000,
		MaxBlobsPerTx: core.LoadMaxBlobsPerTx,
	}
}

// BlobVerifier checks the KZG proofs of a sidecar.
type BlobVerifier interface {
	VerifySidecar(sc *types.BlobTxSidecar) error
}

// Metrics receives pool observations.
type Metrics interface {
	RecordPoolAdd()
	RecordPoolReject(reason string)
	RecordPoolPending(n int)
}

type nopMetrics struct{}

func (nopMetrics) RecordPoolAdd()          {}
func (nopMetrics) RecordPoolReject(string) {}
func (nopMetrics) RecordPoolPending(int)   {}

// txLookup tracks transactions by hash for fast duplicate detection.
type txLookup struct {
	all map[common.Hash]*types.Transaction
}

func newTxLookup() *txLookup {
	return &txLookup{all: make(map[common.Hash]*types.Transaction)}
}

func (l *txLookup) Get(hash common.Hash) *types.Transaction { return l.all[hash] }
func (l *txLookup) Add(tx *types.Transaction)                { l.all[tx.Hash()] = tx }
func (l *txLookup) Remove(hash common.Hash)                  { delete(l.all, hash) }
func (l *txLookup) Count() int                               { return len(l.all) }

// txSortedList maintains a sorted list of transactions by nonce for a single sender.
type txSortedList struct {
	items []*types.Transaction
}

func (l *txSortedList) Add(tx *types.Transaction) {
	idx := sort.Search(len(l.items), func(i int) bool {
		return l.items[i].Nonce() >= tx.Nonce()
	})
	if idx < len(l.items) && l.items[idx].Nonce() == tx.Nonce() {
		l.items[idx] = tx
		return
	}
	l.items = append(l.items, nil)
	copy(l.items[idx+1:], l.items[idx:])
	l.items[idx] = tx
}

func (l *txSortedList) Get(nonce uint64) *types.Transaction {
	idx := sort.Search(len(l.items), func(i int) bool {
		return l.items[i].Nonce() >= nonce
	})
	if idx < len(l.items) && l.items[idx].Nonce() == nonce {
		return l.items[idx]
	}
	return nil
}

func (l *txSortedList) Remove(nonce uint64) bool {
	for i, tx := range l.items {
		if tx.Nonce() == nonce {
			l.items = append(l.items[:i], l.items[i+1:]...)
			return true
		}
	}
	return false
}

// Forward drops every transaction with a nonce below threshold and returns
// them.
func (l *txSortedList) Forward(threshold uint64) []*types.Transaction {
	idx := sort.Search(len(l.items), func(i int) bool {
		return l.items[i].Nonce() >= threshold
	})
	removed := l.items[:idx:idx]
	l.items = l.items[idx:]
	return removed
}

func (l *txSortedList) Len() int { return len(l.items) }

// Ready returns transactions that are ready to execute (sequential from baseNonce).
func (l *txSortedList) Ready(baseNonce uint64) []*types.Transaction {
	var ready []*types.Transaction
	expectedNonce := baseNonce
	for _, tx := range l.items {
		if tx.Nonce() != expectedNonce {
			break
		}
		ready = append(ready, tx)
		expectedNonce++
	}
	return ready
}

// TxPool keeps pending transactions per sender in nonce order.
type TxPool struct {
	config   Config
	chainID  *big.Int
	signer   types.Signer
	verifier BlobVerifier
	metrics  Metrics
	log      *log.Logger

	mu      sync.RWMutex
	pending map[common.Address]*txSortedList
	nonces  map[common.Address]uint64 // next nonce after the last included tx
	lookup  *txLookup
}

// New creates a pool for chainID. A nil verifier skips KZG proof checks; a
// nil metrics handle disables observation.
func New(config Config, chainID *big.Int, verifier BlobVerifier, m Metrics, logger *log.Logger) *TxPool {
	if logger == nil {
		logger = log.Default()
	}
	if m == nil {
		m = nopMetrics{}
	}
	if config.MaxBlobsPerTx <= 0 || config.MaxBlobsPerTx > core.LoadMaxBlobsPerTx {
		config.MaxBlobsPerTx = core.LoadMaxBlobsPerTx
	}
	return &TxPool{
		config:   config,
		chainID:  chainID,
		signer:   types.LatestSignerForChainID(chainID),
		verifier: verifier,
		metrics:  m,
		log:      logger.Module("txpool"),
		pending:  make(map[common.Address]*txSortedList),
		nonces:   make(map[common.Address]uint64),
		lookup:   newTxLookup(),
	}
}

// Add validates tx and admits it. Blob transactions must carry their
// sidecar.
func (pool *TxPool) Add(tx *types.Transaction) error {
	err := pool.add(tx)
	if err != nil {
		pool.metrics.RecordPoolReject(rejectReason(err))
		pool.log.Debug("Rejected transaction", "hash", tx.Hash(), "err", err)
		return err
	}
	pool.metrics.RecordPoolAdd()
	pool.metrics.RecordPoolPending(pool.Count())
	return nil
}

func (pool *TxPool) add(tx *types.Transaction) error {
	if err := pool.validateTx(tx); err != nil {
		return err
	}
	from, err := types.Sender(pool.signer, tx)
	if err != nil {
		return ErrInvalidSender
	}

	pool.mu.Lock()
	defer pool.mu.Unlock()

	if pool.lookup.Get(tx.Hash()) != nil {
		return ErrAlreadyKnown
	}
	if base, ok := pool.nonces[from]; ok {
		if tx.Nonce() < base {
			return ErrNonceTooLow
		}
		if tx.Nonce() > base+MaxNonceGap {
			return ErrNonceTooHigh
		}
	}
	list := pool.pending[from]
	replaced := false
	if list != nil {
		if old := list.Get(tx.Nonce()); old != nil {
			if !hasSufficientBump(old, tx) {
				return ErrReplacementUnderpriced
			}
			pool.lookup.Remove(old.Hash())
			replaced = true
		}
	}
	if !replaced {
		if list != nil && list.Len() >= pool.config.MaxPerSender {
			return ErrSenderLimitExceeded
		}
		if pool.lookup.Count() >= pool.config.MaxSize {
			return ErrTxPoolFull
		}
	}
	if list == nil {
		list = new(txSortedList)
		pool.pending[from] = list
	}
	list.Add(tx)
	pool.lookup.Add(tx)
	return nil
}

// hasSufficientBump reports whether newTx raises both fee caps of oldTx by
// at least PriceBump percent.
func hasSufficientBump(oldTx, newTx *types.Transaction) bool {
	bumped := func(have, want *big.Int) bool {
		threshold := new(big.Int).Mul(have, big.NewInt(100+PriceBump))
		threshold.Div(threshold, big.NewInt(100))
		return want.Cmp(threshold) >= 0
	}
	return bumped(oldTx.GasTipCap(), newTx.GasTipCap()) && bumped(oldTx.GasFeeCap(), newTx.GasFeeCap())
}

// Pending returns every executable transaction: per sender, the run of
// consecutive nonces starting at the next expected nonce.
func (pool *TxPool) Pending() []*types.Transaction {
	pool.mu.RLock()
	defer pool.mu.RUnlock()

	var out []*types.Transaction
	for addr, list := range pool.pending {
		if list.Len() == 0 {
			continue
		}
		base, ok := pool.nonces[addr]
		if !ok {
			base = list.items[0].Nonce()
		}
		out = append(out, list.Ready(base)...)
	}
	return out
}

// Get retrieves a transaction by hash.
func (pool *TxPool) Get(hash common.Hash) *types.Transaction {
	pool.mu.RLock()
	defer pool.mu.RUnlock()
	return pool.lookup.Get(hash)
}

// Count returns the total number of transactions in the pool.
func (pool *TxPool) Count() int {
	pool.mu.RLock()
	defer pool.mu.RUnlock()
	return pool.lookup.Count()
}

// NewHead drops the transactions included in block and every transaction
// of the same senders with a lower nonce.
func (pool *TxPool) NewHead(block *core.Block) {
	txs, err := core.DecodeTransactions(block.Transactions)
	if err != nil {
		pool.log.Error("Failed to decode head transactions", "hash", block.Hash(), "err", err)
		return
	}
	pool.mu.Lock()
	dropped := 0
	for _, tx := range txs {
		from, err := types.Sender(pool.signer, tx)
		if err != nil {
			continue
		}
		if next := tx.Nonce() + 1; next > pool.nonces[from] {
			pool.nonces[from] = next
		}
		list := pool.pending[from]
		if list == nil {
			continue
		}
		for _, old := range list.Forward(pool.nonces[from]) {
			pool.lookup.Remove(old.Hash())
			dropped++
		}
		if list.Len() == 0 {
			delete(pool.pending, from)
		}
	}
	count := pool.lookup.Count()
	pool.mu.Unlock()

	pool.metrics.RecordPoolPending(count)
	if dropped > 0 {
		pool.log.Debug("Dropped included transactions", "head", block.Hash(), "dropped", dropped, "remaining", count)
	}
}
