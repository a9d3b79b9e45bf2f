package engine

import (
	"container/heap"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// orderedTx is a candidate with its effective tip at the block base fee.
type orderedTx struct {
	tx   *types.Transaction
	from common.Address
	tip  *big.Int
}

// txsByTipAndNonce yields transactions by descending effective tip while
// keeping each sender's transactions in nonce order. Only the lowest-nonce
// transaction of every sender competes on tip at any time.
type txsByTipAndNonce struct {
	heads   tipHeap
	pending map[common.Address][]*orderedTx
}

// newTxsByTipAndNonce groups txs by sender. Transactions whose fee cap is
// below baseFee, or whose sender cannot be recovered, are dropped.
func newTxsByTipAndNonce(signer types.Signer, txs []*types.Transaction, baseFee *big.Int) *txsByTipAndNonce {
	bySender := make(map[common.Address][]*orderedTx)
	for _, tx := range txs {
		from, err := types.Sender(signer, tx)
		if err != nil {
			continue
		}
		tip, err := tx.EffectiveGasTip(baseFee)
		if err != nil {
			continue
		}
		bySender[from] = append(bySender[from], &orderedTx{tx: tx, from: from, tip: tip})
	}
	t := &txsByTipAndNonce{pending: make(map[common.Address][]*orderedTx, len(bySender))}
	for from, list := range bySender {
		slices.SortStableFunc(list, func(a, b *orderedTx) int {
			switch {
			case a.tx.Nonce() < b.tx.Nonce():
				return -1
			case a.tx.Nonce() > b.tx.Nonce():
				return 1
			}
			return 0
		})
		t.heads = append(t.heads, list[0])
		t.pending[from] = list[1:]
	}
	heap.Init(&t.heads)
	return t
}

// Peek returns the best candidate, or nil when exhausted.
func (t *txsByTipAndNonce) Peek() *orderedTx {
	if len(t.heads) == 0 {
		return nil
	}
	return t.heads[0]
}

// Shift replaces the current best with the next transaction of the same
// sender.
func (t *txsByTipAndNonce) Shift() {
	from := t.heads[0].from
	if rest := t.pending[from]; len(rest) > 0 {
		t.heads[0] = rest[0]
		t.pending[from] = rest[1:]
		heap.Fix(&t.heads, 0)
		return
	}
	heap.Pop(&t.heads)
}

// Pop drops the current best and every later transaction of its sender,
// which could no longer execute without it.
func (t *txsByTipAndNonce) Pop() {
	delete(t.pending, t.heads[0].from)
	heap.Pop(&t.heads)
}

type tipHeap []*orderedTx

func (h tipHeap) Len() int { return len(h) }

func (h tipHeap) Less(i, j int) bool {
	if c := h[i].tip.Cmp(h[j].tip); c != 0 {
		return c > 0
	}
	if h[i].tx.Nonce() != h[j].tx.Nonce() {
		return h[i].tx.Nonce() < h[j].tx.Nonce()
	}
	return h[i].tx.Time().Before(h[j].tx.Time())
}

func (h tipHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *tipHeap) Push(x any) { *h = append(*h, x.(*orderedTx)) }

func (h *tipHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}
