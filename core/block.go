package core

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
)

var ErrInvalidTransaction = errors.New("invalid transaction encoding")

// Block is the execution collaborator's record of an accepted block: the
// sealed header plus the canonical transaction and withdrawal encodings.
type Block struct {
	Header       *types.Header
	Transactions [][]byte
	Withdrawals  []*types.Withdrawal
}

// Hash returns the block hash (keccak of the RLP header).
func (b *Block) Hash() common.Hash { return b.Header.Hash() }

// NumberU64 returns the block number.
func (b *Block) NumberU64() uint64 { return b.Header.Number.Uint64() }

// DecodeTransactions decodes canonical (network-less) transaction encodings.
func DecodeTransactions(raw [][]byte) (types.Transactions, error) {
	txs := make(types.Transactions, len(raw))
	for i, enc := range raw {
		tx := new(types.Transaction)
		if err := tx.UnmarshalBinary(enc); err != nil {
			return nil, fmt.Errorf("%w: tx %d: %v", ErrInvalidTransaction, i, err)
		}
		txs[i] = tx
	}
	return txs, nil
}

// TransactionsRoot derives the transactions trie root.
func TransactionsRoot(txs types.Transactions) common.Hash {
	return types.DeriveSha(txs, trie.NewStackTrie(nil))
}

// WithdrawalsRoot derives the withdrawals trie root.
func WithdrawalsRoot(ws []*types.Withdrawal) common.Hash {
	return types.DeriveSha(types.Withdrawals(ws), trie.NewStackTrie(nil))
}

func encodeBlock(b *Block) ([]byte, error) {
	return rlp.EncodeToBytes(b)
}

func decodeBlock(data []byte) (*Block, error) {
	b := new(Block)
	if err := rlp.DecodeBytes(data, b); err != nil {
		return nil, err
	}
	return b, nil
}

// NewGenesisHeader returns the header of an empty post-merge genesis block.
func NewGenesisHeader(config *ChainConfig, gasLimit, timestamp uint64) *types.Header {
	var (
		blobGasUsed   uint64
		excessBlobGas uint64
		beaconRoot    common.Hash
		withdrawals   = types.EmptyWithdrawalsHash
	)
	h := &types.Header{
		UncleHash:        types.EmptyUncleHash,
		Root:             types.EmptyRootHash,
		TxHash:           types.EmptyTxsHash,
		ReceiptHash:      types.EmptyReceiptsHash,
		Difficulty:       new(big.Int),
		Number:           new(big.Int),
		GasLimit:         gasLimit,
		Time:             timestamp,
		MixDigest:        LoadPrevRandao,
		BaseFee:          big.NewInt(InitialBaseFee),
		WithdrawalsHash:  &withdrawals,
		BlobGasUsed:      &blobGasUsed,
		ExcessBlobGas:    &excessBlobGas,
		ParentBeaconRoot: &beaconRoot,
	}
	if config.IsPrague(timestamp) {
		requests := types.EmptyRequestsHash
		h.RequestsHash = &requests
	}
	return h
}
