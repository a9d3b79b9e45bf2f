package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/loadnetwork/load-el/core"
)

// PayloadToBlock rebuilds the block described by a payload. The returned
// block's hash is computed from the reconstructed header and must be
// compared with payload.BlockHash by the caller.
func PayloadToBlock(payload *ExecutionPayloadV3, txs types.Transactions, beaconRoot common.Hash, requests [][]byte) (*core.Block, error) {
	if len(payload.LogsBloom) != types.BloomByteLength {
		return nil, fmt.Errorf("%w: logsBloom length %d", ErrInvalidParams, len(payload.LogsBloom))
	}
	if payload.BaseFeePerGas == nil {
		return nil, fmt.Errorf("%w: missing baseFeePerGas", ErrInvalidParams)
	}
	if payload.Withdrawals == nil {
		return nil, fmt.Errorf("%w: missing withdrawals", ErrInvalidParams)
	}
	var (
		withdrawalsRoot = core.WithdrawalsRoot(payload.Withdrawals)
		blobGasUsed     = uint64(payload.BlobGasUsed)
		excessBlobGas   = uint64(payload.ExcessBlobGas)
	)
	header := &types.Header{
		ParentHash:       payload.ParentHash,
		UncleHash:        types.EmptyUncleHash,
		Coinbase:         payload.FeeRecipient,
		Root:             payload.StateRoot,
		TxHash:           core.TransactionsRoot(txs),
		ReceiptHash:      payload.ReceiptsRoot,
		Bloom:            types.BytesToBloom(payload.LogsBloom),
		Difficulty:       new(big.Int),
		Number:           new(big.Int).SetUint64(uint64(payload.BlockNumber)),
		GasLimit:         uint64(payload.GasLimit),
		GasUsed:          uint64(payload.GasUsed),
		Time:             uint64(payload.Timestamp),
		Extra:            payload.ExtraData,
		MixDigest:        payload.PrevRandao,
		BaseFee:          (*big.Int)(payload.BaseFeePerGas),
		WithdrawalsHash:  &withdrawalsRoot,
		BlobGasUsed:      &blobGasUsed,
		ExcessBlobGas:    &excessBlobGas,
		ParentBeaconRoot: &beaconRoot,
	}
	if requests != nil {
		h := types.CalcRequestsHash(requests)
		header.RequestsHash = &h
	}
	raw := make([][]byte, len(payload.Transactions))
	for i, tx := range payload.Transactions {
		raw[i] = tx
	}
	return &core.Block{Header: header, Transactions: raw, Withdrawals: payload.Withdrawals}, nil
}

// BlockToPayload renders a block as a V3 execution payload.
func BlockToPayload(block *core.Block) *ExecutionPayloadV3 {
	h := block.Header
	txs := make([]hexutil.Bytes, len(block.Transactions))
	for i, tx := range block.Transactions {
		txs[i] = tx
	}
	withdrawals := block.Withdrawals
	if withdrawals == nil {
		withdrawals = []*types.Withdrawal{}
	}
	p := &ExecutionPayloadV3{
		ParentHash:    h.ParentHash,
		FeeRecipient:  h.Coinbase,
		StateRoot:     h.Root,
		ReceiptsRoot:  h.ReceiptHash,
		LogsBloom:     h.Bloom.Bytes(),
		PrevRandao:    h.MixDigest,
		BlockNumber:   hexutil.Uint64(h.Number.Uint64()),
		GasLimit:      hexutil.Uint64(h.GasLimit),
		GasUsed:       hexutil.Uint64(h.GasUsed),
		Timestamp:     hexutil.Uint64(h.Time),
		ExtraData:     h.Extra,
		BaseFeePerGas: (*hexutil.Big)(h.BaseFee),
		BlockHash:     block.Hash(),
		Transactions:  txs,
		Withdrawals:   withdrawals,
	}
	if h.BlobGasUsed != nil {
		p.BlobGasUsed = hexutil.Uint64(*h.BlobGasUsed)
	}
	if h.ExcessBlobGas != nil {
		p.ExcessBlobGas = hexutil.Uint64(*h.ExcessBlobGas)
	}
	return p
}

// computePayloadID derives a deterministic id from the build parent and
// every attribute that influences the built block.
func computePayloadID(parent common.Hash, attrs *PayloadAttributesV3) PayloadID {
	hasher := sha256.New()
	hasher.Write(parent[:])
	binary.Write(hasher, binary.BigEndian, uint64(attrs.Timestamp))
	hasher.Write(attrs.PrevRandao[:])
	hasher.Write(attrs.SuggestedFeeRecipient[:])
	rlp.Encode(hasher, attrs.Withdrawals)
	if attrs.ParentBeaconBlockRoot != nil {
		hasher.Write(attrs.ParentBeaconBlockRoot[:])
	}
	if attrs.MaxBlobCount != nil {
		binary.Write(hasher, binary.BigEndian, uint64(*attrs.MaxBlobCount))
	}
	var out PayloadID
	copy(out[:], hasher.Sum(nil)[:8])
	return out
}
