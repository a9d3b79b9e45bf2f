package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/loadnetwork/load-el/core"
)

// ValidateAttributes checks payload attributes before any build work. The
// randomness check runs first and is independent of every other field.
func ValidateAttributes(cfg *core.ChainConfig, attrs *PayloadAttributesV3) error {
	if attrs.PrevRandao != core.LoadPrevRandao {
		return fmt.Errorf("%w: got %v", ErrInvalidRandomness, attrs.PrevRandao)
	}
	if !cfg.IsCancun(uint64(attrs.Timestamp)) {
		return fmt.Errorf("%w: attributes at %d predate cancun", ErrUnsupportedFork, uint64(attrs.Timestamp))
	}
	return nil
}

// ValidatePayloadRandomness checks the prevRandao of an inbound payload.
func ValidatePayloadRandomness(payload *ExecutionPayloadV3) error {
	if payload.PrevRandao != core.LoadPrevRandao {
		return fmt.Errorf("%w: got %v", ErrInvalidRandomness, payload.PrevRandao)
	}
	return nil
}

// ValidatePayloadBlobs enforces the per-transaction and per-block blob caps.
// A payload breaking either cap is rejected whole.
func ValidatePayloadBlobs(txs types.Transactions, versionedHashes []common.Hash) error {
	if n := len(versionedHashes); n > core.LoadMaxBlobCount {
		return fmt.Errorf("%w: %d versioned hashes (max %d)", ErrTooManyBlobsPerBlock, n, core.LoadMaxBlobCount)
	}
	for i, tx := range txs {
		if n := len(tx.BlobHashes()); n > core.LoadMaxBlobsPerTx {
			return fmt.Errorf("%w: tx %d carries %d blobs (max %d)", ErrTooManyBlobsPerTx, i, n, core.LoadMaxBlobsPerTx)
		}
	}
	return nil
}

// ValidateBlobConsistency checks that the versioned hashes supplied by the
// consensus client match the payload transactions and the blob gas header.
func ValidateBlobConsistency(txs types.Transactions, versionedHashes []common.Hash, blobGasUsed uint64) error {
	if err := CheckVersionedHashes(txs, versionedHashes); err != nil {
		return fmt.Errorf("%w: %v", ErrBlobHashMismatch, err)
	}
	if want := uint64(len(versionedHashes)) * core.GasPerBlob; blobGasUsed != want {
		return fmt.Errorf("%w: have %d, want %d", ErrBlobGasMismatch, blobGasUsed, want)
	}
	return nil
}

// ValidateRequests gates execution requests on Prague. A nil slice means
// the call carried no requests field. Before Prague any requests field is
// rejected, even an empty one; after Prague the field is required and must
// be the empty list. Entries of one byte or less are skipped by the requests
// hash, so the list length is checked rather than the hash.
func ValidateRequests(cfg *core.ChainConfig, timestamp uint64, requests [][]byte) error {
	if !cfg.IsPrague(timestamp) {
		if requests != nil {
			return fmt.Errorf("%w: timestamp %d", ErrRequestsBeforeActivation, timestamp)
		}
		return nil
	}
	if requests == nil {
		return ErrMissingRequests
	}
	if len(requests) != 0 {
		return fmt.Errorf("%w: %d requests", ErrRequestsNotEmpty, len(requests))
	}
	return nil
}
