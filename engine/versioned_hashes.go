package engine

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto/kzg4844"
)

// VersionKZG is the version byte of KZG-committed blob hashes.
const VersionKZG byte = 0x01

var (
	ErrVHInvalidVersion = errors.New("versioned_hashes: invalid version byte")
	ErrVHCountMismatch  = errors.New("versioned_hashes: hash count mismatch")
	ErrVHHashMismatch   = errors.New("versioned_hashes: hash mismatch")
)

// VersionedHash computes sha256(commitment) with the first byte replaced by
// the KZG version byte.
func VersionedHash(commitment kzg4844.Commitment) common.Hash {
	return kzg4844.CalcBlobHashV1(sha256.New(), &commitment)
}

// IsKZGVersionedHash reports whether h carries the KZG version byte.
func IsKZGVersionedHash(h common.Hash) bool {
	return h[0] == VersionKZG
}

// CollectBlobHashes concatenates the blob hashes of txs in block order.
func CollectBlobHashes(txs types.Transactions) []common.Hash {
	var out []common.Hash
	for _, tx := range txs {
		out = append(out, tx.BlobHashes()...)
	}
	return out
}

// CheckVersionedHashes verifies that expected lists exactly the blob hashes
// carried by txs, in order, and that every hash is version 0x01.
func CheckVersionedHashes(txs types.Transactions, expected []common.Hash) error {
	have := CollectBlobHashes(txs)
	if len(have) != len(expected) {
		return fmt.Errorf("%w: transactions carry %d, expected %d", ErrVHCountMismatch, len(have), len(expected))
	}
	for i := range have {
		if !IsKZGVersionedHash(have[i]) {
			return fmt.Errorf("%w: index %d: 0x%02x", ErrVHInvalidVersion, i, have[i][0])
		}
		if have[i] != expected[i] {
			return fmt.Errorf("%w: index %d: have %v, want %v", ErrVHHashMismatch, i, have[i], expected[i])
		}
	}
	return nil
}

// CheckSidecarHashes verifies that the commitments of a sidecar hash to the
// given versioned hashes.
func CheckSidecarHashes(sidecar *types.BlobTxSidecar, hashes []common.Hash) error {
	if len(sidecar.Commitments) != len(hashes) {
		return fmt.Errorf("%w: %d commitments, %d hashes", ErrVHCountMismatch, len(sidecar.Commitments), len(hashes))
	}
	for i, c := range sidecar.Commitments {
		if got := VersionedHash(c); got != hashes[i] {
			return fmt.Errorf("%w: index %d: have %v, want %v", ErrVHHashMismatch, i, got, hashes[i])
		}
	}
	return nil
}
