package txpool

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/loadnetwork/load-el/engine"
)

// Blob ingress errors.
var (
	ErrBlobTxMissingHashes  = errors.New("blob transaction missing versioned hashes")
	ErrTooManyBlobs         = errors.New("blob transaction exceeds per-transaction blob cap")
	ErrMissingSidecar       = errors.New("blob transaction missing sidecar")
	ErrSidecarCountMismatch = errors.New("sidecar does not match blob hash count")
	ErrInvalidVersionedHash = errors.New("invalid versioned hash")
	ErrInvalidBlobProof     = errors.New("invalid blob proof")
)

// Intrinsic gas constants.
const (
	TxGas                 uint64 = 21000
	TxGasContractCreation uint64 = 53000
	TxDataZeroGas         uint64 = 4
	TxDataNonZeroGas      uint64 = 16
)

// IntrinsicGas computes the base gas cost of a transaction's calldata.
func IntrinsicGas(data []byte, isContractCreation bool) uint64 {
	gas := TxGas
	if isContractCreation {
		gas = TxGasContractCreation
	}
	for _, b := range data {
		if b == 0 {
			gas += TxDataZeroGas
		} else {
			gas += TxDataNonZeroGas
		}
	}
	return gas
}

// validateTx performs the stateless checks on a transaction.
func (pool *TxPool) validateTx(tx *types.Transaction) error {
	switch tx.Type() {
	case types.LegacyTxType, types.AccessListTxType, types.DynamicFeeTxType, types.BlobTxType, types.SetCodeTxType:
	default:
		return fmt.Errorf("%w: %d", ErrTxTypeNotSupported, tx.Type())
	}
	if tx.Type() != types.LegacyTxType && tx.ChainId().Cmp(pool.chainID) != 0 {
		return fmt.Errorf("%w: chain id %v", ErrInvalidSender, tx.ChainId())
	}
	if tx.Gas() > pool.config.BlockGasLimit {
		return ErrGasLimit
	}
	if tx.WithoutBlobTxSidecar().Size() > MaxTxSize {
		return ErrOversizedData
	}
	if tx.Gas() < IntrinsicGas(tx.Data(), tx.To() == nil) {
		return ErrIntrinsicGas
	}
	if tx.GasFeeCapIntCmp(tx.GasTipCap()) < 0 {
		return ErrFeeCapBelowTip
	}
	if tx.Type() == types.BlobTxType {
		return pool.validateBlobTx(tx)
	}
	return nil
}

// validateBlobTx checks the blob count, the sidecar shape and the
// versioned hashes, then the KZG proofs if a verifier is configured.
func (pool *TxPool) validateBlobTx(tx *types.Transaction) error {
	hashes := tx.BlobHashes()
	if len(hashes) == 0 {
		return ErrBlobTxMissingHashes
	}
	if len(hashes) > pool.config.MaxBlobsPerTx {
		return fmt.Errorf("%w: %d > %d", ErrTooManyBlobs, len(hashes), pool.config.MaxBlobsPerTx)
	}
	sc := tx.BlobTxSidecar()
	if sc == nil {
		return ErrMissingSidecar
	}
	if len(sc.Blobs) != len(hashes) || len(sc.Commitments) != len(hashes) || len(sc.Proofs) != len(hashes) {
		return fmt.Errorf("%w: %d hashes, %d blobs, %d commitments, %d proofs", ErrSidecarCountMismatch,
			len(hashes), len(sc.Blobs), len(sc.Commitments), len(sc.Proofs))
	}
	for i, h := range hashes {
		if !engine.IsKZGVersionedHash(h) {
			return fmt.Errorf("%w: index %d has version 0x%02x", ErrInvalidVersionedHash, i, h[0])
		}
	}
	if err := engine.CheckSidecarHashes(sc, hashes); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidVersionedHash, err)
	}
	if pool.verifier != nil {
		if err := pool.verifier.VerifySidecar(sc); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidBlobProof, err)
		}
	}
	return nil
}

// rejectReason maps an ingress error to a metric label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrTooManyBlobs):
		return "too_many_blobs"
	case errors.Is(err, ErrMissingSidecar):
		return "missing_sidecar"
	case errors.Is(err, ErrSidecarCountMismatch):
		return "sidecar_mismatch"
	case errors.Is(err, ErrInvalidVersionedHash):
		return "invalid_versioned_hash"
	case errors.Is(err, ErrInvalidBlobProof):
		return "invalid_proof"
	case errors.Is(err, ErrAlreadyKnown):
		return "known"
	case errors.Is(err, ErrNonceTooLow), errors.Is(err, ErrNonceTooHigh):
		return "nonce"
	case errors.Is(err, ErrReplacementUnderpriced):
		return "underpriced"
	case errors.Is(err, ErrTxPoolFull), errors.Is(err, ErrSenderLimitExceeded):
		return "full"
	default:
		return "invalid"
	}
}
