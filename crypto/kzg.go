// Package crypto wraps the go-eth-kzg library for blob proof verification
// at pool ingress.
package crypto

import (
	"errors"
	"fmt"
	"sync"

	goethkzg "github.com/crate-crypto/go-eth-kzg"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto/kzg4844"
)

var (
	ErrKZGSidecarShape = errors.New("kzg: sidecar blobs, commitments and proofs differ in length")
	ErrKZGInvalidProof = errors.New("kzg: invalid blob proof")
)

// KZGVerifier checks blob proofs against the Ethereum ceremony trusted
// setup. The setup is loaded once per process.
type KZGVerifier struct {
	ctx *goethkzg.Context
}

var (
	sharedOnce sync.Once
	sharedCtx  *goethkzg.Context
	sharedErr  error
)

// NewKZGVerifier returns a verifier backed by the embedded trusted setup.
// The first call takes a few seconds while the SRS points are processed.
func NewKZGVerifier() (*KZGVerifier, error) {
	sharedOnce.Do(func() {
		sharedCtx, sharedErr = goethkzg.NewContext4096Secure()
	})
	if sharedErr != nil {
		return nil, fmt.Errorf("kzg: failed to initialize go-eth-kzg context: %w", sharedErr)
	}
	return &KZGVerifier{ctx: sharedCtx}, nil
}

// Name returns a human-readable identifier for this backend.
func (v *KZGVerifier) Name() string { return "go-eth-kzg" }

// BlobToCommitment computes the commitment of blob.
func (v *KZGVerifier) BlobToCommitment(blob *kzg4844.Blob) (kzg4844.Commitment, error) {
	comm, err := v.ctx.BlobToKZGCommitment((*goethkzg.Blob)(blob), 0)
	if err != nil {
		return kzg4844.Commitment{}, fmt.Errorf("kzg: BlobToKZGCommitment failed: %w", err)
	}
	return kzg4844.Commitment(comm), nil
}

// ComputeBlobProof computes the blob proof for blob and its commitment.
func (v *KZGVerifier) ComputeBlobProof(blob *kzg4844.Blob, commitment kzg4844.Commitment) (kzg4844.Proof, error) {
	proof, err := v.ctx.ComputeBlobKZGProof((*goethkzg.Blob)(blob), goethkzg.KZGCommitment(commitment), 0)
	if err != nil {
		return kzg4844.Proof{}, fmt.Errorf("kzg: ComputeBlobKZGProof failed: %w", err)
	}
	return kzg4844.Proof(proof), nil
}

// VerifySidecar batch-verifies every blob proof of a transaction sidecar.
func (v *KZGVerifier) VerifySidecar(sc *types.BlobTxSidecar) error {
	n := len(sc.Blobs)
	if len(sc.Commitments) != n || len(sc.Proofs) != n {
		return fmt.Errorf("%w: %d blobs, %d commitments, %d proofs",
			ErrKZGSidecarShape, n, len(sc.Commitments), len(sc.Proofs))
	}
	if n == 0 {
		return nil
	}
	blobs := make([]*goethkzg.Blob, n)
	comms := make([]goethkzg.KZGCommitment, n)
	proofs := make([]goethkzg.KZGProof, n)
	for i := range sc.Blobs {
		blobs[i] = (*goethkzg.Blob)(&sc.Blobs[i])
		comms[i] = goethkzg.KZGCommitment(sc.Commitments[i])
		proofs[i] = goethkzg.KZGProof(sc.Proofs[i])
	}
	if err := v.ctx.VerifyBlobKZGProofBatch(blobs, comms, proofs); err != nil {
		return fmt.Errorf("%w: %v", ErrKZGInvalidProof, err)
	}
	return nil
}
