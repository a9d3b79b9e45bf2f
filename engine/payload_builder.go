package engine

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/loadnetwork/load-el/core"
	"github.com/loadnetwork/load-el/log"
)

// builderExtra is stamped into the extra data of every built block.
var builderExtra = []byte("load-el")

// BuildArgs is the input of one payload build.
type BuildArgs struct {
	Parent  *types.Header
	Attrs   *PayloadAttributesV3
	Pending []*types.Transaction
}

// BuiltPayload holds the result of a payload build process.
type BuiltPayload struct {
	Block           *core.Block
	Payload         *ExecutionPayloadV3
	BlobsBundle     *BlobsBundleV1
	VersionedHashes []common.Hash
	BlockValue      *uint256.Int

	// Requests is nil before Prague and the empty list after.
	Requests [][]byte
}

// Skip reasons reported in build logs.
const (
	skipGas       = "gas"
	skipBlobsTx   = "blobs_per_tx"
	skipBlobsBlk  = "blobs_per_block"
	skipSidecar   = "sidecar"
	skipBlobPrice = "blob_fee"
)

// PayloadBuilder assembles execution payloads from pending transactions
// under the Load blob caps. EVM execution is left to the chain collaborator,
// so gas is accounted at each transaction's gas limit and the state root is
// carried over from the parent.
type PayloadBuilder struct {
	config *core.ChainConfig
	cache  *BlobCache
	signer types.Signer
	log    *log.Logger
}

// NewPayloadBuilder creates a builder that publishes sidecars into cache.
func NewPayloadBuilder(config *core.ChainConfig, cache *BlobCache, logger *log.Logger) *PayloadBuilder {
	if logger == nil {
		logger = log.Default()
	}
	return &PayloadBuilder{
		config: config,
		cache:  cache,
		signer: types.LatestSignerForChainID(config.ChainID),
		log:    logger.Module("builder"),
	}
}

// blockBlobCap returns the effective per-block cap for attrs.
func blockBlobCap(attrs *PayloadAttributesV3) int {
	if attrs.MaxBlobCount == nil || uint64(*attrs.MaxBlobCount) >= core.LoadMaxBlobCount {
		return core.LoadMaxBlobCount
	}
	return int(*attrs.MaxBlobCount)
}

// Build assembles a payload. The context is checked before every
// transaction; once it is done the build returns ErrBuildAbandoned and
// publishes no payload. Sidecars of transactions already included stay in
// the cache.
func (b *PayloadBuilder) Build(ctx context.Context, args BuildArgs) (*BuiltPayload, error) {
	parent, attrs := args.Parent, args.Attrs
	timestamp := uint64(attrs.Timestamp)
	if timestamp <= parent.Time {
		return nil, fmt.Errorf("%w: timestamp %d not after parent %d", ErrInvalidPayloadAttributes, timestamp, parent.Time)
	}

	var (
		sched         = b.config.BlobScheduleAt(timestamp)
		excessBlobGas = core.CalcExcessBlobGasForHeader(parent, sched)
		blobBaseFee   = core.CalcBlobBaseFee(excessBlobGas, sched)
		baseFee       = core.CalcBaseFee(parent)
		gasLimit      = parent.GasLimit
		blobCap       = blockBlobCap(attrs)
	)

	var (
		included  []*types.Transaction
		hashes    = []common.Hash{}
		bundle    = &BlobsBundleV1{Commitments: []hexutil.Bytes{}, Proofs: []hexutil.Bytes{}, Blobs: []hexutil.Bytes{}}
		gasUsed   uint64
		blobCount int
		value     = new(uint256.Int)
		skipped   = make(map[string]int)
	)
	txs := newTxsByTipAndNonce(b.signer, args.Pending, baseFee)
	for cand := txs.Peek(); cand != nil; cand = txs.Peek() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBuildAbandoned, err)
		}
		tx := cand.tx
		if tx.Gas() > gasLimit-gasUsed {
			skipped[skipGas]++
			txs.Pop()
			continue
		}
		n := len(tx.BlobHashes())
		if n > 0 {
			if reason := b.checkBlobTx(tx, n, blobCount, blobCap, blobBaseFee); reason != "" {
				skipped[reason]++
				txs.Pop()
				continue
			}
			sidecars := sidecarsOf(tx)
			b.cache.PutMany(sidecars)
			for _, s := range sidecars {
				hashes = append(hashes, s.VersionedHash)
				bundle.Blobs = append(bundle.Blobs, s.Blob[:])
				bundle.Commitments = append(bundle.Commitments, s.Commitment[:])
				bundle.Proofs = append(bundle.Proofs, s.Proof[:])
			}
			blobCount += n
		}
		included = append(included, tx.WithoutBlobTxSidecar())
		gasUsed += tx.Gas()

		fees, overflow := new(uint256.Int).MulOverflow(uint256.MustFromBig(cand.tip), uint256.NewInt(tx.Gas()))
		if !overflow {
			value.Add(value, fees)
		}
		txs.Shift()
	}

	raw := make([][]byte, len(included))
	for i, tx := range included {
		enc, err := tx.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("encode tx %v: %w", tx.Hash(), err)
		}
		raw[i] = enc
	}
	withdrawals := attrs.Withdrawals
	if withdrawals == nil {
		withdrawals = []*types.Withdrawal{}
	}
	var (
		withdrawalsRoot = core.WithdrawalsRoot(withdrawals)
		blobGasUsed     = uint64(blobCount) * core.GasPerBlob
		beaconRoot      common.Hash
	)
	if attrs.ParentBeaconBlockRoot != nil {
		beaconRoot = *attrs.ParentBeaconBlockRoot
	}
	header := &types.Header{
		ParentHash:       parent.Hash(),
		UncleHash:        types.EmptyUncleHash,
		Coinbase:         attrs.SuggestedFeeRecipient,
		Root:             parent.Root,
		TxHash:           core.TransactionsRoot(included),
		ReceiptHash:      types.EmptyReceiptsHash,
		Difficulty:       new(big.Int),
		Number:           new(big.Int).Add(parent.Number, common.Big1),
		GasLimit:         gasLimit,
		GasUsed:          gasUsed,
		Time:             timestamp,
		Extra:            builderExtra,
		MixDigest:        core.LoadPrevRandao,
		BaseFee:          baseFee,
		WithdrawalsHash:  &withdrawalsRoot,
		BlobGasUsed:      &blobGasUsed,
		ExcessBlobGas:    &excessBlobGas,
		ParentBeaconRoot: &beaconRoot,
	}
	var requests [][]byte
	if b.config.IsPrague(timestamp) {
		requests = [][]byte{}
		h := types.EmptyRequestsHash
		header.RequestsHash = &h
	}

	block := &core.Block{Header: header, Transactions: raw, Withdrawals: withdrawals}
	b.log.Debug("Built payload", "number", block.NumberU64(), "hash", block.Hash(),
		"txs", len(raw), "blobs", blobCount, "gas", gasUsed, "skipped", skipped)
	return &BuiltPayload{
		Block:           block,
		Payload:         BlockToPayload(block),
		BlobsBundle:     bundle,
		VersionedHashes: hashes,
		BlockValue:      value,
		Requests:        requests,
	}, nil
}

// checkBlobTx returns the reason a blob transaction cannot join the block,
// or "" if it can.
func (b *PayloadBuilder) checkBlobTx(tx *types.Transaction, n, blobCount, blobCap int, blobBaseFee *uint256.Int) string {
	if n > core.LoadMaxBlobsPerTx {
		return skipBlobsTx
	}
	if blobCount+n > blobCap {
		return skipBlobsBlk
	}
	sc := tx.BlobTxSidecar()
	if sc == nil || len(sc.Blobs) != n || len(sc.Proofs) != n {
		return skipSidecar
	}
	if err := CheckSidecarHashes(sc, tx.BlobHashes()); err != nil {
		return skipSidecar
	}
	if feeCap, overflow := uint256.FromBig(tx.BlobGasFeeCap()); !overflow && feeCap.Lt(blobBaseFee) {
		return skipBlobPrice
	}
	return ""
}

// sidecarsOf splits the sidecar of a blob transaction into cache entries.
// The caller has checked the sidecar with CheckSidecarHashes.
func sidecarsOf(tx *types.Transaction) []*BlobSidecar {
	sc := tx.BlobTxSidecar()
	hashes := tx.BlobHashes()
	out := make([]*BlobSidecar, len(hashes))
	for i, h := range hashes {
		out[i] = &BlobSidecar{
			VersionedHash: h,
			Blob:          &sc.Blobs[i],
			Commitment:    sc.Commitments[i],
			Proof:         sc.Proofs[i],
		}
	}
	return out
}
