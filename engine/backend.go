package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/loadnetwork/load-el/core"
	"github.com/loadnetwork/load-el/log"
)

// Chain is the execution collaborator: it stores executed blocks and moves
// the canonical head.
type Chain interface {
	ForkchoiceWriter
	Config() *core.ChainConfig
	CurrentBlock() *types.Header
	GetBlock(hash common.Hash) *core.Block
	InsertBlock(block *core.Block) error
}

// TxSource supplies pending transactions to the builder. Blob transactions
// carry their sidecars.
type TxSource interface {
	Pending() []*types.Transaction
}

// HeadListener is implemented by a TxSource that wants to drop included
// transactions once a new head is persisted.
type HeadListener interface {
	NewHead(block *core.Block)
}

// Metrics receives Engine API observations.
type Metrics interface {
	RecordForkchoice(d time.Duration)
	RecordGetPayload(d time.Duration)
	RecordNewPayload(d time.Duration)
	RecordGetBlobs(hits, misses int)
	RecordBuild(outcome string)
}

type nopMetrics struct{}

func (nopMetrics) RecordForkchoice(time.Duration) {}
func (nopMetrics) RecordGetPayload(time.Duration) {}
func (nopMetrics) RecordNewPayload(time.Duration) {}
func (nopMetrics) RecordGetBlobs(int, int)        {}
func (nopMetrics) RecordBuild(string)             {}

// BackendConfig tunes the state machine.
type BackendConfig struct {
	// BuildTimeout bounds one payload build. Builds past the deadline are
	// abandoned.
	BuildTimeout time.Duration

	// PayloadCacheSize is the number of payload ids remembered for
	// engine_getPayload.
	PayloadCacheSize int

	PersistenceThreshold uint64
}

// DefaultBackendConfig returns the production defaults.
func DefaultBackendConfig() BackendConfig {
	return BackendConfig{
		BuildTimeout:         4 * time.Second,
		PayloadCacheSize:     10,
		PersistenceThreshold: core.DefaultPersistenceThreshold,
	}
}

type buildState uint8

const (
	stateBuilding buildState = iota
	stateReady
	stateAbandoned
	stateFailed
)

func (s buildState) String() string {
	switch s {
	case stateBuilding:
		return "building"
	case stateReady:
		return "ready"
	case stateAbandoned:
		return "abandoned"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// buildJob tracks one payload id. state, result and err are guarded by
// Backend.mu and final once done is closed.
type buildJob struct {
	id        PayloadID
	parent    common.Hash
	timestamp uint64
	cancel    context.CancelFunc
	done      chan struct{}

	state  buildState
	result *BuiltPayload
	err    error
}

// Backend is the Engine API state machine. It orders validation, building,
// persistence and blob lookups for every call.
type Backend struct {
	config  *core.ChainConfig
	chain   Chain
	pool    TxSource
	cache   *BlobCache
	builder *PayloadBuilder
	persist *PersistenceController
	metrics Metrics
	cfg     BackendConfig
	log     *log.Logger
	now     func() time.Time

	mu       sync.Mutex
	payloads *lru.Cache[PayloadID, *buildJob]
	current  *buildJob
}

// NewBackend wires the state machine. A nil metrics handle disables
// observation.
func NewBackend(chain Chain, pool TxSource, cache *BlobCache, m Metrics, cfg BackendConfig, logger *log.Logger) (*Backend, error) {
	if logger == nil {
		logger = log.Default()
	}
	if m == nil {
		m = nopMetrics{}
	}
	def := DefaultBackendConfig()
	if cfg.BuildTimeout <= 0 {
		cfg.BuildTimeout = def.BuildTimeout
	}
	if cfg.PayloadCacheSize <= 0 {
		cfg.PayloadCacheSize = def.PayloadCacheSize
	}
	persist, err := NewPersistenceController(chain, cfg.PersistenceThreshold, logger)
	if err != nil {
		return nil, err
	}
	payloads, err := lru.New[PayloadID, *buildJob](cfg.PayloadCacheSize)
	if err != nil {
		return nil, fmt.Errorf("payload cache: %w", err)
	}
	return &Backend{
		config:   chain.Config(),
		chain:    chain,
		pool:     pool,
		cache:    cache,
		builder:  NewPayloadBuilder(chain.Config(), cache, logger),
		persist:  persist,
		metrics:  m,
		cfg:      cfg,
		log:      logger.Module("engine"),
		now:      time.Now,
		payloads: payloads,
	}, nil
}

// Config returns the chain configuration the backend gates on.
func (b *Backend) Config() *core.ChainConfig { return b.config }

func (b *Backend) nowUnix() uint64 { return uint64(b.now().Unix()) }

func validStatus(hash common.Hash) PayloadStatusV1 {
	return PayloadStatusV1{Status: StatusValid, LatestValidHash: &hash}
}

func invalidStatus(latestValid *common.Hash, err error) PayloadStatusV1 {
	msg := err.Error()
	return PayloadStatusV1{Status: StatusInvalid, LatestValidHash: latestValid, ValidationError: &msg}
}

// ForkchoiceUpdated applies a forkchoice state and optionally starts a
// payload build. Invalid attributes are rejected before the state is
// persisted, so no build is started and no payload id is returned.
func (b *Backend) ForkchoiceUpdated(state ForkchoiceStateV1, attrs *PayloadAttributesV3) (ForkchoiceUpdatedResult, error) {
	start := time.Now()
	defer func() { b.metrics.RecordForkchoice(time.Since(start)) }()

	if attrs != nil {
		mv := MethodVersion{MethodForkchoiceUpdated, V3}
		if err := forkGate(b.config, mv, uint64(attrs.Timestamp), b.nowUnix()); err != nil {
			return ForkchoiceUpdatedResult{}, err
		}
	}
	if state.HeadBlockHash == (common.Hash{}) {
		return ForkchoiceUpdatedResult{PayloadStatus: PayloadStatusV1{Status: StatusInvalid}}, nil
	}
	head := b.chain.GetBlock(state.HeadBlockHash)
	if head == nil {
		b.log.Info("Forkchoice head unknown, syncing", "head", state.HeadBlockHash)
		return ForkchoiceUpdatedResult{PayloadStatus: PayloadStatusV1{Status: StatusSyncing}}, nil
	}
	if attrs != nil {
		if err := b.checkAttributes(head.Header, attrs); err != nil {
			b.log.Warn("Rejected payload attributes", "head", state.HeadBlockHash, "err", err)
			return ForkchoiceUpdatedResult{}, err
		}
	}
	prev := b.chain.CurrentBlock().Hash()
	if err := b.persist.OnForkchoiceUpdate(state); err != nil {
		return ForkchoiceUpdatedResult{}, err
	}
	if head.Hash() != prev {
		if l, ok := b.pool.(HeadListener); ok {
			l.NewHead(head)
		}
	}
	res := ForkchoiceUpdatedResult{PayloadStatus: validStatus(head.Hash())}
	if attrs == nil {
		b.mu.Lock()
		b.abandonBuildOff(head.Hash())
		b.mu.Unlock()
		return res, nil
	}
	id := b.startBuild(head.Header, attrs)
	res.PayloadID = &id
	return res, nil
}

// abandonBuildOff cancels the in-flight build unless it extends parent.
// Callers must hold b.mu.
func (b *Backend) abandonBuildOff(parent common.Hash) {
	cur := b.current
	if cur == nil || cur.state != stateBuilding || cur.parent == parent {
		return
	}
	b.log.Info("Abandoning payload build", "payload_id", cur.id, "parent", cur.parent, "new_parent", parent)
	cur.cancel()
}

func (b *Backend) checkAttributes(parent *types.Header, attrs *PayloadAttributesV3) error {
	if err := ValidateAttributes(b.config, attrs); err != nil {
		if errors.Is(err, ErrUnsupportedFork) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrInvalidPayloadAttributes, err)
	}
	switch {
	case attrs.Withdrawals == nil:
		return fmt.Errorf("%w: missing withdrawals", ErrInvalidPayloadAttributes)
	case attrs.ParentBeaconBlockRoot == nil:
		return fmt.Errorf("%w: missing beacon root", ErrInvalidPayloadAttributes)
	case uint64(attrs.Timestamp) <= parent.Time:
		return fmt.Errorf("%w: timestamp %d not after parent %d", ErrInvalidPayloadAttributes, uint64(attrs.Timestamp), parent.Time)
	}
	return nil
}

// startBuild returns the id of a live build for the same parent and
// attributes, or starts a new one. An in-flight build on a different
// parent is cancelled.
func (b *Backend) startBuild(parent *types.Header, attrs *PayloadAttributesV3) PayloadID {
	parentHash := parent.Hash()
	id := computePayloadID(parentHash, attrs)
	pending := b.pool.Pending()

	b.mu.Lock()
	defer b.mu.Unlock()
	if job, ok := b.payloads.Get(id); ok && (job.state == stateBuilding || job.state == stateReady) {
		return id
	}
	b.abandonBuildOff(parentHash)
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.BuildTimeout)
	job := &buildJob{
		id:        id,
		parent:    parentHash,
		timestamp: uint64(attrs.Timestamp),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	b.payloads.Add(id, job)
	b.current = job
	go b.runBuild(ctx, job, BuildArgs{Parent: parent, Attrs: attrs, Pending: pending})
	return id
}

func (b *Backend) runBuild(ctx context.Context, job *buildJob, args BuildArgs) {
	defer job.cancel()
	res, err := b.builder.Build(ctx, args)

	b.mu.Lock()
	switch {
	case err == nil:
		job.state, job.result = stateReady, res
	case errors.Is(err, ErrBuildAbandoned):
		job.state = stateAbandoned
	default:
		job.state, job.err = stateFailed, err
	}
	if b.current == job {
		b.current = nil
	}
	state := job.state
	b.mu.Unlock()
	close(job.done)

	b.metrics.RecordBuild(state.String())
	if err != nil {
		b.log.Warn("Payload build did not complete", "payload_id", job.id, "state", state, "err", err)
		return
	}
	b.log.Info("Payload ready", "payload_id", job.id, "number", res.Block.NumberU64(),
		"hash", res.Block.Hash(), "txs", len(res.Block.Transactions), "blobs", len(res.VersionedHashes))
}

// GetPayload returns the completed build for id, waiting for an in-flight
// build to finish. Abandoned and evicted ids are unknown.
func (b *Backend) GetPayload(ctx context.Context, version Version, id PayloadID) (*BuiltPayload, error) {
	start := time.Now()
	defer func() { b.metrics.RecordGetPayload(time.Since(start)) }()

	job, ok := b.payloads.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownPayload, id)
	}
	mv := MethodVersion{MethodGetPayload, version}
	if err := forkGate(b.config, mv, job.timestamp, b.nowUnix()); err != nil {
		return nil, err
	}
	select {
	case <-job.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	b.mu.Lock()
	state, res, err := job.state, job.result, job.err
	b.mu.Unlock()

	switch state {
	case stateAbandoned:
		return nil, fmt.Errorf("%w: %v was abandoned", ErrUnknownPayload, id)
	case stateFailed:
		return nil, fmt.Errorf("payload %v: %w", id, err)
	}
	return res, nil
}

// NewPayload validates a payload proposed by the consensus client and hands
// it to the chain. Validation failures are reported as INVALID statuses;
// only fork gating and malformed parameters fail the call.
func (b *Backend) NewPayload(version Version, payload *ExecutionPayloadV3, versionedHashes []common.Hash, beaconRoot *common.Hash, requests [][]byte) (PayloadStatusV1, error) {
	start := time.Now()
	defer func() { b.metrics.RecordNewPayload(time.Since(start)) }()

	mv := MethodVersion{MethodNewPayload, version}
	if err := forkGate(b.config, mv, uint64(payload.Timestamp), b.nowUnix()); err != nil {
		return PayloadStatusV1{}, err
	}
	if versionedHashes == nil {
		return PayloadStatusV1{}, fmt.Errorf("%w: nil versionedHashes", ErrInvalidParams)
	}
	if beaconRoot == nil {
		return PayloadStatusV1{}, fmt.Errorf("%w: nil parentBeaconBlockRoot", ErrInvalidParams)
	}

	var latestValid *common.Hash
	parent := b.chain.GetBlock(payload.ParentHash)
	if parent != nil {
		h := parent.Hash()
		latestValid = &h
	}
	// The block hash is recomputed from the payload body, so a known hash
	// only short-circuits once the body has passed every check.
	block, err := b.checkPayload(payload, versionedHashes, *beaconRoot, requests)
	if err != nil {
		b.log.Warn("Invalid payload", "number", uint64(payload.BlockNumber), "hash", payload.BlockHash, "err", err)
		return invalidStatus(latestValid, err), nil
	}
	if b.chain.GetBlock(payload.BlockHash) != nil {
		return validStatus(payload.BlockHash), nil
	}
	if parent == nil {
		b.log.Info("Payload parent unknown, syncing", "hash", payload.BlockHash, "parent", payload.ParentHash)
		return PayloadStatusV1{Status: StatusSyncing}, nil
	}
	if err := b.chain.InsertBlock(block); err != nil {
		b.log.Warn("Payload rejected by chain", "hash", payload.BlockHash, "err", err)
		return invalidStatus(latestValid, err), nil
	}
	b.log.Info("Accepted payload", "number", block.NumberU64(), "hash", payload.BlockHash,
		"txs", len(block.Transactions), "blobs", len(versionedHashes))
	return validStatus(payload.BlockHash), nil
}

// checkPayload runs every check that does not need the parent block.
func (b *Backend) checkPayload(payload *ExecutionPayloadV3, versionedHashes []common.Hash, beaconRoot common.Hash, requests [][]byte) (*core.Block, error) {
	if err := ValidatePayloadRandomness(payload); err != nil {
		return nil, err
	}
	raw := make([][]byte, len(payload.Transactions))
	for i, tx := range payload.Transactions {
		raw[i] = tx
	}
	txs, err := core.DecodeTransactions(raw)
	if err != nil {
		return nil, err
	}
	if err := ValidatePayloadBlobs(txs, versionedHashes); err != nil {
		return nil, err
	}
	if err := ValidateBlobConsistency(txs, versionedHashes, uint64(payload.BlobGasUsed)); err != nil {
		return nil, err
	}
	if err := ValidateRequests(b.config, uint64(payload.Timestamp), requests); err != nil {
		return nil, err
	}
	block, err := PayloadToBlock(payload, txs, beaconRoot, requests)
	if err != nil {
		return nil, err
	}
	if hash := block.Hash(); hash != payload.BlockHash {
		return nil, fmt.Errorf("%w: computed %v, payload %v", ErrInvalidBlockHash, hash, payload.BlockHash)
	}
	return block, nil
}

// GetBlobs serves blob lookups. V1 reads the cache; V2 and V3 are served
// only after Osaka and, since the cache holds only version-0 sidecars,
// report nothing available.
func (b *Backend) GetBlobs(version Version, hashes []common.Hash) ([]*BlobAndProofV1, error) {
	mv := MethodVersion{MethodGetBlobs, version}
	if err := forkGate(b.config, mv, 0, b.nowUnix()); err != nil {
		return nil, err
	}
	if len(hashes) > b.cache.MaxRequest() {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrBlobRequestTooLarge, len(hashes), b.cache.MaxRequest())
	}
	switch version {
	case V2:
		b.metrics.RecordGetBlobs(0, len(hashes))
		return nil, nil
	case V3:
		b.metrics.RecordGetBlobs(0, len(hashes))
		return make([]*BlobAndProofV1, len(hashes)), nil
	}
	lookups, err := b.cache.GetMany(hashes)
	if err != nil {
		return nil, err
	}
	out := make([]*BlobAndProofV1, len(lookups))
	hits := 0
	for i, l := range lookups {
		if l.Sidecar == nil {
			continue
		}
		out[i] = &BlobAndProofV1{Blob: l.Sidecar.Blob[:], Proof: l.Sidecar.Proof[:]}
		hits++
	}
	b.metrics.RecordGetBlobs(hits, len(hashes)-hits)
	return out, nil
}
