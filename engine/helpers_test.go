package engine

import (
	"crypto/ecdsa"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/kzg4844"
	"github.com/holiman/uint256"

	"github.com/loadnetwork/load-el/core"
	"github.com/loadnetwork/load-el/core/rawdb"
	"github.com/loadnetwork/load-el/log"
)

const testChainID = 9496

var (
	testKey, _  = crypto.HexToECDSA("b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291")
	testKey2, _ = crypto.HexToECDSA("8a1f9a8f95be41cd7ccb6168179afb4504aefe388d1e14474d32c45c72ce7b7a")
	testRoot    = common.HexToHash("0xbeac0000000000000000000000000000000000000000000000000000000000ff")
)

// staticPool serves a fixed pending set.
type staticPool struct {
	mu  sync.Mutex
	txs []*types.Transaction
}

func (p *staticPool) Pending() []*types.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*types.Transaction(nil), p.txs...)
}

func (p *staticPool) set(txs ...*types.Transaction) {
	p.mu.Lock()
	p.txs = txs
	p.mu.Unlock()
}

// fakeCommitment returns a distinct 48-byte commitment. The cache and the
// builder only hash commitments, so no KZG setup is needed.
func fakeCommitment(seed uint64) kzg4844.Commitment {
	var c kzg4844.Commitment
	c[0] = 0xc0
	new(big.Int).SetUint64(seed).FillBytes(c[40:])
	return c
}

func fakeSidecar(seed uint64, n int) *types.BlobTxSidecar {
	sc := &types.BlobTxSidecar{
		Blobs:       make([]kzg4844.Blob, n),
		Commitments: make([]kzg4844.Commitment, n),
		Proofs:      make([]kzg4844.Proof, n),
	}
	for i := 0; i < n; i++ {
		id := seed*1000 + uint64(i)
		new(big.Int).SetUint64(id).FillBytes(sc.Blobs[i][:8])
		sc.Commitments[i] = fakeCommitment(id)
		sc.Proofs[i][0] = byte(i)
	}
	return sc
}

// blobTx signs a blob transaction carrying n blobs with a sidecar.
func blobTx(t *testing.T, key *ecdsa.PrivateKey, nonce uint64, n int, tip uint64) *types.Transaction {
	t.Helper()
	sc := fakeSidecar(nonce+uint64(key.D.Uint64()%1000)*100000, n)
	hashes := make([]common.Hash, n)
	for i, c := range sc.Commitments {
		hashes[i] = VersionedHash(c)
	}
	signer := types.LatestSignerForChainID(big.NewInt(testChainID))
	tx, err := types.SignNewTx(key, signer, &types.BlobTx{
		ChainID:    uint256.NewInt(testChainID),
		Nonce:      nonce,
		GasTipCap:  uint256.NewInt(tip),
		GasFeeCap:  uint256.NewInt(100 * 1e9),
		Gas:        21000,
		To:         common.Address{0x10},
		Value:      new(uint256.Int),
		BlobFeeCap: uint256.NewInt(1e9),
		BlobHashes: hashes,
		Sidecar:    sc,
	})
	if err != nil {
		t.Fatalf("sign blob tx: %v", err)
	}
	return tx
}

// plainTx signs a dynamic fee transfer.
func plainTx(t *testing.T, key *ecdsa.PrivateKey, nonce, gas, tip uint64) *types.Transaction {
	t.Helper()
	signer := types.LatestSignerForChainID(big.NewInt(testChainID))
	tx, err := types.SignNewTx(key, signer, &types.DynamicFeeTx{
		ChainID:   big.NewInt(testChainID),
		Nonce:     nonce,
		GasTipCap: new(big.Int).SetUint64(tip),
		GasFeeCap: big.NewInt(100 * 1e9),
		Gas:       gas,
		To:        &common.Address{0x20},
		Value:     big.NewInt(1),
	})
	if err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	return tx
}

type testEnv struct {
	config  *core.ChainConfig
	db      rawdb.Database
	chain   *core.BlockChain
	pool    *staticPool
	cache   *BlobCache
	backend *Backend
}

func newTestEnv(t *testing.T, config *core.ChainConfig) *testEnv {
	t.Helper()
	db := rawdb.NewMemoryDatabase()
	t.Cleanup(func() { db.Close() })
	return newTestEnvWithDB(t, config, db)
}

func newTestEnvWithDB(t *testing.T, config *core.ChainConfig, db rawdb.Database) *testEnv {
	t.Helper()
	if config == nil {
		config = core.DefaultChainConfig(testChainID)
	}
	genesis := core.NewGenesisHeader(config, 30_000_000, 0)
	chain, err := core.NewBlockChain(config, db, genesis, log.Discard())
	if err != nil {
		t.Fatalf("NewBlockChain: %v", err)
	}
	pool := new(staticPool)
	cache := NewBlobCache(DefaultBlobCacheConfig())
	backend, err := NewBackend(chain, pool, cache, nil, BackendConfig{BuildTimeout: 5 * time.Second}, log.Discard())
	if err != nil {
		t.Fatalf("NewBackend: %v", err)
	}
	return &testEnv{config: config, db: db, chain: chain, pool: pool, cache: cache, backend: backend}
}

func testAttrs(timestamp uint64) *PayloadAttributesV3 {
	root := testRoot
	return &PayloadAttributesV3{
		Timestamp:             hexutil.Uint64(timestamp),
		PrevRandao:            core.LoadPrevRandao,
		SuggestedFeeRecipient: common.Address{0xfe},
		Withdrawals:           []*types.Withdrawal{},
		ParentBeaconBlockRoot: &root,
	}
}

func headState(h common.Hash) ForkchoiceStateV1 {
	return ForkchoiceStateV1{HeadBlockHash: h, SafeBlockHash: h, FinalizedBlockHash: h}
}
