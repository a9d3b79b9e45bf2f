package core

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/loadnetwork/load-el/core/rawdb"
	"github.com/loadnetwork/load-el/log"
)

// blockCacheSize bounds the decoded blocks kept in memory. Blocks carry no
// sidecars, so this stays small even for full blob blocks.
const blockCacheSize = 256

var (
	ErrNoGenesis       = errors.New("genesis header not provided")
	ErrBlockNotFound   = errors.New("block not found")
	ErrUnknownParent   = errors.New("unknown parent")
	ErrInvalidNumber   = errors.New("block number does not follow parent")
	ErrInvalidTime     = errors.New("block timestamp not after parent")
	ErrGasLimitReached = errors.New("gas used exceeds gas limit")
	ErrGenesisMismatch = errors.New("stored genesis does not match configured genesis")
)

// BlockChain is the execution collaborator seen by the Engine API: it
// accepts executed blocks, tracks the forkchoice pointers, and writes both
// through to the database. EVM execution happens upstream of InsertBlock.
type BlockChain struct {
	mu     sync.RWMutex
	config *ChainConfig
	db     rawdb.Database
	log    *log.Logger

	// Recently used blocks. Misses fall back to the database.
	blockCache *lru.Cache[common.Hash, *Block]

	genesis   *Block
	head      *Block
	safe      *Block
	finalized *Block
}

// NewBlockChain opens the chain stored in db. An empty database is
// initialised with the given genesis header; a populated one must hold the
// same genesis and resumes from its persisted forkchoice pointers.
func NewBlockChain(config *ChainConfig, db rawdb.Database, genesis *types.Header, logger *log.Logger) (*BlockChain, error) {
	if genesis == nil {
		return nil, ErrNoGenesis
	}
	if logger == nil {
		logger = log.Default()
	}
	cache, err := lru.New[common.Hash, *Block](blockCacheSize)
	if err != nil {
		return nil, err
	}
	bc := &BlockChain{
		config:     config,
		db:         db,
		log:        logger.Module("chain"),
		blockCache: cache,
	}
	gen := &Block{Header: genesis}
	bc.genesis = gen

	stored, err := rawdb.ReadCanonicalHash(db, 0)
	switch {
	case errors.Is(err, rawdb.ErrNotFound):
		if err := bc.writeGenesis(gen); err != nil {
			return nil, err
		}
		bc.log.Info("Initialised genesis", "hash", gen.Hash())
		return bc, nil
	case err != nil:
		return nil, fmt.Errorf("read genesis hash: %w", err)
	}
	if common.Hash(stored) != gen.Hash() {
		return nil, fmt.Errorf("%w: have %x, want %x", ErrGenesisMismatch, stored, gen.Hash())
	}
	bc.blockCache.Add(gen.Hash(), gen)
	if err := bc.loadPointers(); err != nil {
		return nil, err
	}
	bc.log.Info("Loaded chain", "head", bc.head.Hash(), "number", bc.head.NumberU64(),
		"finalized", bc.finalized.Hash())
	return bc, nil
}

func (bc *BlockChain) writeGenesis(gen *Block) error {
	enc, err := encodeBlock(gen)
	if err != nil {
		return err
	}
	hash := gen.Hash()
	batch := bc.db.NewBatch()
	rawdb.WriteBlock(batch, 0, hash, enc)
	rawdb.WriteCanonicalHash(batch, 0, hash)
	rawdb.WriteHeadBlockHash(batch, hash)
	rawdb.WriteSafeBlockHash(batch, hash)
	rawdb.WriteFinalizedBlockHash(batch, hash)
	if err := batch.Write(); err != nil {
		return fmt.Errorf("write genesis: %w", err)
	}
	bc.blockCache.Add(hash, gen)
	bc.head, bc.safe, bc.finalized = gen, gen, gen
	return nil
}

func (bc *BlockChain) loadPointers() error {
	load := func(read func(rawdb.KeyValueReader) ([32]byte, error), name string) (*Block, error) {
		hash, err := read(bc.db)
		if err != nil {
			return nil, fmt.Errorf("read %s pointer: %w", name, err)
		}
		b := bc.getBlock(hash)
		if b == nil {
			return nil, fmt.Errorf("%w: %s block %x", ErrBlockNotFound, name, hash)
		}
		return b, nil
	}
	var err error
	if bc.head, err = load(rawdb.ReadHeadBlockHash, "head"); err != nil {
		return err
	}
	if bc.safe, err = load(rawdb.ReadSafeBlockHash, "safe"); err != nil {
		return err
	}
	bc.finalized, err = load(rawdb.ReadFinalizedBlockHash, "finalized")
	return err
}

// InsertBlock validates a block against its parent and stores it. It does
// not move the head; only SetForkchoice does.
func (bc *BlockChain) InsertBlock(block *Block) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	hash := block.Hash()
	if bc.getBlock(hash) != nil {
		return nil
	}
	header := block.Header
	parent := bc.getBlock(header.ParentHash)
	if parent == nil {
		return fmt.Errorf("%w: %v", ErrUnknownParent, header.ParentHash)
	}
	if header.Number.Uint64() != parent.NumberU64()+1 {
		return fmt.Errorf("%w: parent %d, block %d", ErrInvalidNumber, parent.NumberU64(), header.Number)
	}
	if header.Time <= parent.Header.Time {
		return fmt.Errorf("%w: parent %d, block %d", ErrInvalidTime, parent.Header.Time, header.Time)
	}
	if header.GasUsed > header.GasLimit {
		return fmt.Errorf("%w: used %d, limit %d", ErrGasLimitReached, header.GasUsed, header.GasLimit)
	}

	enc, err := encodeBlock(block)
	if err != nil {
		return fmt.Errorf("encode block %d: %w", block.NumberU64(), err)
	}
	if err := rawdb.WriteBlock(bc.db, block.NumberU64(), hash, enc); err != nil {
		return fmt.Errorf("write block %d: %w", block.NumberU64(), err)
	}
	bc.blockCache.Add(hash, block)
	bc.log.Debug("Inserted block", "number", block.NumberU64(), "hash", hash, "txs", len(block.Transactions))
	return nil
}

// SetForkchoice makes head canonical and records the safe and finalized
// pointers. The update is committed with one synced batch before the
// in-memory pointers move, so a failed write leaves the chain unchanged.
// A zero safe or finalized hash keeps the previous pointer.
func (bc *BlockChain) SetForkchoice(head, safe, finalized common.Hash) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	headBlock := bc.getBlock(head)
	if headBlock == nil {
		return fmt.Errorf("%w: head %v", ErrBlockNotFound, head)
	}
	safeBlock, finalBlock := bc.safe, bc.finalized
	if safe != (common.Hash{}) {
		if safeBlock = bc.getBlock(safe); safeBlock == nil {
			return fmt.Errorf("%w: safe %v", ErrBlockNotFound, safe)
		}
	}
	if finalized != (common.Hash{}) {
		if finalBlock = bc.getBlock(finalized); finalBlock == nil {
			return fmt.Errorf("%w: finalized %v", ErrBlockNotFound, finalized)
		}
	}

	batch := bc.db.NewBatch()
	// Rewrite the canonical index from the new head back to the first
	// ancestor that is already canonical, then drop stale entries above it.
	for b := headBlock; b != nil; b = bc.getBlock(b.Header.ParentHash) {
		num := b.NumberU64()
		if stored, err := rawdb.ReadCanonicalHash(bc.db, num); err == nil && common.Hash(stored) == b.Hash() {
			break
		}
		rawdb.WriteCanonicalHash(batch, num, b.Hash())
		if num == 0 {
			break
		}
	}
	for n := headBlock.NumberU64() + 1; n <= bc.head.NumberU64(); n++ {
		rawdb.DeleteCanonicalHash(batch, n)
	}
	rawdb.WriteHeadBlockHash(batch, headBlock.Hash())
	rawdb.WriteSafeBlockHash(batch, safeBlock.Hash())
	rawdb.WriteFinalizedBlockHash(batch, finalBlock.Hash())
	if err := batch.Write(); err != nil {
		return fmt.Errorf("commit forkchoice: %w", err)
	}

	bc.head, bc.safe, bc.finalized = headBlock, safeBlock, finalBlock
	return nil
}

// getBlock looks a block up in the cache, then the database. Callers must
// hold bc.mu.
func (bc *BlockChain) getBlock(hash common.Hash) *Block {
	if b, ok := bc.blockCache.Get(hash); ok {
		return b
	}
	data, err := rawdb.ReadBlock(bc.db, hash)
	if err != nil {
		return nil
	}
	b, err := decodeBlock(data)
	if err != nil {
		bc.log.Error("Corrupt block record", "hash", hash, "err", err)
		return nil
	}
	bc.blockCache.Add(hash, b)
	return b
}

// GetBlock retrieves a block by hash, or nil if not found.
func (bc *BlockChain) GetBlock(hash common.Hash) *Block {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.getBlock(hash)
}

// GetHeader retrieves a header by hash, or nil if not found.
func (bc *BlockChain) GetHeader(hash common.Hash) *types.Header {
	if b := bc.GetBlock(hash); b != nil {
		return b.Header
	}
	return nil
}

// HasBlock checks if a block with the given hash exists.
func (bc *BlockChain) HasBlock(hash common.Hash) bool {
	return bc.GetBlock(hash) != nil
}

// GetCanonicalHash returns the canonical hash at number.
func (bc *BlockChain) GetCanonicalHash(number uint64) (common.Hash, bool) {
	hash, err := rawdb.ReadCanonicalHash(bc.db, number)
	if err != nil {
		return common.Hash{}, false
	}
	return hash, true
}

// CurrentBlock returns the head of the canonical chain.
func (bc *BlockChain) CurrentBlock() *types.Header {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.head.Header
}

// CurrentSafeBlock returns the latest safe block header.
func (bc *BlockChain) CurrentSafeBlock() *types.Header {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.safe.Header
}

// CurrentFinalBlock returns the latest finalized block header.
func (bc *BlockChain) CurrentFinalBlock() *types.Header {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.finalized.Header
}

// Genesis returns the genesis block.
func (bc *BlockChain) Genesis() *Block {
	return bc.genesis
}

// Config returns the chain configuration.
func (bc *BlockChain) Config() *ChainConfig {
	return bc.config
}
