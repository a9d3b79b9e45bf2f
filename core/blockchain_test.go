package core

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/loadnetwork/load-el/core/rawdb"
	"github.com/loadnetwork/load-el/log"
)

func testChain(t *testing.T, db rawdb.Database) *BlockChain {
	t.Helper()
	config := DefaultChainConfig(9496)
	bc, err := NewBlockChain(config, db, NewGenesisHeader(config, LoadExecutionGasLimit, 0), log.Discard())
	if err != nil {
		t.Fatalf("NewBlockChain: %v", err)
	}
	return bc
}

// makeChild returns an empty child of parent, tagged with extra so siblings
// get distinct hashes.
func makeChild(parent *types.Header, extra byte) *Block {
	h := types.CopyHeader(parent)
	h.ParentHash = parent.Hash()
	h.Number = new(big.Int).Add(parent.Number, big.NewInt(1))
	h.Time = parent.Time + 1
	h.GasUsed = 0
	h.Extra = []byte{extra}
	h.BaseFee = CalcBaseFee(parent)
	return &Block{Header: h}
}

func TestBlockChain_Genesis(t *testing.T) {
	db := rawdb.NewMemoryDatabase()
	defer db.Close()
	bc := testChain(t, db)

	gen := bc.Genesis()
	if bc.CurrentBlock().Hash() != gen.Hash() {
		t.Fatalf("head = %v, want genesis %v", bc.CurrentBlock().Hash(), gen.Hash())
	}
	if bc.CurrentFinalBlock().Hash() != gen.Hash() {
		t.Fatal("finalized should start at genesis")
	}
	if gen.Header.MixDigest != LoadPrevRandao {
		t.Fatalf("genesis mixDigest = %v, want %v", gen.Header.MixDigest, LoadPrevRandao)
	}
	if got, ok := bc.GetCanonicalHash(0); !ok || got != gen.Hash() {
		t.Fatalf("canonical[0] = %v, %v", got, ok)
	}
}

func TestBlockChain_InsertBlock(t *testing.T) {
	db := rawdb.NewMemoryDatabase()
	defer db.Close()
	bc := testChain(t, db)

	b1 := makeChild(bc.Genesis().Header, 1)
	if err := bc.InsertBlock(b1); err != nil {
		t.Fatalf("InsertBlock: %v", err)
	}
	if !bc.HasBlock(b1.Hash()) {
		t.Fatal("block should be known after insert")
	}
	if bc.CurrentBlock().Hash() == b1.Hash() {
		t.Fatal("insert must not move the head")
	}
	// Re-inserting is a no-op.
	if err := bc.InsertBlock(b1); err != nil {
		t.Fatalf("re-insert: %v", err)
	}
}

func TestBlockChain_InsertBlockErrors(t *testing.T) {
	db := rawdb.NewMemoryDatabase()
	defer db.Close()
	bc := testChain(t, db)
	gen := bc.Genesis().Header

	orphan := makeChild(gen, 1)
	orphan.Header.ParentHash = common.Hash{0xde, 0xad}
	if err := bc.InsertBlock(orphan); !errors.Is(err, ErrUnknownParent) {
		t.Fatalf("want ErrUnknownParent, got %v", err)
	}

	badNum := makeChild(gen, 2)
	badNum.Header.Number = big.NewInt(5)
	if err := bc.InsertBlock(badNum); !errors.Is(err, ErrInvalidNumber) {
		t.Fatalf("want ErrInvalidNumber, got %v", err)
	}

	badTime := makeChild(gen, 3)
	badTime.Header.Time = gen.Time
	if err := bc.InsertBlock(badTime); !errors.Is(err, ErrInvalidTime) {
		t.Fatalf("want ErrInvalidTime, got %v", err)
	}

	overGas := makeChild(gen, 4)
	overGas.Header.GasUsed = overGas.Header.GasLimit + 1
	if err := bc.InsertBlock(overGas); !errors.Is(err, ErrGasLimitReached) {
		t.Fatalf("want ErrGasLimitReached, got %v", err)
	}
}

func TestBlockChain_SetForkchoiceReorg(t *testing.T) {
	db := rawdb.NewMemoryDatabase()
	defer db.Close()
	bc := testChain(t, db)
	gen := bc.Genesis().Header

	a1 := makeChild(gen, 0xa)
	a2 := makeChild(a1.Header, 0xa)
	b1 := makeChild(gen, 0xb)
	for _, b := range []*Block{a1, a2, b1} {
		if err := bc.InsertBlock(b); err != nil {
			t.Fatalf("InsertBlock: %v", err)
		}
	}

	if err := bc.SetForkchoice(a2.Hash(), a1.Hash(), gen.Hash()); err != nil {
		t.Fatalf("SetForkchoice(a2): %v", err)
	}
	if bc.CurrentBlock().Hash() != a2.Hash() || bc.CurrentSafeBlock().Hash() != a1.Hash() {
		t.Fatal("pointers not updated")
	}
	if h, _ := bc.GetCanonicalHash(1); h != a1.Hash() {
		t.Fatalf("canonical[1] = %v, want a1", h)
	}

	// Reorg to the shorter sibling branch.
	if err := bc.SetForkchoice(b1.Hash(), common.Hash{}, common.Hash{}); err != nil {
		t.Fatalf("SetForkchoice(b1): %v", err)
	}
	if h, _ := bc.GetCanonicalHash(1); h != b1.Hash() {
		t.Fatalf("canonical[1] = %v, want b1", h)
	}
	if _, ok := bc.GetCanonicalHash(2); ok {
		t.Fatal("canonical[2] should be dropped after reorg")
	}
	if bc.CurrentSafeBlock().Hash() != a1.Hash() {
		t.Fatal("zero safe hash should keep the previous pointer")
	}
}

func TestBlockChain_SetForkchoiceUnknown(t *testing.T) {
	db := rawdb.NewMemoryDatabase()
	defer db.Close()
	bc := testChain(t, db)

	if err := bc.SetForkchoice(common.Hash{1}, common.Hash{}, common.Hash{}); !errors.Is(err, ErrBlockNotFound) {
		t.Fatalf("want ErrBlockNotFound, got %v", err)
	}
	if bc.CurrentBlock().Hash() != bc.Genesis().Hash() {
		t.Fatal("failed forkchoice must not move the head")
	}
}

func TestBlockChain_ReopenRestoresHead(t *testing.T) {
	dir := t.TempDir()
	db, err := rawdb.NewPebbleDB(dir, rawdb.DefaultPebbleConfig())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	bc := testChain(t, db)
	b1 := makeChild(bc.Genesis().Header, 1)
	b2 := makeChild(b1.Header, 1)
	for _, b := range []*Block{b1, b2} {
		if err := bc.InsertBlock(b); err != nil {
			t.Fatalf("InsertBlock: %v", err)
		}
	}
	if err := bc.SetForkchoice(b2.Hash(), b1.Hash(), b1.Hash()); err != nil {
		t.Fatalf("SetForkchoice: %v", err)
	}
	db.Close()

	db, err = rawdb.NewPebbleDB(dir, rawdb.DefaultPebbleConfig())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	bc = testChain(t, db)
	if bc.CurrentBlock().Hash() != b2.Hash() {
		t.Fatalf("head after restart = %v, want %v", bc.CurrentBlock().Hash(), b2.Hash())
	}
	if bc.CurrentFinalBlock().Hash() != b1.Hash() {
		t.Fatalf("finalized after restart = %v, want %v", bc.CurrentFinalBlock().Hash(), b1.Hash())
	}
}

func TestBlockChain_GenesisMismatch(t *testing.T) {
	db := rawdb.NewMemoryDatabase()
	defer db.Close()
	testChain(t, db)

	config := DefaultChainConfig(9496)
	other := NewGenesisHeader(config, LoadExecutionGasLimit, 7)
	if _, err := NewBlockChain(config, db, other, log.Discard()); !errors.Is(err, ErrGenesisMismatch) {
		t.Fatalf("want ErrGenesisMismatch, got %v", err)
	}
}

func TestBlockChain_BlockCacheBounded(t *testing.T) {
	db := rawdb.NewMemoryDatabase()
	defer db.Close()
	bc := testChain(t, db)

	blocks := []*Block{bc.Genesis()}
	parent := bc.Genesis().Header
	for i := 0; i < 2*blockCacheSize; i++ {
		b := makeChild(parent, 0)
		if err := bc.InsertBlock(b); err != nil {
			t.Fatalf("InsertBlock %d: %v", i, err)
		}
		blocks = append(blocks, b)
		parent = b.Header
	}
	if n := bc.blockCache.Len(); n > blockCacheSize {
		t.Fatalf("cache holds %d blocks, limit %d", n, blockCacheSize)
	}
	// Evicted blocks are still served from the database.
	if bc.blockCache.Contains(blocks[1].Hash()) {
		t.Fatal("oldest block should have been evicted")
	}
	got := bc.GetBlock(blocks[1].Hash())
	if got == nil || got.Hash() != blocks[1].Hash() {
		t.Fatal("evicted block not readable from the database")
	}
	if err := bc.SetForkchoice(parent.Hash(), common.Hash{}, common.Hash{}); err != nil {
		t.Fatalf("SetForkchoice over evicted ancestors: %v", err)
	}
	if h, ok := bc.GetCanonicalHash(1); !ok || h != blocks[1].Hash() {
		t.Fatalf("canonical[1] = %v, %v", h, ok)
	}
}
