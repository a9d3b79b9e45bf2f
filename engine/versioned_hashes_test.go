package engine

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func TestVersionedHash(t *testing.T) {
	c := fakeCommitment(42)
	h := VersionedHash(c)
	sum := sha256.Sum256(c[:])
	if h[0] != VersionKZG {
		t.Fatalf("version byte = %#x", h[0])
	}
	if !bytes.Equal(h[1:], sum[1:]) {
		t.Fatal("hash body must be sha256(commitment)[1:]")
	}
	if !IsKZGVersionedHash(h) {
		t.Fatal("computed hash not recognised as KZG")
	}
	if IsKZGVersionedHash(common.Hash{0: 0x02}) {
		t.Fatal("version 0x02 recognised as KZG")
	}
}

func TestCheckVersionedHashes(t *testing.T) {
	tx1, tx2 := hashesOnlyTx(2), hashesOnlyTx(1)
	txs := types.Transactions{tx1, tx2}
	all := append(append([]common.Hash{}, tx1.BlobHashes()...), tx2.BlobHashes()...)

	if err := CheckVersionedHashes(txs, all); err != nil {
		t.Fatal(err)
	}
	if err := CheckVersionedHashes(txs, all[:2]); !errors.Is(err, ErrVHCountMismatch) {
		t.Fatalf("err = %v", err)
	}
	bad := append([]common.Hash{}, all...)
	bad[2][5] ^= 0xff
	if err := CheckVersionedHashes(txs, bad); !errors.Is(err, ErrVHHashMismatch) {
		t.Fatalf("err = %v", err)
	}
	v2 := types.NewTx(&types.BlobTx{BlobHashes: []common.Hash{{0: 0x02}}})
	if err := CheckVersionedHashes(types.Transactions{v2}, v2.BlobHashes()); !errors.Is(err, ErrVHInvalidVersion) {
		t.Fatalf("err = %v", err)
	}
}

func TestCheckSidecarHashes(t *testing.T) {
	sc := fakeSidecar(3, 2)
	hashes := []common.Hash{VersionedHash(sc.Commitments[0]), VersionedHash(sc.Commitments[1])}
	if err := CheckSidecarHashes(sc, hashes); err != nil {
		t.Fatal(err)
	}
	if err := CheckSidecarHashes(sc, hashes[:1]); !errors.Is(err, ErrVHCountMismatch) {
		t.Fatalf("err = %v", err)
	}
	hashes[0], hashes[1] = hashes[1], hashes[0]
	if err := CheckSidecarHashes(sc, hashes); !errors.Is(err, ErrVHHashMismatch) {
		t.Fatalf("err = %v", err)
	}
}
