package rawdb

import "encoding/binary"

// Key prefixes for the database schema.
// Following go-ethereum's prefix-based approach to avoid key collisions.
var (
	blockPrefix       = []byte("b") // b + hash -> block record RLP
	blockNumberPrefix = []byte("H") // H + hash -> num (8 bytes BE)
	canonicalPrefix   = []byte("c") // c + num (8 bytes BE) -> canonical hash

	headBlockKey      = []byte("LastBlock")
	safeBlockKey      = []byte("LastSafe")
	finalizedBlockKey = []byte("LastFinalized")
)

// encodeBlockNumber encodes a block number as an 8-byte big-endian value.
func encodeBlockNumber(number uint64) []byte {
	enc := make([]byte, 8)
	binary.BigEndian.PutUint64(enc, number)
	return enc
}

// blockKey = blockPrefix + hash
func blockKey(hash [32]byte) []byte {
	return append(append([]byte{}, blockPrefix...), hash[:]...)
}

// blockNumberKey = blockNumberPrefix + hash
func blockNumberKey(hash [32]byte) []byte {
	return append(append([]byte{}, blockNumberPrefix...), hash[:]...)
}

// canonicalKey = canonicalPrefix + num
func canonicalKey(number uint64) []byte {
	return append(append([]byte{}, canonicalPrefix...), encodeBlockNumber(number)...)
}
